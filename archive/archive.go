// Package archive keeps the raw bodies of provider webhooks in S3 for audits
// and replays.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Archiver interface {
	Archive(ctx context.Context, provider, reference string, body []byte) (string, error)
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type S3Archiver struct {
	bucket   string
	uploader uploader
	now      func() time.Time
}

// NewS3Archiver uses the default AWS credential chain.
func NewS3Archiver(ctx context.Context, bucket string) (*S3Archiver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	return &S3Archiver{
		bucket:   bucket,
		uploader: manager.NewUploader(s3.NewFromConfig(cfg)),
		now:      time.Now,
	}, nil
}

// Archive stores body under webhooks/<provider>/<yyyy>/<mm>/<dd>/ and returns the object key.
func (a *S3Archiver) Archive(ctx context.Context, provider, reference string, body []byte) (string, error) {
	now := a.now().UTC()
	if reference == "" {
		reference = "unmatched"
	}
	key := fmt.Sprintf("webhooks/%s/%s/%s-%s.json",
		provider, now.Format("2006/01/02"), now.Format("150405.000000"), sanitize(reference))

	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive webhook %s: %w", key, err)
	}
	return key, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

type Nop struct{}

func (Nop) Archive(context.Context, string, string, []byte) (string, error) { return "", nil }

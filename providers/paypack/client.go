// Package paypack is the Paypack adapter for MTN and Airtel Rwanda cash-in.
package paypack

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/payments"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const Name = "paypack"

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type Client struct {
	http   *resty.Client
	cfg    Config
	now    func() time.Time
	mu     sync.Mutex
	token  string
	expiry time.Time
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://payments.paypack.rw/api"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: client, cfg: cfg, now: time.Now}
}

func (c *Client) Name() string { return Name }

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Expires int64  `json:"expires"`
}

type apiError struct {
	Message string `json:"message"`
}

// accessToken returns the cached agent token, authorizing again shortly
// before it expires.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiry) {
		return c.token, nil
	}

	var (
		tok  tokenResponse
		fail apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"client_id": c.cfg.ClientID, "client_secret": c.cfg.ClientSecret}).
		SetResult(&tok).
		SetError(&fail).
		Post("/auth/agents/authorize")
	if err != nil {
		return "", fmt.Errorf("paypack authorize: %w", err)
	}
	if resp.IsError() || tok.Access == "" {
		return "", fmt.Errorf("paypack authorize failed with status %d: %s", resp.StatusCode(), fail.Message)
	}

	ttl := 10 * time.Minute
	if tok.Expires > 0 {
		ttl = time.Until(time.Unix(tok.Expires, 0))
	}
	c.token = tok.Access
	c.expiry = c.now().Add(ttl - 30*time.Second)
	return c.token, nil
}

type transaction struct {
	Amount    float64 `json:"amount"`
	Client    string  `json:"client"`
	Kind      string  `json:"kind"`
	Ref       string  `json:"ref"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
}

func (c *Client) InitiateMobileMoney(ctx context.Context, req payments.MobileMoneyRequest) (*payments.ProviderResponse, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var (
		txn  transaction
		fail apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Idempotency-Key", req.Reference).
		SetBody(map[string]any{"amount": req.Amount.InexactFloat64(), "number": req.Phone}).
		SetResult(&txn).
		SetError(&fail).
		Post("/transactions/cashin")
	if err != nil {
		return nil, fmt.Errorf("paypack cashin: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("paypack cashin failed with status %d: %s", resp.StatusCode(), fail.Message)
	}
	return &payments.ProviderResponse{
		Status:            NormalizeStatus(txn.Status),
		ProviderReference: txn.Ref,
		TransactionID:     txn.Ref,
		Message:           "Dial *182*7*1# to approve if no prompt appears",
	}, nil
}

func (c *Client) VerifyTransaction(ctx context.Context, ref string) (*payments.Verification, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var (
		txn  transaction
		fail apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&txn).
		SetError(&fail).
		Get("/transactions/find/" + ref)
	if err != nil {
		return nil, fmt.Errorf("paypack find: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("paypack find failed with status %d: %s", resp.StatusCode(), fail.Message)
	}
	return &payments.Verification{
		Status:            NormalizeStatus(txn.Status),
		ProviderReference: txn.Ref,
		TransactionID:     txn.Ref,
		Currency:          "RWF",
		Amount:            decimal.NewFromFloat(txn.Amount),
	}, nil
}

// NormalizeStatus maps Paypack transaction statuses.
func NormalizeStatus(s string) payments.Status {
	switch strings.ToLower(s) {
	case "successful", "success":
		return payments.StatusSuccessful
	case "failed":
		return payments.StatusFailed
	default:
		return payments.StatusPending
	}
}

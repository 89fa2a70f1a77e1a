package utils

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReference(t *testing.T) {
	a := NewReference(OrderReferencePrefix)
	b := NewReference(OrderReferencePrefix)
	assert.True(t, strings.HasPrefix(a, "ORD_"))
	assert.Len(t, a, len("ORD_")+24)
	assert.NotEqual(t, a, b)
}

func TestRetryTransientStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := RetryTransient(context.Background(), 5, func() error {
		calls++
		return apperr.Validation("bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestRetryTransientRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := RetryTransient(context.Background(), 5, func() error {
		calls++
		if calls < 3 {
			return apperr.Wrap(apperr.CodeTransient, errors.New("deadlock"), "update order")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestCardCipher(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	c, err := NewCardCipher(key)
	require.NoError(t, err)

	sealed, err := c.Encrypt("5531886652142950")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "5531886652142950")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "5531886652142950", plain)

	_, err = NewCardCipher(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

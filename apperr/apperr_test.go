package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("checkout: %w", New(CodeInsufficientStock, "not enough maize"))
	assert.Equal(t, CodeInsufficientStock, CodeOf(err))
	assert.True(t, Is(err, CodeInsufficientStock))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.False(t, Is(nil, CodeInternal))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:        http.StatusBadRequest,
		CodeInsufficientFunds: http.StatusBadRequest,
		CodeInvalidTransition: http.StatusBadRequest,
		CodeNotFound:          http.StatusNotFound,
		CodeOwnership:         http.StatusForbidden,
		CodeTransient:         http.StatusServiceUnavailable,
		CodeInternal:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), code)
	}
}

func TestFromDB(t *testing.T) {
	assert.True(t, Is(FromDB(gorm.ErrRecordNotFound, "load order"), CodeNotFound))
	assert.True(t, Is(FromDB(&mysql.MySQLError{Number: 1213}, "debit"), CodeTransient))
	assert.True(t, Is(FromDB(&mysql.MySQLError{Number: 1062}, "insert"), CodeConflict))
	assert.True(t, Is(FromDB(context.DeadlineExceeded, "update"), CodeTransient))
	assert.True(t, Is(FromDB(errors.New("syntax"), "query"), CodeInternal))
	assert.NoError(t, FromDB(nil, "noop"))

	coded := New(CodeValidation, "bad")
	assert.Same(t, coded, FromDB(coded, "ignored"))
}

func TestPublicMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "Internal server error", PublicMessage(Wrap(CodeInternal, errors.New("dsn leaked"), "query")))
	assert.Equal(t, "cart is empty", PublicMessage(Validation("cart is empty")))
}

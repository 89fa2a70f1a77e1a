package apperr

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

type Code string

const (
	CodeValidation        Code = "VALIDATION"
	CodeNotFound          Code = "NOT_FOUND"
	CodeOwnership         Code = "FORBIDDEN_OWNERSHIP"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeInactiveWallet    Code = "INACTIVE_WALLET"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeProvider          Code = "PROVIDER"
	CodeTransient         Code = "TRANSIENT"
	CodeConflict          Code = "CONFLICT"
	CodeInternal          Code = "INTERNAL"
)

// Error is the coded error every service returns across package boundaries.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func Validation(format string, args ...any) *Error { return Newf(CodeValidation, format, args...) }
func NotFound(format string, args ...any) *Error   { return Newf(CodeNotFound, format, args...) }

// CodeOf returns the code of the outermost *Error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps a code to the status the HTTP layer answers with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeInsufficientStock, CodeInsufficientFunds, CodeInactiveWallet, CodeInvalidTransition:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeOwnership:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeProvider:
		return http.StatusBadGateway
	case CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage never leaks internals for unexpected errors.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != CodeInternal {
		return e.Message
	}
	return "Internal server error"
}

// MySQL server error numbers that are safe to retry.
var transientMySQLErrors = map[uint16]bool{
	1205: true, // lock wait timeout
	1213: true, // deadlock
	2006: true, // server has gone away
	2013: true, // lost connection during query
	1040: true, // too many connections
}

// IsTransient reports whether err is a database or network blip worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) && e.Code == CodeTransient {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return transientMySQLErrors[me.Number]
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}

// FromDB converts a gorm/driver error into a coded error.
func FromDB(err error, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Wrap(CodeNotFound, err, message)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return Wrap(CodeConflict, err, message)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), IsTransient(err):
		return Wrap(CodeTransient, err, message)
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return Wrap(CodeConflict, err, message)
	}
	return Wrap(CodeInternal, err, message)
}

package indexopt

import (
	"context"
	"fmt"
	"strings"

	errors "github.com/Laisky/errors/v2"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorCode identifies a machine-stable optimizer error code.
type ErrorCode string

const (
	ErrCodeStoreQueryFailure            ErrorCode = "STORE_QUERY_FAILURE"
	ErrCodeTimeout                      ErrorCode = "TIMEOUT"
	ErrCodeInvalidInput                 ErrorCode = "INVALID_INPUT"
	ErrCodeOptimizationExecutionFailure ErrorCode = "OPTIMIZATION_EXECUTION_FAILURE"
)

// Error is a typed optimizer failure. Execution failures carry the
// statement that failed and the rollback statements of its recommendation.
type Error struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Table     string
	Index     string
	Statement string
	Rollback  []string
	cause     error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e == nil {
		return "indexopt error: <nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Table != "" {
		fmt.Fprintf(&b, " (table=%s", e.Table)
		if e.Index != "" {
			fmt.Fprintf(&b, " index=%s", e.Index)
		}
		b.WriteString(")")
	}
	if e.Statement != "" {
		fmt.Fprintf(&b, " statement=%q", e.Statement)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// NewError constructs a typed optimizer error.
func NewError(code ErrorCode, message string, retryable bool) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable}
}

// AsError extracts a typed optimizer error from the error chain.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// IsCode reports whether the error chain contains the given code.
func IsCode(err error, code ErrorCode) bool {
	if typed, ok := AsError(err); ok {
		return typed.Code == code
	}
	return false
}

func storeError(ctx context.Context, message, table string, err error) *Error {
	if typed, ok := AsError(err); ok {
		return typed
	}
	out := &Error{Code: ErrCodeStoreQueryFailure, Message: message, Table: table, cause: err}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || pgconn.Timeout(err) {
		out.Code = ErrCodeTimeout
		out.Retryable = true
		return out
	}
	if pgconn.SafeToRetry(err) {
		out.Retryable = true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "53") || strings.HasPrefix(pgErr.Code, "08")) {
		out.Retryable = true
	}
	return out
}

package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Laisky/laisky-kb-retrieval/internal/retrieval/embedding"
)

// ErrorCode identifies a machine-stable search error code.
type ErrorCode string

const (
	ErrCodeEmbeddingFailure        ErrorCode = "EMBEDDING_FAILURE"
	ErrCodeStoreQueryFailure       ErrorCode = "STORE_QUERY_FAILURE"
	ErrCodeFilterValidationFailure ErrorCode = "FILTER_VALIDATION_FAILURE"
	ErrCodeTimeout                 ErrorCode = "TIMEOUT"
)

// UserGuidance is the caller-facing hint attached to search failures.
const UserGuidance = "no results, retry or narrow scope"

// Error is a typed search failure. It carries operation context but
// never the query text.
type Error struct {
	Code        ErrorCode
	Message     string
	Retryable   bool
	Op          string
	QueryLength int
	Scope       Scope
	Elapsed     time.Duration
	cause       error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e == nil {
		return "retrieval error: <nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Op != "" {
		fmt.Fprintf(&b, " (op=%s query_length=%d elapsed=%s", e.Op, e.QueryLength, e.Elapsed)
		if e.Scope.ChatbotID != "" {
			fmt.Fprintf(&b, " chatbot_id=%s", e.Scope.ChatbotID)
		}
		b.WriteString(")")
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// UserMessage is what callers should show instead of the raw error.
func (e *Error) UserMessage() string {
	if e != nil && e.Code == ErrCodeFilterValidationFailure {
		return e.Message
	}
	return UserGuidance
}

// NewError constructs a typed search error.
func NewError(code ErrorCode, message string, retryable bool) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable}
}

// AsError extracts a typed search error from the error chain.
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

func validationError(format string, args ...any) *Error {
	return NewError(ErrCodeFilterValidationFailure, fmt.Sprintf(format, args...), false)
}

// classifyStoreError maps a store failure onto the search taxonomy.
// queryCtx is the per-round-trip context.
func classifyStoreError(queryCtx context.Context, err error) *Error {
	if typed, ok := AsError(err); ok {
		return typed
	}

	out := &Error{Code: ErrCodeStoreQueryFailure, Message: "store query failed", cause: err}
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(queryCtx.Err(), context.DeadlineExceeded),
		pgconn.Timeout(err):
		out.Code = ErrCodeTimeout
		out.Message = "store query timed out"
		out.Retryable = true
	case pgconn.SafeToRetry(err):
		out.Retryable = true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 53: insufficient resources, class 08: connection exception
		if strings.HasPrefix(pgErr.Code, "53") || strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P03" {
			out.Retryable = true
		}
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		out.Retryable = true
	}
	return out
}

// classifyEmbeddingError maps a gateway failure onto the search taxonomy.
func classifyEmbeddingError(err error) *Error {
	if typed, ok := AsError(err); ok {
		return typed
	}
	out := &Error{Code: ErrCodeEmbeddingFailure, Message: "embed query failed", cause: err}
	if embErr, ok := embedding.AsError(err); ok {
		out.Retryable = embErr.Retryable
		if embErr.Reason == embedding.ReasonTimeout {
			out.Code = ErrCodeTimeout
			out.Message = "embedding provider timed out"
		}
	} else if errors.Is(err, context.DeadlineExceeded) {
		out.Code = ErrCodeTimeout
		out.Message = "embedding provider timed out"
		out.Retryable = true
	}
	return out
}

// withContext stamps operation context onto a typed error.
func withContext(e *Error, op string, req SearchRequest, elapsed time.Duration) *Error {
	if e.Op == "" {
		e.Op = op
	}
	e.QueryLength = len(req.Query)
	e.Scope = req.Scope
	e.Elapsed = elapsed
	return e
}

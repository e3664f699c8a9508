package embedding

import (
	"fmt"

	errors "github.com/Laisky/errors/v2"
)

// Reason classifies an embedding failure.
type Reason string

const (
	ReasonInvalidInput      Reason = "invalid_input"
	ReasonProviderFailure   Reason = "provider_failure"
	ReasonMalformedResponse Reason = "malformed_response"
	ReasonDimensionMismatch Reason = "dimension_mismatch"
	ReasonTimeout           Reason = "timeout"
)

// Error is the typed embedding failure. It carries the model and the
// input size, never the input text.
type Error struct {
	Reason      Reason
	Model       string
	InputCount  int
	InputLength int
	Retryable   bool
	cause       error
}

func newError(reason Reason, model string, texts []string, cause error) *Error {
	total := 0
	for _, t := range texts {
		total += len(t)
	}
	e := &Error{
		Reason:      reason,
		Model:       model,
		InputCount:  len(texts),
		InputLength: total,
		cause:       cause,
	}
	var perr *ProviderError
	if errors.As(cause, &perr) {
		e.Retryable = perr.Retryable
	}
	if reason == ReasonTimeout {
		e.Retryable = true
	}
	return e
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("embedding %s: model=%s inputs=%d input_length=%d", e.Reason, e.Model, e.InputCount, e.InputLength)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// AsError extracts an embedding error from err.
func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Package embedding turns text into fixed-dimension vectors through an
// external provider.
package embedding

import (
	"context"
	"net/http"
	"strings"

	errors "github.com/Laisky/errors/v2"
)

// Request is one provider call.
type Request struct {
	Texts []string
	Model string
	// Dimensions asks the provider for a reduced output size when > 0.
	Dimensions int
	// Normalize asks for unit-length vectors.
	Normalize bool
}

// Response holds one vector per request text, in request order.
type Response struct {
	Vectors      [][]float32
	Dimension    int
	PromptTokens int
}

// Provider generates embeddings.
type Provider interface {
	Embed(ctx context.Context, req Request) (Response, error)
}

// ProviderError is returned by providers to tell the gateway whether a
// failed call may be retried.
type ProviderError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil || e.Err == nil {
		return "embedding provider error"
	}
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewProvider builds the provider named by settings.Provider.
func NewProvider(settings Settings, httpClient *http.Client) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(settings.Provider)) {
	case "", "openai":
		return NewOpenAIProvider(settings.APIKey, settings.BaseURL, httpClient)
	case "deterministic":
		return NewDeterministicProvider(settings.Dimension), nil
	default:
		return nil, errors.Errorf("unknown embedding provider %q", settings.Provider)
	}
}

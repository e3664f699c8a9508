package embedding

import (
	"context"
	"net/http"
	"strings"

	errors "github.com/Laisky/errors/v2"
	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIBatchSize = 32

// OpenAIProvider calls an OpenAI-compatible embeddings endpoint.
type OpenAIProvider struct {
	client    *openai.Client
	batchSize int
}

// NewOpenAIProvider builds a provider for the given endpoint. baseURL
// should include the API version prefix, e.g. https://api.openai.com/v1.
func NewOpenAIProvider(apiKey, baseURL string, httpClient *http.Client) (*OpenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("missing api key for embeddings")
	}

	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
		cfg.BaseURL = trimmed
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(cfg),
		batchSize: defaultOpenAIBatchSize,
	}, nil
}

// Embed batches the request texts and concatenates the results.
func (p *OpenAIProvider) Embed(ctx context.Context, req Request) (Response, error) {
	if p == nil || p.client == nil {
		return Response{}, errors.New("openai provider is nil")
	}
	if len(req.Texts) == 0 {
		return Response{}, errors.New("no inputs provided for embedding")
	}
	if strings.TrimSpace(req.Model) == "" {
		return Response{}, errors.New("missing embeddings model")
	}

	out := Response{Vectors: make([][]float32, 0, len(req.Texts))}
	for start := 0; start < len(req.Texts); start += p.batchSize {
		end := min(start+p.batchSize, len(req.Texts))
		batch := req.Texts[start:end]

		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input:      batch,
			Model:      openai.EmbeddingModel(req.Model),
			Dimensions: req.Dimensions,
		})
		if err != nil {
			return Response{}, classifyOpenAIError(err)
		}
		if len(resp.Data) != len(batch) {
			return Response{}, errors.Errorf("embeddings endpoint returned %d vectors for %d inputs", len(resp.Data), len(batch))
		}

		ordered := make([][]float32, len(batch))
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(batch) {
				return Response{}, errors.Errorf("embeddings endpoint returned out of range index %d", item.Index)
			}
			ordered[item.Index] = item.Embedding
		}
		for i, vec := range ordered {
			if vec == nil {
				return Response{}, errors.Errorf("embeddings endpoint missed index %d", i)
			}
		}

		out.Vectors = append(out.Vectors, ordered...)
		out.PromptTokens += resp.Usage.PromptTokens
	}

	if len(out.Vectors) > 0 {
		out.Dimension = len(out.Vectors[0])
	}
	return out, nil
}

// classifyOpenAIError marks throttling and server side failures as retryable.
func classifyOpenAIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	retryable := status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	if status == 0 && !errors.Is(err, context.Canceled) {
		// transport failure before any response
		retryable = true
	}

	return &ProviderError{
		StatusCode: status,
		Retryable:  retryable,
		Err:        errors.Wrap(err, "create embeddings"),
	}
}

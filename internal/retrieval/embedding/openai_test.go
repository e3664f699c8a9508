package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	errors "github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderEmbedsInRequestOrder(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotModel = body.Model

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[` +
			`{"object":"embedding","index":1,"embedding":[0,1]},` +
			`{"object":"embedding","index":0,"embedding":[1,0]}],` +
			`"usage":{"prompt_tokens":5,"total_tokens":5}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("key", srv.URL+"/v1", srv.Client())
	require.NoError(t, err)

	resp, err := p.Embed(context.Background(), Request{Texts: []string{"a", "b"}, Model: "m"})
	require.NoError(t, err)
	require.Equal(t, "m", gotModel)
	require.Equal(t, [][]float32{{1, 0}, {0, 1}}, resp.Vectors)
	require.Equal(t, 2, resp.Dimension)
	require.Equal(t, 5, resp.PromptTokens)
}

func TestOpenAIProviderClassifiesStatus(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"error"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("key", srv.URL+"/v1", srv.Client())
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), Request{Texts: []string{"a"}, Model: "m"})
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	require.True(t, perr.Retryable)
	require.Equal(t, http.StatusTooManyRequests, perr.StatusCode)

	status = http.StatusBadRequest
	_, err = p.Embed(context.Background(), Request{Texts: []string{"a"}, Model: "m"})
	require.True(t, errors.As(err, &perr))
	require.False(t, perr.Retryable)
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(" ", "", nil)
	require.Error(t, err)
}

func TestNewProviderSelectsImplementation(t *testing.T) {
	p, err := NewProvider(Settings{Provider: "Deterministic", Dimension: 16}, nil)
	require.NoError(t, err)
	require.IsType(t, &DeterministicProvider{}, p)

	p, err = NewProvider(Settings{Provider: "openai", APIKey: "key"}, nil)
	require.NoError(t, err)
	require.IsType(t, &OpenAIProvider{}, p)

	_, err = NewProvider(Settings{Provider: "openai"}, nil)
	require.Error(t, err)

	_, err = NewProvider(Settings{Provider: "cohere"}, nil)
	require.Error(t, err)
}

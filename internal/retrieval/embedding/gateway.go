package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

// Gateway validates, caches and retries embedding calls for one model.
type Gateway struct {
	provider   Provider
	model      string
	dimension  int
	normalize  bool
	timeout    time.Duration
	maxRetries int
	cache      *lru.Cache[string, []float32]
	logger     logSDK.Logger
	// newBackOff is replaced in tests to avoid real sleeps.
	newBackOff func() backoff.BackOff
}

// NewGateway wraps provider. A zero Dimension accepts whatever size the
// provider returns as long as it is consistent within one call.
func NewGateway(provider Provider, settings Settings, logger logSDK.Logger) (*Gateway, error) {
	if provider == nil {
		return nil, errors.New("embedding provider is required")
	}
	settings = settings.sanitize()
	if logger == nil {
		logger = log.Logger.Named("embedding_gateway")
	}

	g := &Gateway{
		provider:   provider,
		model:      settings.Model,
		dimension:  settings.Dimension,
		normalize:  settings.Normalize,
		timeout:    settings.Timeout,
		maxRetries: settings.MaxRetries,
		logger:     logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	if settings.CacheSize > 0 {
		cache, err := lru.New[string, []float32](settings.CacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "new embedding cache")
		}
		g.cache = cache
	}

	return g, nil
}

// Model returns the model identifier.
func (g *Gateway) Model() string { return g.model }

// Dimension returns the configured dimension, 0 when unconstrained.
func (g *Gateway) Dimension() int { return g.dimension }

// EmbedQuery embeds a single text.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) (pgvector.Vector, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts, serving repeated inputs from the cache.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, newError(ReasonInvalidInput, g.model, texts, errors.New("no inputs"))
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, newError(ReasonInvalidInput, g.model, texts, errors.New("empty input text"))
		}
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if g.cache != nil {
			if vec, ok := g.cache.Get(g.cacheKey(t)); ok {
				results[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) > 0 {
		startAt := time.Now()
		resp, err := g.call(ctx, missTexts)
		if err != nil {
			g.logger.Warn("embed texts",
				zap.String("model", g.model),
				zap.Int("inputs", len(missTexts)),
				zap.Duration("elapsed", time.Since(startAt)),
				zap.Error(err))
			return nil, err
		}
		for j, idx := range missIdx {
			results[idx] = resp.Vectors[j]
			if g.cache != nil {
				g.cache.Add(g.cacheKey(texts[idx]), resp.Vectors[j])
			}
		}
		g.logger.Debug("embed texts",
			zap.String("model", g.model),
			zap.Int("inputs", len(missTexts)),
			zap.Int("cached", len(texts)-len(missTexts)),
			zap.Int("dimension", resp.Dimension),
			zap.Int("prompt_tokens", resp.PromptTokens),
			zap.Duration("elapsed", time.Since(startAt)))
	}

	out := make([]pgvector.Vector, len(results))
	for i, vec := range results {
		// copy so callers cannot mutate cached slices
		out[i] = pgvector.NewVector(append([]float32(nil), vec...))
	}
	return out, nil
}

// call invokes the provider with a per-attempt timeout and retries
// retryable failures with exponential backoff.
func (g *Gateway) call(ctx context.Context, texts []string) (Response, error) {
	var (
		resp     Response
		timedOut bool
	)
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		r, err := g.provider.Embed(attemptCtx, Request{
			Texts:      texts,
			Model:      g.model,
			Dimensions: g.dimension,
			Normalize:  g.normalize,
		})
		if err != nil {
			timedOut = errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			if attemptCtx.Err() != nil {
				return err
			}
			var perr *ProviderError
			if errors.As(err, &perr) && perr.Retryable {
				return err
			}
			return backoff.Permanent(err)
		}

		resp = r
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(g.newBackOff(), uint64(g.maxRetries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if timedOut || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return Response{}, newError(ReasonTimeout, g.model, texts, err)
		}
		return Response{}, newError(ReasonProviderFailure, g.model, texts, err)
	}

	if err := g.validate(&resp, texts); err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (g *Gateway) validate(resp *Response, texts []string) error {
	if len(resp.Vectors) != len(texts) {
		return newError(ReasonMalformedResponse, g.model, texts,
			errors.Errorf("got %d vectors for %d inputs", len(resp.Vectors), len(texts)))
	}

	want := g.dimension
	if want == 0 {
		want = len(resp.Vectors[0])
	}
	for i, vec := range resp.Vectors {
		if len(vec) == 0 {
			return newError(ReasonMalformedResponse, g.model, texts, errors.Errorf("empty vector at %d", i))
		}
		if len(vec) != want {
			return newError(ReasonDimensionMismatch, g.model, texts,
				errors.Errorf("vector %d has dimension %d, want %d", i, len(vec), want))
		}
		if g.normalize {
			l2Normalize(vec)
		}
	}
	resp.Dimension = want
	return nil
}

func (g *Gateway) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(g.model + "\x00" + strconv.Itoa(g.dimension) + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

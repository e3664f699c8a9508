package web

import (
	"context"
	"net/http"
	"testing"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/laisky-kb-retrieval/internal/retrieval"
)

// loggingEngine records what the engine sees of the request context.
type loggingEngine struct {
	fakeEngine
	hasGinCtx bool
	hasLogger bool
	deadline  bool
}

func (e *loggingEngine) SimilaritySearch(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.SearchResult, error) {
	_, e.hasGinCtx = gmw.GetGinCtxFromStdCtx(ctx)
	if logger := gmw.GetLogger(ctx); logger != nil {
		e.hasLogger = true
		logger.Named("engine").Debug("search", zap.String("query", req.Query))
	}
	_, e.deadline = ctx.Deadline()
	return nil, nil
}

func TestEngineReceivesRequestLogger(t *testing.T) {
	setupGinTestMode()
	engine := &loggingEngine{}
	server, err := NewServer(engine, Options{Debug: true})
	require.NoError(t, err)

	w := do(server, http.MethodPost, "/api/v1/search/similarity", `{"query":"refund"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, engine.hasGinCtx, "gin context should reach the engine")
	require.True(t, engine.hasLogger, "request logger should reach the engine")
	require.False(t, engine.deadline)
}

func TestLoggerFallbackWhenNoGinContext(t *testing.T) {
	t.Parallel()

	logger := gmw.GetLogger(context.Background())
	require.NotNil(t, logger, "Logger should have a fallback when no gin context")
	logger.Debug("fallback logger test")
}

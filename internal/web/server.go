// Package web serves the engine over HTTP.
package web

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/laisky-kb-retrieval/internal/indexopt"
	"github.com/Laisky/laisky-kb-retrieval/internal/retrieval"
	"github.com/Laisky/laisky-kb-retrieval/internal/usage"
	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

// Engine is the subset of kb.Engine the HTTP API exposes.
type Engine interface {
	SimilaritySearch(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.SearchResult, error)
	HybridSearch(ctx context.Context, req retrieval.HybridRequest) ([]retrieval.SearchResult, error)
	SimilarToDocument(ctx context.Context, req retrieval.DocumentRequest) ([]retrieval.SearchResult, error)
	AnalyzeIndexPerformance(ctx context.Context) ([]indexopt.IndexMetric, error)
	OptimizeIndexes(ctx context.Context, table string, opt indexopt.OptimizeOptions) (indexopt.Report, error)
	RunMaintenance(ctx context.Context, tables ...string) ([]indexopt.MaintenanceTask, error)
	StartMonitoring(ctx context.Context, interval time.Duration)
	StopMonitoring()
	MonitoringStatus() (running bool, interval time.Duration)
	GetHealthCheck(ctx context.Context) (indexopt.HealthReport, error)
	UsageSummary(ctx context.Context, chatbotID string) (usage.Summary, error)
}

// Options configures the HTTP server.
type Options struct {
	// AllowedOrigins lists host suffixes permitted by CORS, e.g. "example.com"
	// also admits "api.example.com". Empty disables CORS headers.
	AllowedOrigins []string
	// Extra mounts additional handlers, such as the MCP endpoint.
	Extra  map[string]http.Handler
	Debug  bool
	Logger logSDK.Logger
}

// NewServer builds the gin engine with every API route registered.
func NewServer(engine Engine, opt Options) (*gin.Engine, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	logger := opt.Logger
	if logger == nil {
		logger = log.Logger.Named("web")
	}
	if !opt.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	server := gin.New()
	// engine calls receive the gin context, deadlines come from the request
	server.ContextWithFallback = true
	server.Use(
		gin.Recovery(),
		gmw.NewLoggerMiddleware(
			gmw.WithLogger(logger.Named("gin")),
		),
		allowCORS(opt.AllowedOrigins),
	)

	server.Any("/health", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, "hello, world")
	})

	registerRoutes(server.Group("/api/v1"), &handlers{engine: engine})

	for path, h := range opt.Extra {
		server.Any(path, gin.WrapH(h))
	}

	return server, nil
}

// Run serves until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Logger.Info("listening on http", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server exit")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	return nil
}

// allowCORS admits origins whose host equals or is a subdomain of one of
// allowed.
func allowCORS(allowed []string) gin.HandlerFunc {
	suffixes := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			suffixes = append(suffixes, a)
		}
	}

	return func(ctx *gin.Context) {
		origin := ctx.Request.Header.Get("Origin")
		allowedOrigin := ""

		if origin != "" {
			parsedOriginURL, err := url.Parse(origin)
			if err == nil {
				host := strings.ToLower(parsedOriginURL.Hostname())
				for _, suffix := range suffixes {
					if host == suffix || strings.HasSuffix(host, "."+suffix) {
						allowedOrigin = origin
						break
					}
				}
			}
		}

		if allowedOrigin != "" {
			ctx.Header("Access-Control-Allow-Origin", allowedOrigin)
			ctx.Header("Access-Control-Allow-Credentials", "true")
			ctx.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			ctx.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin")
			ctx.Header("Access-Control-Max-Age", "86400")
			ctx.Header("Vary", "Origin")

			if ctx.Request.Method == http.MethodOptions {
				ctx.AbortWithStatus(http.StatusNoContent)
				return
			}
		} else if origin != "" && ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusForbidden)
			return
		}

		ctx.Next()
	}
}

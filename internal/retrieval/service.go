package retrieval

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/Laisky/laisky-kb-retrieval/internal/ctxkeys"
	"github.com/Laisky/laisky-kb-retrieval/internal/events"
	"github.com/Laisky/laisky-kb-retrieval/internal/usage"
	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

// DB defines the database capabilities required by the search service.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// Embedder turns text into query vectors.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) (pgvector.Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error)
}

// UsageRecorder accounts search calls per chatbot.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// LatencyObserver receives end-to-end search latencies.
type LatencyObserver interface {
	Observe(time.Duration)
}

// Clock provides the current time in UTC.
type Clock func() time.Time

// Dependencies are the optional collaborators of Service.
type Dependencies struct {
	Sink    events.Sink
	Usage   UsageRecorder
	Latency LatencyObserver
	Chunker Chunker
	Logger  logSDK.Logger
	Clock   Clock
}

// maxPendingUsage bounds in-flight usage writes; records beyond it are dropped.
const maxPendingUsage = 256

// Service runs searches against the chunk store.
type Service struct {
	db       DB
	embedder Embedder
	sink     events.Sink
	usage    UsageRecorder
	latency  LatencyObserver
	chunker  Chunker
	settings Settings
	logger   logSDK.Logger
	clock    Clock

	usageSlots   chan struct{}
	usageWG      sync.WaitGroup
	usageDropped atomic.Int64
}

// NewService constructs a search service.
func NewService(db DB, embedder Embedder, settings Settings, deps Dependencies) (*Service, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}

	s := &Service{
		db:       db,
		embedder: embedder,
		sink:     deps.Sink,
		usage:    deps.Usage,
		latency:  deps.Latency,
		chunker:  deps.Chunker,
		settings: settings.sanitize(),
		logger:   deps.Logger,
		clock:    deps.Clock,

		usageSlots: make(chan struct{}, maxPendingUsage),
	}
	if s.sink == nil {
		s.sink = events.Nop{}
	}
	if s.chunker == nil {
		s.chunker = ParagraphChunker{}
	}
	if s.logger == nil {
		s.logger = log.Logger.Named("retrieval_service")
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// Settings returns the effective settings.
func (s *Service) Settings() Settings { return s.settings }

// UsageDropped reports how many usage records were discarded because the
// recorder fell behind.
func (s *Service) UsageDropped() int64 { return s.usageDropped.Load() }

// Wait blocks until in-flight usage records are written or time out.
func (s *Service) Wait() { s.usageWG.Wait() }

func (s *Service) loggerFromContext(ctx context.Context) logSDK.Logger {
	if ctx != nil {
		if ctxLogger := gmw.GetLogger(ctx); ctxLogger != nil {
			return ctxLogger
		}
		if ctxLogger, ok := ctx.Value(ctxkeys.Logger).(logSDK.Logger); ok && ctxLogger != nil {
			return ctxLogger
		}
	}
	return s.logger
}

// resolveFilter validates f and applies defaults. It never touches the store.
func (s *Service) resolveFilter(f Filter) (resolvedFilter, error) {
	out := resolvedFilter{Filter: f}

	switch {
	case f.MaxResults > s.settings.MaxResultsCap:
		return out, validationError("max_results %d exceeds cap %d", f.MaxResults, s.settings.MaxResultsCap)
	case f.MaxResults < 0:
		return out, validationError("max_results must not be negative")
	case f.MaxResults == 0:
		out.limit = s.settings.DefaultMaxResults
	default:
		out.limit = f.MaxResults
	}

	out.minSimilarity = s.settings.DefaultMinSimilarity
	if f.MinSimilarity != nil {
		v := *f.MinSimilarity
		if !(v >= 0 && v <= 1) {
			return out, validationError("min_similarity must be within [0, 1]")
		}
		out.minSimilarity = v
	}

	for name, list := range map[string][]string{
		"collection_ids": f.CollectionIDs,
		"document_ids":   f.DocumentIDs,
		"content_types":  f.ContentTypes,
	} {
		for _, v := range list {
			if v == "" {
				return out, validationError("%s must not contain empty values", name)
			}
		}
	}
	return out, nil
}

func validateQuery(query string) error {
	if len(query) == 0 || isBlank(query) {
		return validationError("query cannot be empty")
	}
	return nil
}

// finish emits the search event, records usage and latency for one call.
func (s *Service) finish(ctx context.Context, op string, req SearchRequest, startAt time.Time, results int, err error) {
	elapsed := s.clock().Sub(startAt)
	success := err == nil

	evt := events.New(events.SearchPerformed, op, s.clock())
	evt.ChatbotID = req.Scope.ChatbotID
	evt.SessionID = req.Scope.SessionID
	evt.Duration = elapsed
	evt.Success = success
	evt.Metadata["result_count"] = results
	evt.Metadata["query_length"] = len(req.Query)
	if typed, ok := AsError(err); ok {
		evt.Metadata["error_code"] = string(typed.Code)
	}
	s.sink.Emit(evt)

	if s.latency != nil && success {
		s.latency.Observe(elapsed)
	}

	logger := s.loggerFromContext(ctx)
	s.recordUsage(logger, usage.Record{
		ChatbotID:      req.Scope.ChatbotID,
		SessionID:      req.Scope.SessionID,
		Operation:      op,
		ResultCount:    results,
		DurationMillis: elapsed.Milliseconds(),
		Success:        success,
		OccurredAt:     startAt,
	})

	fields := []zap.Field{
		zap.String("op", op),
		zap.String("chatbot_id", req.Scope.ChatbotID),
		zap.Int("query_length", len(req.Query)),
		zap.Int("results", results),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		logger.Warn("search failed", append(fields, zap.Error(err))...)
		return
	}
	logger.Debug("search completed", fields...)
}

// recordUsage hands rec to the recorder in the background so a slow usage
// store never delays the search response.
func (s *Service) recordUsage(logger logSDK.Logger, rec usage.Record) {
	if s.usage == nil {
		return
	}

	select {
	case s.usageSlots <- struct{}{}:
	default:
		s.usageDropped.Add(1)
		logger.Warn("drop search usage, recorder is backlogged",
			zap.String("op", rec.Operation), zap.String("chatbot_id", rec.ChatbotID))
		return
	}

	// not derived from ctx: request contexts such as gin's are recycled once
	// the handler returns
	usageCtx, cancel := context.WithTimeout(context.Background(), s.settings.UsageTimeout)
	s.usageWG.Add(1)
	go func() {
		defer func() {
			cancel()
			<-s.usageSlots
			s.usageWG.Done()
		}()
		if err := s.usage.Record(usageCtx, rec); err != nil {
			logger.Warn("record search usage", zap.String("op", rec.Operation), zap.Error(err))
		}
	}()
}

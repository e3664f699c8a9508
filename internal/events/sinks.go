package events

import (
	"sync"
	"sync/atomic"

	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

// LoggerSink writes events as structured log lines.
type LoggerSink struct {
	logger logSDK.Logger
}

// NewLoggerSink returns a sink logging through logger.
func NewLoggerSink(logger logSDK.Logger) *LoggerSink {
	if logger == nil {
		logger = log.Logger.Named("events")
	}
	return &LoggerSink{logger: logger}
}

// Emit implements Sink.
func (s *LoggerSink) Emit(e Event) {
	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("operation", e.Operation),
		zap.Duration("duration", e.Duration),
		zap.Bool("success", e.Success),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.ChatbotID != "" {
		fields = append(fields, zap.String("chatbot_id", e.ChatbotID))
	}
	if e.SessionID != "" {
		fields = append(fields, zap.String("session_id", e.SessionID))
	}
	if len(e.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", e.Metadata))
	}

	if e.Name == AlertRaised || !e.Success {
		s.logger.Warn(string(e.Name), fields...)
		return
	}
	s.logger.Info(string(e.Name), fields...)
}

// AsyncSink decouples producers from a slow sink with a bounded queue.
// Events are dropped when the queue is full.
type AsyncSink struct {
	next    Sink
	queue   chan Event
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

// NewAsyncSink starts a delivery goroutine feeding next.
func NewAsyncSink(next Sink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 1024
	}
	s := &AsyncSink{next: next, queue: make(chan Event, buffer)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for e := range s.queue {
			s.next.Emit(e)
		}
	}()
	return s
}

// Emit enqueues e or drops it when the queue is full or closed.
func (s *AsyncSink) Emit(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded.
func (s *AsyncSink) Dropped() int64 { return s.dropped.Load() }

// Close stops accepting events and waits for queued ones to be delivered.
func (s *AsyncSink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		s.wg.Wait()
	})
}

// MemorySink keeps the most recent events in memory.
type MemorySink struct {
	mu       sync.RWMutex
	capacity int
	events   []Event
}

// NewMemorySink keeps at most capacity events.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemorySink{capacity: capacity}
}

// Emit implements Sink.
func (s *MemorySink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	if over := len(s.events) - s.capacity; over > 0 {
		s.events = append([]Event(nil), s.events[over:]...)
	}
}

// Recent returns up to limit newest events, newest last. An empty name matches all.
func (s *MemorySink) Recent(name Name, limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		if name == "" || e.Name == name {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

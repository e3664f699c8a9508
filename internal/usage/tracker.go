// Package usage accounts search calls per chatbot with bounded retention.
package usage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/laisky-kb-retrieval/library/config"
	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

const anonymousChatbot = "anonymous"

// Record is one accounted call.
type Record struct {
	ChatbotID      string    `json:"chatbot_id"`
	SessionID      string    `json:"session_id,omitempty"`
	Operation      string    `json:"operation"`
	ResultCount    int       `json:"result_count"`
	DurationMillis int64     `json:"duration_ms"`
	Success        bool      `json:"success"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// OperationSummary aggregates one operation.
type OperationSummary struct {
	Count     int `json:"count"`
	Successes int `json:"successes"`
}

// Summary aggregates the retained records of one chatbot.
type Summary struct {
	ChatbotID      string                      `json:"chatbot_id"`
	Count          int                         `json:"count"`
	Successes      int                         `json:"successes"`
	SuccessRate    float64                     `json:"success_rate"`
	AvgDurationMS  float64                     `json:"avg_duration_ms"`
	AvgResultCount float64                     `json:"avg_result_count"`
	LastOccurredAt time.Time                   `json:"last_occurred_at"`
	ByOperation    map[string]OperationSummary `json:"by_operation"`
}

// Store persists bounded per-key lists, newest first.
type Store interface {
	Append(ctx context.Context, key string, payload []byte, retain int, ttl time.Duration) error
	Range(ctx context.Context, key string, limit int) ([][]byte, error)
}

// Settings bounds retention.
type Settings struct {
	// Retain is the number of records kept per chatbot.
	Retain int
	// TTL expires idle chatbots' history.
	TTL       time.Duration
	KeyPrefix string
}

// Tracker records and summarizes usage.
type Tracker struct {
	store    Store
	settings Settings
	logger   logSDK.Logger
}

// NewTracker constructs a tracker over store.
func NewTracker(store Store, settings Settings, logger logSDK.Logger) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("usage store is required")
	}
	if settings.Retain <= 0 {
		settings.Retain = 500
	}
	if settings.TTL <= 0 {
		settings.TTL = 30 * 24 * time.Hour
	}
	if strings.TrimSpace(settings.KeyPrefix) == "" {
		settings.KeyPrefix = "kb:usage:"
	}
	if logger == nil {
		logger = log.Logger.Named("usage_tracker")
	}
	return &Tracker{store: store, settings: settings, logger: logger}, nil
}

func (t *Tracker) key(chatbotID string) string {
	chatbotID = strings.TrimSpace(chatbotID)
	if chatbotID == "" {
		chatbotID = anonymousChatbot
	}
	return t.settings.KeyPrefix + chatbotID
}

// Record stores rec under its chatbot, trimming older entries.
func (t *Tracker) Record(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.ChatbotID) == "" {
		rec.ChatbotID = anonymousChatbot
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal usage record")
	}
	if err := t.store.Append(ctx, t.key(rec.ChatbotID), payload, t.settings.Retain, t.settings.TTL); err != nil {
		return errors.Wrap(err, "append usage record")
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (t *Tracker) Recent(ctx context.Context, chatbotID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > t.settings.Retain {
		limit = t.settings.Retain
	}
	raw, err := t.store.Range(ctx, t.key(chatbotID), limit)
	if err != nil {
		return nil, errors.Wrap(err, "load usage records")
	}

	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal(item, &rec); err != nil {
			t.logger.Warn("skip malformed usage record", zap.String("chatbot_id", chatbotID), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Summary aggregates all retained records of chatbotID.
func (t *Tracker) Summary(ctx context.Context, chatbotID string) (Summary, error) {
	records, err := t.Recent(ctx, chatbotID, 0)
	if err != nil {
		return Summary{}, errors.WithStack(err)
	}
	return Summarize(chatbotID, records), nil
}

// Summarize aggregates records.
func Summarize(chatbotID string, records []Record) Summary {
	s := Summary{ChatbotID: chatbotID, ByOperation: map[string]OperationSummary{}}
	var totalDuration, totalResults int64
	for _, r := range records {
		s.Count++
		op := s.ByOperation[r.Operation]
		op.Count++
		if r.Success {
			s.Successes++
			op.Successes++
		}
		s.ByOperation[r.Operation] = op
		totalDuration += r.DurationMillis
		totalResults += int64(r.ResultCount)
		if r.OccurredAt.After(s.LastOccurredAt) {
			s.LastOccurredAt = r.OccurredAt
		}
	}
	if s.Count > 0 {
		s.SuccessRate = float64(s.Successes) / float64(s.Count)
		s.AvgDurationMS = float64(totalDuration) / float64(s.Count)
		s.AvgResultCount = float64(totalResults) / float64(s.Count)
	}
	return s
}

// LoadSettingsFromConfig reads settings.usage.*.
func LoadSettingsFromConfig() Settings {
	return Settings{
		Retain:    config.Int("settings.usage.retain", 500),
		TTL:       config.Duration("settings.usage.ttl", 30*24*time.Hour),
		KeyPrefix: config.String("settings.usage.key_prefix", "kb:usage:"),
	}
}

package usage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordRedis(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	tracker, err := NewTracker(NewRedisStore(rdb), Settings{Retain: 3, TTL: time.Hour}, logSDK.Shared.Named("test_usage"))
	require.NoError(t, err)

	rec := Record{
		ChatbotID:      "bot-1",
		Operation:      "similarity_search",
		ResultCount:    4,
		DurationMillis: 12,
		Success:        true,
		OccurredAt:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectLPush("kb:usage:bot-1", payload).SetVal(1)
	mock.ExpectLTrim("kb:usage:bot-1", 0, 2).SetVal("OK")
	mock.ExpectExpire("kb:usage:bot-1", time.Hour).SetVal(true)
	mock.ExpectTxPipelineExec()

	require.NoError(t, tracker.Record(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackerRecordRedisFailure(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	tracker, err := NewTracker(NewRedisStore(rdb), Settings{Retain: 3, TTL: time.Hour}, nil)
	require.NoError(t, err)

	rec := Record{ChatbotID: "bot-1", Operation: "hybrid_search", OccurredAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectLPush("kb:usage:bot-1", payload).SetErr(errors.New("READONLY"))

	err = tracker.Record(context.Background(), rec)
	require.ErrorContains(t, err, "READONLY")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackerSummaryRedis(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	tracker, err := NewTracker(NewRedisStore(rdb), Settings{Retain: 10}, nil)
	require.NoError(t, err)

	t1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ok1, _ := json.Marshal(Record{ChatbotID: "bot", Operation: "hybrid_search", ResultCount: 6, DurationMillis: 30, Success: true, OccurredAt: t1.Add(time.Minute)})
	ok2, _ := json.Marshal(Record{ChatbotID: "bot", Operation: "similarity_search", ResultCount: 2, DurationMillis: 10, Success: true, OccurredAt: t1})
	failed, _ := json.Marshal(Record{ChatbotID: "bot", Operation: "similarity_search", DurationMillis: 20, OccurredAt: t1})

	mock.ExpectLRange("kb:usage:bot", 0, 9).SetVal([]string{string(ok1), "not-json", string(ok2), string(failed)})

	summary, err := tracker.Summary(context.Background(), "bot")
	require.NoError(t, err)
	require.Equal(t, 3, summary.Count)
	require.Equal(t, 2, summary.Successes)
	require.InDelta(t, 2.0/3.0, summary.SuccessRate, 1e-9)
	require.InDelta(t, 20, summary.AvgDurationMS, 1e-9)
	require.Equal(t, t1.Add(time.Minute), summary.LastOccurredAt)
	require.Equal(t, OperationSummary{Count: 2, Successes: 1}, summary.ByOperation["similarity_search"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStoreBoundsRetention(t *testing.T) {
	store, err := NewMemoryStore(2)
	require.NoError(t, err)
	tracker, err := NewTracker(store, Settings{Retain: 3}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.Record(ctx, Record{ChatbotID: "a", Operation: "op", ResultCount: i}))
	}

	recent, err := tracker.Recent(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	require.Equal(t, 4, recent[0].ResultCount)
	require.Equal(t, 2, recent[2].ResultCount)

	require.NoError(t, tracker.Record(ctx, Record{ChatbotID: "b", Operation: "op"}))
	require.NoError(t, tracker.Record(ctx, Record{ChatbotID: "", Operation: "op"}))

	evicted, err := tracker.Recent(ctx, "a", 0)
	require.NoError(t, err)
	require.Empty(t, evicted)

	anon, err := tracker.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, anon, 1)
	require.Equal(t, "anonymous", anon[0].ChatbotID)
}

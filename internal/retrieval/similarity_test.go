package retrieval

import (
	"context"
	"regexp"
	"testing"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/laisky-kb-retrieval/internal/events"
	"github.com/Laisky/laisky-kb-retrieval/internal/retrieval/embedding"
)

func TestSimilaritySearchScopedAndRanked(t *testing.T) {
	h := newHarness(t, nil)

	h.mock.ExpectQuery(regexp.QuoteMeta(
		`FROM kb_chunks WHERE GREATEST(0, 1 - (embedding <=> $1::vector)) >= $2 AND collection_ids && $3::text[] ORDER BY distance ASC, id ASC LIMIT $4`)).
		WithArgs(pgxmock.AnyArg(), 0.5, []string{"P1"}, 5).
		WillReturnRows(pgxmock.NewRows(chunkColumns).
			AddRow("c-3", "doc-1", 2, "refunds are issued within 30 days", `{"product":"P1"}`, 0.1).
			AddRow("c-9", "doc-2", 0, "refund policy overview", "{}", 0.3).
			AddRow("c-4", "doc-1", 3, "refund exceptions", "{}", 0.3).
			AddRow("c-7", "doc-3", 1, "store credit", "{}", 0.45))

	results, err := h.svc.SimilaritySearch(context.Background(), SearchRequest{
		Query:  "refund policy",
		Scope:  Scope{ChatbotID: "bot-1", SessionID: "s-1"},
		Filter: Filter{CollectionIDs: []string{"P1"}, MinSimilarity: floatPtr(0.5), MaxResults: 5},
	})
	require.NoError(t, err)
	require.NoError(t, h.mock.ExpectationsWereMet())

	require.LessOrEqual(t, len(results), 5)
	require.Equal(t, []string{"c-3", "c-4", "c-9", "c-7"}, resultIDs(results))
	for i, r := range results {
		require.GreaterOrEqual(t, r.Similarity, 0.5)
		require.Equal(t, OriginVector, r.Origin)
		if i > 0 {
			require.GreaterOrEqual(t, results[i-1].Similarity, r.Similarity)
		}
	}
	require.InDelta(t, 0.9, results[0].Similarity, 1e-9)
	require.Equal(t, "P1", results[0].Metadata["product"])
	require.Nil(t, results[1].Metadata)

	evts := h.sink.Recent(events.SearchPerformed, 0)
	require.Len(t, evts, 1)
	require.Equal(t, "bot-1", evts[0].ChatbotID)
	require.Equal(t, "s-1", evts[0].SessionID)
	require.True(t, evts[0].Success)
	require.Equal(t, 4, evts[0].Metadata["result_count"])

	h.svc.Wait()
	recent, err := h.tracker.Recent(context.Background(), "bot-1", 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, opSimilaritySearch, recent[0].Operation)
	require.Equal(t, 1, h.latency.Stats().Count)
}

func TestSimilaritySearchKnowledgeBaseScope(t *testing.T) {
	h := newHarness(t, nil)

	h.mock.ExpectQuery(regexp.QuoteMeta(
		`>= $2 AND knowledge_base_id = ANY($3::text[]) AND document_id = ANY($4::text[]) AND content_type = ANY($5::text[]) ORDER BY`)).
		WithArgs(pgxmock.AnyArg(), 0.1, []string{"kb-1"}, []string{"doc-1"}, []string{"faq"}, 5).
		WillReturnRows(pgxmock.NewRows(chunkColumns))

	results, err := h.svc.SimilaritySearch(context.Background(), SearchRequest{
		Query:  "hello",
		Scope:  Scope{KnowledgeBaseIDs: []string{"kb-1"}},
		Filter: Filter{DocumentIDs: []string{"doc-1"}, ContentTypes: []string{"faq"}},
	})
	require.NoError(t, err)
	require.Empty(t, results)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestSimilaritySearchCapsResults(t *testing.T) {
	h := newHarness(t, nil)

	rows := pgxmock.NewRows(chunkColumns)
	for _, id := range []string{"a", "b", "c"} {
		rows.AddRow(id, "doc", 0, "text", "{}", 0.2)
	}
	h.mock.ExpectQuery(`FROM kb_chunks`).WithArgs(pgxmock.AnyArg(), 0.1, 2).WillReturnRows(rows)

	results, err := h.svc.SimilaritySearch(context.Background(), SearchRequest{
		Query:  "text",
		Filter: Filter{MaxResults: 2},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []string{"a", "b"}, resultIDs(results))
}

func TestSimilaritySearchZeroFloorAdmitsOpposedVectors(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.ExpectQuery(regexp.QuoteMeta(
		`WHERE GREATEST(0, 1 - (embedding <=> $1::vector)) >= $2 ORDER BY distance ASC, id ASC LIMIT $3`)).
		WithArgs(pgxmock.AnyArg(), 0.0, 5).
		WillReturnRows(pgxmock.NewRows(chunkColumns).
			AddRow("near", "doc", 0, "close", "{}", 0.3).
			AddRow("opposed", "doc", 1, "far", "{}", 1.8))

	results, err := h.svc.SimilaritySearch(context.Background(), SearchRequest{
		Query:  "text",
		Filter: Filter{MinSimilarity: floatPtr(0)},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"near", "opposed"}, resultIDs(results))
	require.Zero(t, results[1].Similarity)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestSimilaritySearchValidationFailsFast(t *testing.T) {
	h := newHarness(t, nil)

	cases := []SearchRequest{
		{Query: "   "},
		{Query: "q", Filter: Filter{MaxResults: 51}},
		{Query: "q", Filter: Filter{MinSimilarity: floatPtr(-1)}},
	}
	for _, req := range cases {
		_, err := h.svc.SimilaritySearch(context.Background(), req)
		require.True(t, IsCode(err, ErrCodeFilterValidationFailure), "request %+v", req)

		typed, ok := AsError(err)
		require.True(t, ok)
		require.Equal(t, opSimilaritySearch, typed.Op)
	}
	require.Zero(t, h.embedder.queryCalls.Load())
	require.NoError(t, h.mock.ExpectationsWereMet())

	failed := h.sink.Recent(events.SearchPerformed, 0)
	require.Len(t, failed, 3)
	require.False(t, failed[0].Success)
	require.Equal(t, string(ErrCodeFilterValidationFailure), failed[0].Metadata["error_code"])
}

func TestSimilaritySearchEmbeddingFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.embedder.err = &embedding.Error{Reason: embedding.ReasonProviderFailure, Model: "m", InputLength: 22}

	_, err := h.svc.SimilaritySearch(context.Background(), SearchRequest{
		Query: "confidential question?",
		Scope: Scope{ChatbotID: "bot-9"},
	})
	require.True(t, IsCode(err, ErrCodeEmbeddingFailure))
	require.NotContains(t, err.Error(), "confidential")

	typed, _ := AsError(err)
	require.Equal(t, len("confidential question?"), typed.QueryLength)
	require.Equal(t, "bot-9", typed.Scope.ChatbotID)
	require.Equal(t, UserGuidance, typed.UserMessage())
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestSimilaritySearchEmbeddingTimeout(t *testing.T) {
	h := newHarness(t, nil)
	h.embedder.err = &embedding.Error{Reason: embedding.ReasonTimeout, Model: "m", Retryable: true}

	_, err := h.svc.SimilaritySearch(context.Background(), SearchRequest{Query: "q"})
	require.True(t, IsCode(err, ErrCodeTimeout))
}

func TestSimilaritySearchStoreFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.ExpectQuery(`FROM kb_chunks`).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"})

	results, err := h.svc.SimilaritySearch(context.Background(), SearchRequest{Query: "q"})
	require.Nil(t, results)
	require.True(t, IsCode(err, ErrCodeStoreQueryFailure))

	typed, _ := AsError(err)
	require.False(t, typed.Retryable)
	require.Zero(t, h.latency.Stats().Count)
}

func TestSimilaritySearchPoolExhaustionIsRetryable(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.ExpectQuery(`FROM kb_chunks`).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "53300", Message: "too many connections"})

	_, err := h.svc.SimilaritySearch(context.Background(), SearchRequest{Query: "q"})
	typed, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, ErrCodeStoreQueryFailure, typed.Code)
	require.True(t, typed.Retryable)
}

func TestSimilaritySearchTimeout(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.QueryTimeout = 20 * time.Millisecond })
	h.mock.ExpectQuery(`FROM kb_chunks`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(chunkColumns)).
		WillDelayFor(time.Second)

	_, err := h.svc.SimilaritySearch(context.Background(), SearchRequest{Query: "q"})
	require.True(t, IsCode(err, ErrCodeTimeout), "got %v", err)
}

func TestClassifyStoreErrorDeadline(t *testing.T) {
	typed := classifyStoreError(context.Background(), errors.Wrap(context.DeadlineExceeded, "acquire"))
	require.Equal(t, ErrCodeTimeout, typed.Code)
	require.True(t, typed.Retryable)
}

func TestSimilarityFromDistance(t *testing.T) {
	require.InDelta(t, 1, similarityFromDistance(0), 1e-9)
	require.InDelta(t, 0, similarityFromDistance(1), 1e-9)
	require.InDelta(t, 0, similarityFromDistance(2), 1e-9)
	require.InDelta(t, 1, similarityFromDistance(-0.0001), 1e-9)
}

func resultIDs(results []SearchResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ChunkID)
	}
	return ids
}

package retrieval

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/laisky-kb-retrieval/internal/events"
)

func TestSimilarToDocumentExcludesSource(t *testing.T) {
	h := newHarness(t, func(s *Settings) {
		s.ChunkMaxChars = 100
		s.ChunkOverlap = 0
	})

	h.mock.ExpectQuery(regexp.QuoteMeta(`>= $2 AND NOT (document_id = ANY($3::text[])) ORDER BY distance ASC, id ASC LIMIT $4`)).
		WithArgs(pgvector.NewVector([]float32{0.5, 0.5, 0}), 0.1, []string{"doc-src"}, 5).
		WillReturnRows(pgxmock.NewRows(chunkColumns).
			AddRow("c-2", "doc-2", 0, "related", "{}", 0.2))

	text := strings.Repeat("a longer paragraph about index tuning and vacuum scheduling.\n\n", 2)
	results, err := h.svc.SimilarToDocument(context.Background(), DocumentRequest{
		DocumentID: "doc-src",
		Text:       text,
	})
	require.NoError(t, err)
	require.NoError(t, h.mock.ExpectationsWereMet())
	require.Equal(t, []string{"c-2"}, resultIDs(results))
	require.InDelta(t, 0.8, results[0].Similarity, 1e-9)
	require.EqualValues(t, 1, h.embedder.batchCalls.Load())
	require.EqualValues(t, 2, h.embedder.batchSize.Load())

	evts := h.sink.Recent(events.SearchPerformed, 0)
	require.Len(t, evts, 1)
	require.Equal(t, opDocumentSimilarity, evts[0].Operation)
}

func TestSimilarToDocumentCapsChunks(t *testing.T) {
	h := newHarness(t, func(s *Settings) {
		s.ChunkMaxChars = 100
		s.ChunkOverlap = 0
		s.DocumentMaxChunks = 3
	})
	h.mock.ExpectQuery(`FROM kb_chunks`).WithArgs(pgxmock.AnyArg(), 0.1, 5).WillReturnRows(pgxmock.NewRows(chunkColumns))

	text := strings.Repeat("each paragraph becomes its own chunk when the limit is small.\n\n", 10)
	_, err := h.svc.SimilarToDocument(context.Background(), DocumentRequest{Text: text})
	require.NoError(t, err)
	require.EqualValues(t, 3, h.embedder.batchSize.Load())
}

func TestSimilarToDocumentRejectsBlankText(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.SimilarToDocument(context.Background(), DocumentRequest{DocumentID: "d", Text: "\n\n  "})
	require.True(t, IsCode(err, ErrCodeFilterValidationFailure))
	require.Zero(t, h.embedder.batchCalls.Load())
}

func TestMeanVector(t *testing.T) {
	mean, err := meanVector([]pgvector.Vector{
		pgvector.NewVector([]float32{1, 0, 2}),
		pgvector.NewVector([]float32{0, 1, 4}),
	})
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, 0.5, 3}, mean.Slice())

	_, err = meanVector(nil)
	require.True(t, IsCode(err, ErrCodeEmbeddingFailure))

	_, err = meanVector([]pgvector.Vector{
		pgvector.NewVector([]float32{1, 0}),
		pgvector.NewVector([]float32{1}),
	})
	require.True(t, IsCode(err, ErrCodeEmbeddingFailure))
}

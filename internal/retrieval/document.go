package retrieval

import (
	"context"

	pgvector "github.com/pgvector/pgvector-go"
)

const opDocumentSimilarity = "document_similarity"

// SimilarToDocument chunks the given text, embeds the chunks, and
// searches with their centroid. Chunks of DocumentID itself are excluded.
func (s *Service) SimilarToDocument(ctx context.Context, req DocumentRequest) (results []SearchResult, err error) {
	searchReq := SearchRequest{Query: req.Text, Scope: req.Scope, Filter: req.Filter}
	startAt := s.clock()
	defer func() {
		if err != nil {
			err = withContext(asTyped(err), opDocumentSimilarity, searchReq, s.clock().Sub(startAt))
		}
		s.finish(ctx, opDocumentSimilarity, searchReq, startAt, len(results), err)
	}()

	if isBlank(req.Text) {
		return nil, validationError("document text cannot be empty")
	}
	filter, err := s.resolveFilter(req.Filter)
	if err != nil {
		return nil, err
	}

	fragments := s.chunker.Split(req.Text, s.settings.ChunkMaxChars, s.settings.ChunkOverlap)
	if len(fragments) == 0 {
		return nil, validationError("document text produced no chunks")
	}
	if len(fragments) > s.settings.DocumentMaxChunks {
		fragments = fragments[:s.settings.DocumentMaxChunks]
	}
	texts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		texts = append(texts, f.Text)
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, classifyEmbeddingError(err)
	}
	centroid, err := meanVector(vectors)
	if err != nil {
		return nil, err
	}

	var exclude []string
	if req.DocumentID != "" {
		exclude = []string{req.DocumentID}
	}
	return s.searchByVector(ctx, centroid, req.Scope, filter, exclude)
}

// meanVector averages equally sized vectors. Cosine distance ignores
// magnitude, so the result is not renormalized.
func meanVector(vectors []pgvector.Vector) (pgvector.Vector, error) {
	if len(vectors) == 0 {
		return pgvector.Vector{}, NewError(ErrCodeEmbeddingFailure, "no vectors to average", false)
	}
	dim := len(vectors[0].Slice())
	sum := make([]float64, dim)
	for _, v := range vectors {
		values := v.Slice()
		if len(values) != dim {
			return pgvector.Vector{}, NewError(ErrCodeEmbeddingFailure, "document chunk vectors differ in dimension", false)
		}
		for i, x := range values {
			sum[i] += float64(x)
		}
	}

	out := make([]float32, dim)
	for i, x := range sum {
		out[i] = float32(x / float64(len(vectors)))
	}
	return pgvector.NewVector(out), nil
}

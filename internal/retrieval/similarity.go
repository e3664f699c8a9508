package retrieval

import (
	"context"
	"encoding/json"
	"math"
	"sort"

	errors "github.com/Laisky/errors/v2"
	pgvector "github.com/pgvector/pgvector-go"
)

const opSimilaritySearch = "similarity_search"

// SimilaritySearch embeds the query and returns the nearest chunks whose
// similarity meets the floor, best first.
func (s *Service) SimilaritySearch(ctx context.Context, req SearchRequest) (results []SearchResult, err error) {
	startAt := s.clock()
	defer func() {
		if err != nil {
			err = withContext(asTyped(err), opSimilaritySearch, req, s.clock().Sub(startAt))
		}
		s.finish(ctx, opSimilaritySearch, req, startAt, len(results), err)
	}()

	if err = validateQuery(req.Query); err != nil {
		return nil, err
	}
	filter, err := s.resolveFilter(req.Filter)
	if err != nil {
		return nil, err
	}

	vec, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, classifyEmbeddingError(err)
	}

	return s.searchByVector(ctx, vec, req.Scope, filter, nil)
}

// searchByVector runs the nearest-neighbour query. Chunks belonging to
// excludeDocs are skipped.
func (s *Service) searchByVector(ctx context.Context, vec pgvector.Vector, scope Scope, filter resolvedFilter, excludeDocs []string) ([]SearchResult, error) {
	b := &queryBuilder{}
	vecArg := b.arg(vec)
	distance := "(embedding <=> " + vecArg + "::vector)"
	// clamp to the reported [0, 1] range so a floor of 0 admits every chunk
	b.where("GREATEST(0, 1 - " + distance + ") >= " + b.arg(filter.minSimilarity))
	b.scope(scope, filter.Filter)
	if len(excludeDocs) > 0 {
		b.where("NOT (document_id = ANY(" + b.arg(excludeDocs) + "::text[]))")
	}

	query := `SELECT id, document_id, chunk_index, content, COALESCE(metadata::text, '{}'), ` +
		distance + ` AS distance FROM ` + ChunkTable + b.whereSQL() +
		` ORDER BY distance ASC, id ASC LIMIT ` + b.arg(filter.limit)

	queryCtx, cancel := context.WithTimeout(ctx, s.settings.QueryTimeout)
	defer cancel()

	rows, err := s.db.Query(queryCtx, query, b.args...)
	if err != nil {
		return nil, classifyStoreError(queryCtx, errors.Wrap(err, "query similar chunks"))
	}
	defer rows.Close()

	results := make([]SearchResult, 0, filter.limit)
	for rows.Next() {
		var (
			r        SearchResult
			metadata string
			dist     float64
		)
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.ChunkIndex, &r.Content, &metadata, &dist); err != nil {
			return nil, classifyStoreError(queryCtx, errors.Wrap(err, "scan similar chunk"))
		}
		r.ID = r.ChunkID
		r.Similarity = similarityFromDistance(dist)
		r.Metadata = decodeMetadata(metadata)
		r.Origin = OriginVector
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError(queryCtx, errors.Wrap(err, "iterate similar chunks"))
	}

	sortBySimilarity(results)
	if len(results) > filter.limit {
		results = results[:filter.limit]
	}
	return results, nil
}

// similarityFromDistance maps cosine distance onto [0, 1]; identical
// vectors score 1.
func similarityFromDistance(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	return math.Max(0, math.Min(1, 1-distance))
}

// sortBySimilarity orders by descending similarity, ties by chunk id.
func sortBySimilarity(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

func decodeMetadata(raw string) map[string]any {
	if raw == "" || raw == "{}" || raw == "null" {
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func asTyped(err error) *Error {
	if typed, ok := AsError(err); ok {
		return typed
	}
	return &Error{Code: ErrCodeStoreQueryFailure, Message: "search failed", cause: err}
}

package retrieval

import (
	"context"
	"sort"

	errors "github.com/Laisky/errors/v2"
)

const opLexicalSearch = "lexical_search"

// LexicalSearch ranks chunks by full-text relevance. The similarity floor
// does not apply; results carry LexicalScore and a zero Similarity.
func (s *Service) LexicalSearch(ctx context.Context, req SearchRequest) (results []SearchResult, err error) {
	startAt := s.clock()
	defer func() {
		if err != nil {
			err = withContext(asTyped(err), opLexicalSearch, req, s.clock().Sub(startAt))
		}
		s.finish(ctx, opLexicalSearch, req, startAt, len(results), err)
	}()

	if err = validateQuery(req.Query); err != nil {
		return nil, err
	}
	filter, err := s.resolveFilter(req.Filter)
	if err != nil {
		return nil, err
	}

	return s.searchByText(ctx, req.Query, req.Scope, filter, filter.limit)
}

func (s *Service) searchByText(ctx context.Context, text string, scope Scope, filter resolvedFilter, limit int) ([]SearchResult, error) {
	b := &queryBuilder{}
	tsQuery := "plainto_tsquery(" + b.arg(s.settings.TextSearchConfig) + "::regconfig, " + b.arg(text) + ")"
	b.where("content_tsv @@ " + tsQuery)
	b.scope(scope, filter.Filter)

	query := `SELECT id, document_id, chunk_index, content, COALESCE(metadata::text, '{}'), ` +
		`ts_rank_cd(content_tsv, ` + tsQuery + `) AS rank FROM ` + ChunkTable + b.whereSQL() +
		` ORDER BY rank DESC, id ASC LIMIT ` + b.arg(limit)

	queryCtx, cancel := context.WithTimeout(ctx, s.settings.QueryTimeout)
	defer cancel()

	rows, err := s.db.Query(queryCtx, query, b.args...)
	if err != nil {
		return nil, classifyStoreError(queryCtx, errors.Wrap(err, "query lexical chunks"))
	}
	defer rows.Close()

	results := make([]SearchResult, 0, limit)
	for rows.Next() {
		var (
			r        SearchResult
			metadata string
			rank     float64
		)
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.ChunkIndex, &r.Content, &metadata, &rank); err != nil {
			return nil, classifyStoreError(queryCtx, errors.Wrap(err, "scan lexical chunk"))
		}
		r.ID = r.ChunkID
		r.Metadata = decodeMetadata(metadata)
		r.LexicalScore = &rank
		r.Origin = OriginLexical
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError(queryCtx, errors.Wrap(err, "iterate lexical chunks"))
	}

	sort.SliceStable(results, func(i, j int) bool {
		if *results[i].LexicalScore != *results[j].LexicalScore {
			return *results[i].LexicalScore > *results[j].LexicalScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

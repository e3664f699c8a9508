package retrieval

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
)

const opHybridSearch = "hybrid_search"

// HybridSearch runs the vector and lexical branches concurrently with the
// same scope and fuses them. Either branch failing fails the whole call.
//
// Each branch fetches up to the hybrid ceiling. The fused list is cut to
// the ceiling, or to Filter.MaxResults when the caller set a smaller one.
func (s *Service) HybridSearch(ctx context.Context, req HybridRequest) (results []SearchResult, err error) {
	startAt := s.clock()
	defer func() {
		if err != nil {
			err = withContext(asTyped(err), opHybridSearch, req.SearchRequest, s.clock().Sub(startAt))
		}
		s.finish(ctx, opHybridSearch, req.SearchRequest, startAt, len(results), err)
	}()

	if err = validateQuery(req.Query); err != nil {
		return nil, err
	}
	filter, err := s.resolveFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	weights, err := s.resolveWeights(req.Weights)
	if err != nil {
		return nil, err
	}

	ceiling := s.settings.HybridCeiling
	outLimit := ceiling
	if req.Filter.MaxResults > 0 && req.Filter.MaxResults < outLimit {
		outLimit = req.Filter.MaxResults
	}
	branchFilter := filter
	branchFilter.limit = ceiling

	var vectorHits, lexicalHits []SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := s.embedder.EmbedQuery(gctx, req.Query)
		if err != nil {
			return classifyEmbeddingError(err)
		}
		hits, err := s.searchByVector(gctx, vec, req.Scope, branchFilter, nil)
		if err != nil {
			return err
		}
		vectorHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := s.searchByText(gctx, req.Query, req.Scope, branchFilter, ceiling)
		if err != nil {
			return err
		}
		lexicalHits = hits
		return nil
	})
	if err = g.Wait(); err != nil {
		return nil, err
	}

	return Fuse(vectorHits, lexicalHits, weights, outLimit), nil
}

func (s *Service) resolveWeights(w *Weights) (Weights, error) {
	if w == nil {
		return Weights{Vector: s.settings.VectorWeight, Lexical: s.settings.LexicalWeight}, nil
	}
	if math.IsNaN(w.Vector) || math.IsNaN(w.Lexical) || math.IsInf(w.Vector, 0) || math.IsInf(w.Lexical, 0) {
		return Weights{}, validationError("weights must be finite")
	}
	if w.Vector < 0 || w.Lexical < 0 {
		return Weights{}, validationError("weights must not be negative")
	}
	return *w, nil
}

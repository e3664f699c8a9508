package retrieval

import "sort"

// positionScore is the linear-decay rank score of 0-based position i in
// a list of n items: the first item scores 1 and scores approach 0 at
// the tail without reaching it.
func positionScore(i, n int) float64 {
	if n <= 0 {
		return 0
	}
	return 1 - float64(i)/float64(n+1)
}

// Fuse merges a vector list and a lexical list, each already ranked best
// first, into one list ordered by weighted position score.
//
// A chunk present in both lists sums its contributions and is tagged
// hybrid. Equal scores keep encounter order: vector list order first,
// then lexical-only chunks in lexical order. The result holds at most
// ceiling items when ceiling > 0.
func Fuse(vector, lexical []SearchResult, w Weights, ceiling int) []SearchResult {
	merged := make([]SearchResult, 0, len(vector)+len(lexical))
	index := make(map[string]int, len(vector)+len(lexical))

	for i, r := range vector {
		if _, dup := index[r.ChunkID]; dup {
			continue
		}
		score := w.Vector * positionScore(i, len(vector))
		r.FusedScore = &score
		r.Origin = OriginVector
		index[r.ChunkID] = len(merged)
		merged = append(merged, r)
	}

	seenLexical := make(map[string]struct{}, len(lexical))
	for i, r := range lexical {
		if _, dup := seenLexical[r.ChunkID]; dup {
			continue
		}
		seenLexical[r.ChunkID] = struct{}{}

		contribution := w.Lexical * positionScore(i, len(lexical))
		if at, ok := index[r.ChunkID]; ok {
			existing := &merged[at]
			score := *existing.FusedScore + contribution
			existing.FusedScore = &score
			existing.LexicalScore = r.LexicalScore
			existing.Origin = OriginHybrid
			continue
		}

		score := contribution
		r.FusedScore = &score
		r.Origin = OriginLexical
		index[r.ChunkID] = len(merged)
		merged = append(merged, r)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return *merged[i].FusedScore > *merged[j].FusedScore
	})
	if ceiling > 0 && len(merged) > ceiling {
		merged = merged[:ceiling]
	}
	return merged
}

// Package retrieval serves similarity, lexical and hybrid searches over
// embedded knowledge-base chunks stored in Postgres with pgvector.
package retrieval

import (
	pgvector "github.com/pgvector/pgvector-go"
)

// Origin tags which branch produced a result.
type Origin string

const (
	OriginVector  Origin = "vector"
	OriginLexical Origin = "lexical"
	OriginHybrid  Origin = "hybrid"
)

// Chunk is a stored unit of retrievable text.
type Chunk struct {
	ID              string
	KnowledgeBaseID string
	DocumentID      string
	ChunkIndex      int
	Content         string
	ContentType     string
	CollectionIDs   []string
	Metadata        map[string]any
	Embedding       pgvector.Vector
}

// Scope identifies the caller and the knowledge bases it may read.
type Scope struct {
	ChatbotID string `json:"chatbot_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	// KnowledgeBaseIDs restricts the search to these knowledge bases when non-empty.
	KnowledgeBaseIDs []string `json:"knowledge_base_ids,omitempty"`
}

// Filter narrows eligible chunks. Every non-empty allow-list is applied
// conjunctively in SQL before ranking.
type Filter struct {
	CollectionIDs []string `json:"collection_ids,omitempty"`
	DocumentIDs   []string `json:"document_ids,omitempty"`
	ContentTypes  []string `json:"content_types,omitempty"`
	// MinSimilarity defaults to the configured floor when nil.
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
	// MaxResults defaults to the configured default when <= 0.
	MaxResults int `json:"max_results,omitempty"`
}

// Weights scales the two hybrid branches. Both must be non-negative.
type Weights struct {
	Vector  float64 `json:"vector"`
	Lexical float64 `json:"lexical"`
}

// SearchRequest is the input of SimilaritySearch and LexicalSearch.
type SearchRequest struct {
	Query  string `json:"query"`
	Scope  Scope  `json:"scope"`
	Filter Filter `json:"filter"`
}

// HybridRequest is the input of HybridSearch.
type HybridRequest struct {
	SearchRequest
	// Weights defaults to the configured weights when nil.
	Weights *Weights `json:"weights,omitempty"`
}

// DocumentRequest asks for chunks similar to a whole document.
type DocumentRequest struct {
	DocumentID string `json:"document_id,omitempty"`
	Text       string `json:"text"`
	Scope      Scope  `json:"scope"`
	Filter     Filter `json:"filter"`
}

// SearchResult is one ranked chunk.
type SearchResult struct {
	ID           string         `json:"id"`
	ChunkID      string         `json:"chunk_id"`
	DocumentID   string         `json:"document_id"`
	ChunkIndex   int            `json:"chunk_index"`
	Content      string         `json:"content"`
	Similarity   float64        `json:"similarity"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	LexicalScore *float64       `json:"lexical_score,omitempty"`
	FusedScore   *float64       `json:"fused_score,omitempty"`
	Origin       Origin         `json:"origin"`
}

// resolvedFilter is a validated Filter with defaults applied.
type resolvedFilter struct {
	Filter
	minSimilarity float64
	limit         int
}

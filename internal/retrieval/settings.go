package retrieval

import (
	"math"
	"time"

	"github.com/Laisky/laisky-kb-retrieval/library/config"
)

// Settings captures search tuning knobs.
type Settings struct {
	DefaultMaxResults    int
	MaxResultsCap        int
	DefaultMinSimilarity float64
	HybridCeiling        int
	VectorWeight         float64
	LexicalWeight        float64
	// QueryTimeout bounds each store round-trip.
	QueryTimeout time.Duration
	// UsageTimeout bounds each background usage write.
	UsageTimeout time.Duration
	// TextSearchConfig is the Postgres regconfig used for lexical search.
	TextSearchConfig string
	ChunkMaxChars    int
	ChunkOverlap     int
	// DocumentMaxChunks caps how many chunks of a document are embedded
	// for document similarity.
	DocumentMaxChunks int
	EmbeddingDim      int
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		DefaultMaxResults:    5,
		MaxResultsCap:        50,
		DefaultMinSimilarity: 0.1,
		HybridCeiling:        20,
		VectorWeight:         0.7,
		LexicalWeight:        0.3,
		QueryTimeout:         3 * time.Second,
		UsageTimeout:         time.Second,
		TextSearchConfig:     "simple",
		ChunkMaxChars:        800,
		ChunkOverlap:         100,
		DocumentMaxChunks:    32,
		EmbeddingDim:         1536,
	}
}

// LoadSettingsFromConfig reads settings.retrieval.* and returns sanitized settings.
func LoadSettingsFromConfig() Settings {
	def := DefaultSettings()
	cfg := Settings{
		DefaultMaxResults:    config.Int("settings.retrieval.default_max_results", def.DefaultMaxResults),
		MaxResultsCap:        config.Int("settings.retrieval.max_results_cap", def.MaxResultsCap),
		DefaultMinSimilarity: config.Float("settings.retrieval.default_min_similarity", def.DefaultMinSimilarity),
		HybridCeiling:        config.Int("settings.retrieval.hybrid_ceiling", def.HybridCeiling),
		VectorWeight:         config.Float("settings.retrieval.vector_weight", def.VectorWeight),
		LexicalWeight:        config.Float("settings.retrieval.lexical_weight", def.LexicalWeight),
		QueryTimeout:         config.Duration("settings.retrieval.query_timeout", def.QueryTimeout),
		UsageTimeout:         config.Duration("settings.retrieval.usage_timeout", def.UsageTimeout),
		TextSearchConfig:     config.String("settings.retrieval.text_search_config", def.TextSearchConfig),
		ChunkMaxChars:        config.Int("settings.retrieval.chunk_max_chars", def.ChunkMaxChars),
		ChunkOverlap:         config.Int("settings.retrieval.chunk_overlap", def.ChunkOverlap),
		DocumentMaxChunks:    config.Int("settings.retrieval.document_max_chunks", def.DocumentMaxChunks),
		EmbeddingDim:         config.Int("settings.openai.embedding_dimension", def.EmbeddingDim),
	}
	return cfg.sanitize()
}

func (s Settings) sanitize() Settings {
	def := DefaultSettings()
	if s.MaxResultsCap <= 0 || s.MaxResultsCap > def.MaxResultsCap {
		s.MaxResultsCap = def.MaxResultsCap
	}
	if s.DefaultMaxResults <= 0 {
		s.DefaultMaxResults = def.DefaultMaxResults
	}
	if s.DefaultMaxResults > s.MaxResultsCap {
		s.DefaultMaxResults = s.MaxResultsCap
	}
	if s.DefaultMinSimilarity < 0 || s.DefaultMinSimilarity > 1 || math.IsNaN(s.DefaultMinSimilarity) {
		s.DefaultMinSimilarity = def.DefaultMinSimilarity
	}
	if s.HybridCeiling <= 0 {
		s.HybridCeiling = def.HybridCeiling
	}
	if s.VectorWeight < 0 || math.IsNaN(s.VectorWeight) {
		s.VectorWeight = def.VectorWeight
	}
	if s.LexicalWeight < 0 || math.IsNaN(s.LexicalWeight) {
		s.LexicalWeight = def.LexicalWeight
	}
	if s.QueryTimeout <= 0 {
		s.QueryTimeout = def.QueryTimeout
	}
	if s.UsageTimeout <= 0 {
		s.UsageTimeout = def.UsageTimeout
	}
	if s.TextSearchConfig == "" {
		s.TextSearchConfig = def.TextSearchConfig
	}
	if s.ChunkMaxChars < 100 {
		s.ChunkMaxChars = def.ChunkMaxChars
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkMaxChars/2 {
		s.ChunkOverlap = min(def.ChunkOverlap, s.ChunkMaxChars/4)
	}
	if s.DocumentMaxChunks <= 0 {
		s.DocumentMaxChunks = def.DocumentMaxChunks
	}
	if s.EmbeddingDim <= 0 {
		s.EmbeddingDim = def.EmbeddingDim
	}
	return s
}

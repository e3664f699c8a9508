package retrieval

import (
	"context"
	"fmt"
	"regexp"

	errors "github.com/Laisky/errors/v2"
)

// ChunkTable is the table holding embedded chunks.
const ChunkTable = "kb_chunks"

var textSearchConfigPattern = regexp.MustCompile(`^[a-z_]{1,63}$`)

// migrationStatements returns the idempotent DDL for the chunk store.
// The vector index itself is managed by the optimizer.
func migrationStatements(dim int, textSearchConfig string) ([]string, error) {
	if dim <= 0 {
		return nil, errors.Errorf("invalid embedding dimension %d", dim)
	}
	if !textSearchConfigPattern.MatchString(textSearchConfig) {
		return nil, errors.Errorf("invalid text search config %q", textSearchConfig)
	}

	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS kb_chunks (
			id TEXT PRIMARY KEY,
			knowledge_base_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'text',
			collection_ids TEXT[] NOT NULL DEFAULT '{}',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL,
			content_tsv tsvector GENERATED ALWAYS AS (to_tsvector('%s', content)) STORED,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dim, textSearchConfig),
		`CREATE INDEX IF NOT EXISTS idx_kb_chunks_kb ON kb_chunks (knowledge_base_id)`,
		`CREATE INDEX IF NOT EXISTS idx_kb_chunks_document ON kb_chunks (document_id, chunk_index)`,
		`CREATE INDEX IF NOT EXISTS idx_kb_chunks_collections ON kb_chunks USING gin (collection_ids)`,
		`CREATE INDEX IF NOT EXISTS idx_kb_chunks_tsv ON kb_chunks USING gin (content_tsv)`,
	}, nil
}

// RunMigrations creates the chunk store when missing.
func RunMigrations(ctx context.Context, db DB, settings Settings) error {
	settings = settings.sanitize()
	stmts, err := migrationStatements(settings.EmbeddingDim, settings.TextSearchConfig)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "apply kb chunk migration")
		}
	}
	return nil
}

package retrieval

import (
	"fmt"
	"strings"
)

// queryBuilder collects WHERE clauses with positional placeholders.
type queryBuilder struct {
	clauses []string
	args    []any
}

// arg appends a bound value and returns its placeholder.
func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *queryBuilder) where(clause string) {
	b.clauses = append(b.clauses, clause)
}

// scope adds the conjunctive scope and filter pre-filters.
func (b *queryBuilder) scope(scope Scope, f Filter) {
	if len(scope.KnowledgeBaseIDs) > 0 {
		b.where("knowledge_base_id = ANY(" + b.arg(scope.KnowledgeBaseIDs) + "::text[])")
	}
	if len(f.CollectionIDs) > 0 {
		b.where("collection_ids && " + b.arg(f.CollectionIDs) + "::text[]")
	}
	if len(f.DocumentIDs) > 0 {
		b.where("document_id = ANY(" + b.arg(f.DocumentIDs) + "::text[])")
	}
	if len(f.ContentTypes) > 0 {
		b.where("content_type = ANY(" + b.arg(f.ContentTypes) + "::text[])")
	}
}

func (b *queryBuilder) whereSQL() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

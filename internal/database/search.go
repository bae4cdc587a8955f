//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/pgEdge/pgedge-chat-server/internal/config"
)

// parseTableIdentifier splits a table name into schema and table parts.
// Supports formats: "table", "schema.table"
func parseTableIdentifier(table string) pgx.Identifier {
	parts := strings.Split(table, ".")
	return pgx.Identifier(parts)
}

// SearchResult represents a single knowledge chunk.
type SearchResult struct {
	ID      string  `json:"id,omitempty"`
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score"`
}

// buildSearchQuery builds the brain-scoped similarity query for a table
// layout. Optional id and source columns are selected as empty strings when
// not configured.
func buildSearchQuery(k config.KnowledgeConfig) string {
	idExpr := "''"
	if k.IDColumn != "" {
		idExpr = pgx.Identifier{k.IDColumn}.Sanitize() + "::text"
	}
	sourceExpr := "''"
	if k.SourceColumn != "" {
		sourceExpr = "COALESCE(" + pgx.Identifier{k.SourceColumn}.Sanitize() + "::text, '')"
	}
	vector := pgx.Identifier{k.VectorColumn}.Sanitize()

	// <=> is cosine distance; similarity is 1 - distance.
	return fmt.Sprintf(`
		SELECT
			%s AS id,
			%s AS content,
			%s AS source,
			1 - (%s <=> $1::vector) AS score
		FROM %s
		WHERE %s::text = $2 AND %s IS NOT NULL
		ORDER BY %s <=> $1::vector
		LIMIT $3`,
		idExpr,
		pgx.Identifier{k.TextColumn}.Sanitize(),
		sourceExpr,
		vector,
		parseTableIdentifier(k.Table).Sanitize(),
		pgx.Identifier{k.BrainColumn}.Sanitize(),
		pgx.Identifier{k.TextColumn}.Sanitize(),
		vector,
	)
}

// SearchBrain returns the k chunks of a brain's knowledge most similar to
// the embedding, highest similarity first.
func (p *Pool) SearchBrain(
	ctx context.Context,
	k config.KnowledgeConfig,
	brainID uuid.UUID,
	embedding []float32,
	limit int,
) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := p.db.Query(ctx, buildSearchQuery(k),
		pgvector.NewVector(embedding), brainID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Content, &r.Source, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

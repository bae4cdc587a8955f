//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pgEdge/pgedge-chat-server/internal/chat"
	"github.com/pgEdge/pgedge-chat-server/internal/config"
	"github.com/pgEdge/pgedge-chat-server/internal/database"
	"github.com/pgEdge/pgedge-chat-server/internal/llm"
)

// Retriever finds knowledge relevant to a question within a brain.
type Retriever interface {
	Retrieve(ctx context.Context, brainID uuid.UUID, query string, limit int) ([]chat.Source, error)
}

// Searcher runs a similarity search over a brain's knowledge.
type Searcher interface {
	SearchBrain(
		ctx context.Context,
		k config.KnowledgeConfig,
		brainID uuid.UUID,
		embedding []float32,
		limit int,
	) ([]database.SearchResult, error)
}

// VectorRetriever embeds the question and searches the knowledge table.
type VectorRetriever struct {
	embedder  llm.EmbeddingProvider
	searcher  Searcher
	knowledge config.KnowledgeConfig
	logger    *slog.Logger
}

// NewVectorRetriever creates a retriever.
func NewVectorRetriever(
	embedder llm.EmbeddingProvider,
	searcher Searcher,
	knowledge config.KnowledgeConfig,
	logger *slog.Logger,
) *VectorRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorRetriever{
		embedder:  embedder,
		searcher:  searcher,
		knowledge: knowledge,
		logger:    logger.With("component", "retriever"),
	}
}

// Retrieve returns up to limit unique chunks, most similar first.
func (r *VectorRetriever) Retrieve(ctx context.Context, brainID uuid.UUID, query string, limit int) ([]chat.Source, error) {
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	// Over-fetch so duplicates do not eat into the limit.
	results, err := r.searcher.SearchBrain(ctx, r.knowledge, brainID, embedding, limit*2)
	if err != nil {
		return nil, err
	}

	results = deduplicateResults(results, limit)
	r.logger.Debug("knowledge retrieved",
		"brain_id", brainID,
		"results", len(results),
	)

	sources := make([]chat.Source, len(results))
	for i, res := range results {
		name := res.Source
		if name == "" {
			name = res.ID
		}
		sources[i] = chat.Source{Name: name, Content: res.Content, Score: res.Score}
	}
	return sources, nil
}

// deduplicateResults removes duplicate content and limits to topN.
func deduplicateResults(results []database.SearchResult, topN int) []database.SearchResult {
	seen := make(map[string]bool)
	unique := make([]database.SearchResult, 0, min(len(results), topN))

	for _, r := range results {
		key := r.Content
		if r.ID != "" {
			key = r.ID
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, r)
		if len(unique) >= topN {
			break
		}
	}

	return unique
}

var _ Retriever = (*VectorRetriever)(nil)

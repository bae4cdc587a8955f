//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package openai

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pgEdge/pgedge-chat-server/internal/llm"
)

// EmbeddingProvider implements llm.EmbeddingProvider.
type EmbeddingProvider struct {
	client *openai.Client
	model  string
}

// NewEmbeddingProvider creates an embedding provider. An empty model uses
// text-embedding-3-small.
func NewEmbeddingProvider(client *openai.Client, model string) *EmbeddingProvider {
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &EmbeddingProvider{client: client, model: model}
}

// Embed generates an embedding vector for text.
func (p *EmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, wrapError("embedding request failed", err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, &llm.Error{Code: llm.ErrCodeModelError, Message: "no embedding in response"}
	}
	return resp.Data[0].Embedding, nil
}

// ModelName returns the model name.
func (p *EmbeddingProvider) ModelName() string {
	return p.model
}

var _ llm.EmbeddingProvider = (*EmbeddingProvider)(nil)

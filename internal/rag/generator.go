//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package rag generates answers from an effective configuration, the
// chat history and, for brains, retrieved knowledge.
package rag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pgEdge/pgedge-chat-server/internal/chat"
	"github.com/pgEdge/pgedge-chat-server/internal/llm"
	"github.com/pgEdge/pgedge-chat-server/internal/llm/factory"
	"github.com/pgEdge/pgedge-chat-server/internal/retrieval"
)

// DefaultPrompt is used when neither the brain nor the configuration
// provides one.
const DefaultPrompt = `You are a helpful assistant that answers questions based on the provided context.
Answer the question using only the information from the context.
If the context doesn't contain enough information to answer, say so.
Be concise and accurate in your responses.`

// DirectPrompt is used for direct model chat without a configured prompt.
const DirectPrompt = "You are a helpful assistant."

// ProviderFactory builds completion providers.
type ProviderFactory interface {
	NewCompletionProvider(ctx context.Context, spec factory.Spec) (llm.CompletionProvider, error)
}

// Generator implements chat.Generator.
type Generator struct {
	providers ProviderFactory
	retriever Retriever
	logger    *slog.Logger
}

// NewGenerator creates a generator. A nil retriever disables knowledge
// retrieval.
func NewGenerator(providers ProviderFactory, retriever Retriever, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		providers: providers,
		retriever: retriever,
		logger:    logger.With("component", "generator"),
	}
}

// prepare retrieves context, builds the completion request and creates
// the provider for the configured model.
func (g *Generator) prepare(
	ctx context.Context,
	req chat.GenerationRequest,
) (llm.CompletionProvider, llm.CompletionRequest, []chat.Source, error) {
	cfg := req.Config

	sources := g.retrieve(ctx, req)

	messages := buildMessages(req, cfg.MaxHistory)
	system := buildSystemPrompt(req)

	budget := 0
	if cfg.LLM.MaxContextTokens > 0 {
		used := estimateTokens(system)
		for _, m := range messages {
			used += estimateTokens(m.Content)
		}
		budget = max(cfg.LLM.MaxContextTokens-cfg.LLM.MaxOutputTokens-used, 0)
	}

	completionReq := llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     messages,
		Context:      buildContext(sources, budget, cfg.LLM.MaxContextTokens > 0),
		MaxTokens:    cfg.LLM.MaxOutputTokens,
		Temperature:  cfg.LLM.Temperature,
	}

	provider, err := g.providers.NewCompletionProvider(ctx, factory.Spec{
		Supplier:        cfg.LLM.Supplier,
		Model:           cfg.LLM.Model,
		EndpointURL:     cfg.LLM.EndpointURL,
		EnvVariableName: cfg.LLM.EnvVariableName,
		MaxTokens:       cfg.LLM.MaxOutputTokens,
		Temperature:     cfg.LLM.Temperature,
	})
	if err != nil {
		return nil, llm.CompletionRequest{}, nil, fmt.Errorf("failed to create completion provider: %w", err)
	}

	return provider, completionReq, sources, nil
}

// retrieve fetches knowledge for brain questions. Failures are logged and
// the answer proceeds without context.
func (g *Generator) retrieve(ctx context.Context, req chat.GenerationRequest) []chat.Source {
	cfg := req.Config
	if g.retriever == nil || req.Brain == nil || cfg.Mode != retrieval.ModeRAG || cfg.K <= 0 {
		return nil
	}

	sources, err := g.retriever.Retrieve(ctx, req.Brain.ID, req.Question, cfg.K)
	if err != nil {
		g.logger.Warn("knowledge retrieval failed",
			"brain_id", req.Brain.ID,
			"error", err,
		)
		return nil
	}
	return limitFiles(sources, cfg.MaxFiles)
}

func closeProvider(p llm.CompletionProvider) {
	if c, ok := p.(io.Closer); ok {
		_ = c.Close()
	}
}

// Generate produces a complete answer.
func (g *Generator) Generate(ctx context.Context, req chat.GenerationRequest) (*chat.Generation, error) {
	provider, completionReq, sources, err := g.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	defer closeProvider(provider)

	resp, err := provider.Complete(ctx, completionReq)
	if err != nil {
		return nil, fmt.Errorf("failed to generate completion: %w", err)
	}

	g.logger.Debug("answer generated",
		"model", provider.ModelName(),
		"tokens", resp.Usage.TotalTokens,
		"sources", len(sources),
	)
	return &chat.Generation{Answer: resp.Content, Sources: sources}, nil
}

// GenerateStream produces an answer incrementally. Sources ride on the
// first delta.
func (g *Generator) GenerateStream(ctx context.Context, req chat.GenerationRequest) (<-chan chat.Delta, <-chan error) {
	deltas := make(chan chat.Delta)
	errChan := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errChan)

		provider, completionReq, sources, err := g.prepare(ctx, req)
		if err != nil {
			errChan <- err
			return
		}
		defer closeProvider(provider)

		chunks, llmErrs := provider.CompleteStream(ctx, completionReq)

		pending := sources
		for chunk := range chunks {
			if chunk.Content == "" && pending == nil {
				continue
			}
			select {
			case deltas <- chat.Delta{Content: chunk.Content, Sources: pending}:
				pending = nil
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}

		if err := <-llmErrs; err != nil {
			errChan <- err
		}
	}()

	return deltas, errChan
}

// buildSystemPrompt picks the brain's prompt, then the configured prompt,
// then a default for the mode.
func buildSystemPrompt(req chat.GenerationRequest) string {
	if req.Brain != nil && strings.TrimSpace(req.Brain.Prompt) != "" {
		return req.Brain.Prompt
	}
	if strings.TrimSpace(req.Config.Prompt) != "" {
		return req.Config.Prompt
	}
	if req.Config.Mode == retrieval.ModeDirectChat {
		return DirectPrompt
	}
	return DefaultPrompt
}

// buildMessages converts the last maxHistory turns into a conversation
// ending with the question.
func buildMessages(req chat.GenerationRequest, maxHistory int) []llm.Message {
	history := req.History
	if maxHistory <= 0 {
		history = nil
	} else if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}

	messages := make([]llm.Message, 0, len(history)*2+1)
	for _, t := range history {
		if t.UserMessage == "" || t.Assistant == "" {
			continue
		}
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: t.UserMessage},
			llm.Message{Role: llm.RoleAssistant, Content: t.Assistant},
		)
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: req.Question})
}

// estimateTokens is a rough count at ~4 characters per token.
func estimateTokens(s string) int {
	return len(s) / 4
}

// limitFiles keeps sources from at most maxFiles distinct files.
func limitFiles(sources []chat.Source, maxFiles int) []chat.Source {
	if maxFiles <= 0 {
		return sources
	}
	files := make(map[string]bool)
	out := make([]chat.Source, 0, len(sources))
	for _, s := range sources {
		if !files[s.Name] && len(files) >= maxFiles {
			continue
		}
		files[s.Name] = true
		out = append(out, s)
	}
	return out
}

// buildContext converts sources to context documents within the token
// budget. When bounded is false every source is kept.
func buildContext(sources []chat.Source, tokenBudget int, bounded bool) []llm.ContextDocument {
	docs := make([]llm.ContextDocument, 0, len(sources))
	total := 0

	for _, s := range sources {
		tokens := estimateTokens(s.Content)
		if bounded && total+tokens > tokenBudget {
			// Truncate content to fit within budget
			remaining := tokenBudget - total
			if remaining > 100 {
				truncated := s.Content[:min(len(s.Content), remaining*4)]
				if idx := strings.LastIndex(truncated, ". "); idx > 0 {
					truncated = truncated[:idx+1]
				}
				docs = append(docs, llm.ContextDocument{
					Content: truncated + "...",
					Source:  s.Name,
					Score:   s.Score,
				})
			}
			break
		}

		docs = append(docs, llm.ContextDocument{
			Content: s.Content,
			Source:  s.Name,
			Score:   s.Score,
		})
		total += tokens
	}

	return docs
}

var _ chat.Generator = (*Generator)(nil)

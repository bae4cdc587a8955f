//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package gemini provides completion and embedding providers backed by the
// Google Generative AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/pgEdge/pgedge-chat-server/internal/llm"
)

const defaultEmbeddingModel = "text-embedding-004"

// NewClient creates a Gemini client. Callers must Close it.
func NewClient(ctx context.Context, apiKey, endpoint string) (*genai.Client, error) {
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

// CompletionProvider implements llm.CompletionProvider for a single model.
type CompletionProvider struct {
	client      *genai.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewCompletionProvider creates a provider. The provider owns client and
// closes it in Close.
func NewCompletionProvider(client *genai.Client, model string, maxTokens int, temperature float64) *CompletionProvider {
	return &CompletionProvider{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// toRole maps conversation roles onto Gemini's user/model roles.
func toRole(role string) string {
	if role == llm.RoleAssistant {
		return "model"
	}
	return "user"
}

// session prepares a chat session whose history holds every message but
// the last, which is returned as the parts to send.
func (p *CompletionProvider) session(req llm.CompletionRequest) (*genai.ChatSession, []genai.Part, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("no messages to send")
	}

	model := p.client.GenerativeModel(p.model)

	system := llm.SystemText(req)
	var history []*genai.Content
	for _, msg := range req.Messages[:len(req.Messages)-1] {
		if msg.Role == llm.RoleSystem {
			system = msg.Content + "\n\n" + system
			continue
		}
		history = append(history, &genai.Content{
			Role:  toRole(msg.Role),
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}

	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		model.SetMaxOutputTokens(int32(maxTokens))
	}
	temperature := p.temperature
	if req.Temperature >= 0 {
		temperature = req.Temperature
	}
	model.SetTemperature(float32(temperature))

	cs := model.StartChat()
	cs.History = history

	last := req.Messages[len(req.Messages)-1]
	return cs, []genai.Part{genai.Text(last.Content)}, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, string) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ""
	}
	cand := resp.Candidates[0]
	finish := ""
	if cand.FinishReason != genai.FinishReasonUnspecified {
		finish = strings.ToLower(cand.FinishReason.String())
	}
	if cand.Content == nil {
		return "", finish
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String(), finish
}

func usageOf(resp *genai.GenerateContentResponse) *llm.TokenUsage {
	if resp == nil || resp.UsageMetadata == nil {
		return nil
	}
	return &llm.TokenUsage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

// Complete generates a non-streaming completion.
func (p *CompletionProvider) Complete(
	ctx context.Context,
	req llm.CompletionRequest,
) (*llm.CompletionResponse, error) {
	cs, parts, err := p.session(req)
	if err != nil {
		return nil, err
	}

	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini SendMessage failed: %w", err)
	}

	text, finish := responseText(resp)
	out := &llm.CompletionResponse{Content: text, FinishReason: finish}
	if u := usageOf(resp); u != nil {
		out.Usage = *u
	}
	return out, nil
}

// CompleteStream generates a streaming completion.
func (p *CompletionProvider) CompleteStream(
	ctx context.Context,
	req llm.CompletionRequest,
) (<-chan llm.StreamChunk, <-chan error) {
	chunkChan := make(chan llm.StreamChunk)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		cs, parts, err := p.session(req)
		if err != nil {
			errChan <- err
			return
		}

		iter := cs.SendMessageStream(ctx, parts...)
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					errChan <- ctx.Err()
					return
				}
				errChan <- fmt.Errorf("gemini stream failed: %w", err)
				return
			}

			text, finish := responseText(resp)
			chunk := llm.StreamChunk{Content: text, FinishReason: finish, Usage: usageOf(resp)}
			select {
			case chunkChan <- chunk:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
	}()

	return chunkChan, errChan
}

// ModelName returns the model name.
func (p *CompletionProvider) ModelName() string {
	return p.model
}

// Close releases the underlying client.
func (p *CompletionProvider) Close() error {
	return p.client.Close()
}

// EmbeddingProvider implements llm.EmbeddingProvider.
type EmbeddingProvider struct {
	client *genai.Client
	model  string
}

// NewEmbeddingProvider creates an embedding provider. An empty model uses
// text-embedding-004.
func NewEmbeddingProvider(client *genai.Client, model string) *EmbeddingProvider {
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &EmbeddingProvider{client: client, model: model}
}

// Embed generates an embedding vector for text.
func (p *EmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := p.client.EmbeddingModel(p.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, &llm.Error{Code: llm.ErrCodeModelError, Message: "no embedding data received from gemini"}
	}
	return res.Embedding.Values, nil
}

// ModelName returns the model name.
func (p *EmbeddingProvider) ModelName() string {
	return p.model
}

// Close releases the underlying client.
func (p *EmbeddingProvider) Close() error {
	return p.client.Close()
}

var (
	_ llm.CompletionProvider = (*CompletionProvider)(nil)
	_ llm.EmbeddingProvider  = (*EmbeddingProvider)(nil)
)

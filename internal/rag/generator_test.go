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
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/pgEdge/pgedge-chat-server/internal/chat"
	"github.com/pgEdge/pgedge-chat-server/internal/llm"
	"github.com/pgEdge/pgedge-chat-server/internal/llm/factory"
	"github.com/pgEdge/pgedge-chat-server/internal/retrieval"
	"github.com/pgEdge/pgedge-chat-server/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockCompletionProvider returns canned completions and records requests.
type MockCompletionProvider struct {
	Chunks   []string
	Err      error
	Requests []llm.CompletionRequest
	Closed   bool
}

func (m *MockCompletionProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return &llm.CompletionResponse{Content: strings.Join(m.Chunks, "")}, nil
}

func (m *MockCompletionProvider) CompleteStream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, <-chan error) {
	m.Requests = append(m.Requests, req)
	out := make(chan llm.StreamChunk)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for _, c := range m.Chunks {
			select {
			case out <- llm.StreamChunk{Content: c}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		select {
		case out <- llm.StreamChunk{FinishReason: "stop"}:
		case <-ctx.Done():
		}
		if m.Err != nil {
			errc <- m.Err
		}
	}()
	return out, errc
}

func (m *MockCompletionProvider) ModelName() string { return "mock" }

func (m *MockCompletionProvider) Close() error {
	m.Closed = true
	return nil
}

// MockFactory hands out a single provider.
type MockFactory struct {
	Provider *MockCompletionProvider
	Err      error
	Specs    []factory.Spec
}

func (f *MockFactory) NewCompletionProvider(_ context.Context, spec factory.Spec) (llm.CompletionProvider, error) {
	f.Specs = append(f.Specs, spec)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Provider, nil
}

// MockRetriever returns fixed sources.
type MockRetriever struct {
	Sources []chat.Source
	Err     error
	Calls   int
	Limit   int
}

func (r *MockRetriever) Retrieve(_ context.Context, _ uuid.UUID, _ string, limit int) ([]chat.Source, error) {
	r.Calls++
	r.Limit = limit
	return r.Sources, r.Err
}

func ragRequest() chat.GenerationRequest {
	return chat.GenerationRequest{
		Question: "How do I install pgEdge?",
		Config: &retrieval.Config{
			Mode:       retrieval.ModeRAG,
			MaxHistory: 1,
			K:          4,
			Prompt:     "Config prompt.",
			LLM: retrieval.LLMSettings{
				Supplier:        "openai",
				Model:           "gpt-x",
				Temperature:     0.3,
				MaxOutputTokens: 256,
				EnvVariableName: "TEAM_KEY",
			},
		},
		Brain: &store.Brain{ID: uuid.New(), Name: "Docs", Model: "gpt-x"},
		History: []store.Turn{
			{UserMessage: "old question", Assistant: "old answer"},
			{UserMessage: "recent question", Assistant: "recent answer"},
		},
	}
}

func TestGenerate(t *testing.T) {
	provider := &MockCompletionProvider{Chunks: []string{"Use ", "the installer."}}
	f := &MockFactory{Provider: provider}
	r := &MockRetriever{Sources: []chat.Source{{Name: "install.md", Content: "Run the installer.", Score: 0.8}}}
	g := NewGenerator(f, r, discardLogger())

	gen, err := g.Generate(context.Background(), ragRequest())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if gen.Answer != "Use the installer." || len(gen.Sources) != 1 {
		t.Errorf("unexpected generation %+v", gen)
	}
	if !provider.Closed {
		t.Error("provider was not closed")
	}

	spec := f.Specs[0]
	if spec.Model != "gpt-x" || spec.Supplier != "openai" || spec.EnvVariableName != "TEAM_KEY" || spec.MaxTokens != 256 {
		t.Errorf("unexpected spec %+v", spec)
	}
	if r.Limit != 4 {
		t.Errorf("retriever limit = %d, want k=4", r.Limit)
	}

	req := provider.Requests[0]
	if req.SystemPrompt != "Config prompt." {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 3 || req.Messages[0].Content != "recent question" || req.Messages[2].Content != "How do I install pgEdge?" {
		t.Errorf("unexpected messages %+v", req.Messages)
	}
	if len(req.Context) != 1 || req.Context[0].Source != "install.md" {
		t.Errorf("unexpected context %+v", req.Context)
	}
	if req.Temperature != 0.3 || req.MaxTokens != 256 {
		t.Errorf("unexpected generation parameters %+v", req)
	}
}

func TestGenerate_DirectChatSkipsRetrieval(t *testing.T) {
	provider := &MockCompletionProvider{Chunks: []string{"hi"}}
	r := &MockRetriever{}
	g := NewGenerator(&MockFactory{Provider: provider}, r, discardLogger())

	req := ragRequest()
	req.Brain = nil
	req.Config.Mode = retrieval.ModeDirectChat
	req.Config.Prompt = ""

	if _, err := g.Generate(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if r.Calls != 0 {
		t.Error("direct chat must not retrieve")
	}
	if provider.Requests[0].SystemPrompt != DirectPrompt {
		t.Errorf("system prompt = %q", provider.Requests[0].SystemPrompt)
	}
}

func TestGenerate_RetrievalFailureContinues(t *testing.T) {
	provider := &MockCompletionProvider{Chunks: []string{"answer"}}
	r := &MockRetriever{Err: errors.New("database down")}
	g := NewGenerator(&MockFactory{Provider: provider}, r, discardLogger())

	gen, err := g.Generate(context.Background(), ragRequest())
	if err != nil {
		t.Fatalf("retrieval failure must not fail generation: %v", err)
	}
	if len(gen.Sources) != 0 || len(provider.Requests[0].Context) != 0 {
		t.Error("expected no context after retrieval failure")
	}
}

func TestGenerate_Errors(t *testing.T) {
	g := NewGenerator(&MockFactory{Err: errors.New("no key")}, nil, discardLogger())
	if _, err := g.Generate(context.Background(), ragRequest()); err == nil {
		t.Error("expected provider creation error")
	}

	provider := &MockCompletionProvider{Err: errors.New("rate limited")}
	g = NewGenerator(&MockFactory{Provider: provider}, nil, discardLogger())
	if _, err := g.Generate(context.Background(), ragRequest()); err == nil {
		t.Error("expected completion error")
	}
	if !provider.Closed {
		t.Error("provider was not closed after failure")
	}
}

func TestGenerateStream(t *testing.T) {
	provider := &MockCompletionProvider{Chunks: []string{"Use ", "the installer."}}
	r := &MockRetriever{Sources: []chat.Source{{Name: "install.md", Content: "x"}}}
	g := NewGenerator(&MockFactory{Provider: provider}, r, discardLogger())

	deltas, errc := g.GenerateStream(context.Background(), ragRequest())

	var got []chat.Delta
	for d := range deltas {
		got = append(got, d)
	}
	if err := <-errc; err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(got))
	}
	if len(got[0].Sources) != 1 || got[1].Sources != nil {
		t.Error("sources must ride on the first delta only")
	}
	if got[0].Content+got[1].Content != "Use the installer." {
		t.Errorf("unexpected content %+v", got)
	}
}

func TestGenerateStream_ProviderError(t *testing.T) {
	g := NewGenerator(&MockFactory{Err: errors.New("no key")}, nil, discardLogger())
	deltas, errc := g.GenerateStream(context.Background(), ragRequest())
	for range deltas {
	}
	if err := <-errc; err == nil {
		t.Error("expected error")
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	req := ragRequest()
	req.Brain.Prompt = "Brain prompt."
	if got := buildSystemPrompt(req); got != "Brain prompt." {
		t.Errorf("brain prompt not preferred: %q", got)
	}
	req.Brain.Prompt = ""
	req.Config.Prompt = ""
	if got := buildSystemPrompt(req); got != DefaultPrompt {
		t.Errorf("expected default prompt, got %q", got)
	}
}

func TestBuildMessages_NoHistory(t *testing.T) {
	req := ragRequest()
	msgs := buildMessages(req, 0)
	if len(msgs) != 1 || msgs[0].Role != llm.RoleUser {
		t.Errorf("unexpected messages %+v", msgs)
	}
}

func TestLimitFiles(t *testing.T) {
	sources := []chat.Source{{Name: "a"}, {Name: "b"}, {Name: "a"}, {Name: "c"}}
	got := limitFiles(sources, 2)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks from 2 files, got %+v", got)
	}
	for _, s := range got {
		if s.Name == "c" {
			t.Error("third file should be dropped")
		}
	}
	if len(limitFiles(sources, 0)) != 4 {
		t.Error("zero means unlimited")
	}
}

func TestBuildContext_Budget(t *testing.T) {
	long := strings.Repeat("Sentence one. ", 200)
	sources := []chat.Source{
		{Name: "a", Content: "short"},
		{Name: "b", Content: long},
	}

	docs := buildContext(sources, 300, true)
	if len(docs) != 2 {
		t.Fatalf("expected truncated second document, got %d", len(docs))
	}
	if !strings.HasSuffix(docs[1].Content, "...") || len(docs[1].Content) >= len(long) {
		t.Error("second document was not truncated")
	}

	if docs := buildContext(sources, 0, false); len(docs) != 2 || docs[1].Content != long {
		t.Error("unbounded context must keep everything")
	}
}

//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pgEdge/pgedge-chat-server/internal/config"
	"github.com/pgEdge/pgedge-chat-server/internal/retrieval"
	"github.com/pgEdge/pgedge-chat-server/internal/store"
)

const ragDocument = `
max_history: 5
k: 3
prompt: "Answer from the brain's documents."
llm_config:
  temperature: 1.5
  max_context_tokens: 16000
  max_output_tokens: 2000
`

const directDocument = `
max_history: 10
llm_config:
  temperature: 0.2
`

type fixture struct {
	store   *MockStore
	log     *EventLog
	gen     *MockGenerator
	emitter *MockEmitter
	orch    *Orchestrator

	user    uuid.UUID
	chatID  uuid.UUID
	brainID uuid.UUID
}

func newFixture(t *testing.T, source retrieval.Source) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:   NewMockStore(),
		log:     &EventLog{},
		emitter: &MockEmitter{},
		user:    uuid.New(),
		brainID: uuid.New(),
	}
	f.gen = &MockGenerator{Log: f.log}

	f.store.models = []store.Model{
		{Name: "gpt-x", Supplier: "openai", MaxInput: 8000, MaxOutput: 1000, MaxTemperature: 1, Price: 1},
		{Name: "claude-y", Supplier: "anthropic", MaxInput: 100000, MaxOutput: 4000, MaxTemperature: 1, Price: 1},
	}
	_ = f.store.UpsertBrain(ctx, store.Brain{ID: f.brainID, Name: "Docs", Model: "claude-y", Prompt: "Be brief."})
	_ = f.store.SetBrainRole(ctx, f.brainID, f.user, store.RoleViewer)
	f.chatID = f.store.addChat(f.user)

	if source == nil {
		source = retrieval.StaticSource{
			retrieval.ModeRAG:        []byte(ragDocument),
			retrieval.ModeDirectChat: []byte(directDocument),
		}
	}

	f.orch = NewOrchestrator(OrchestratorConfig{
		Chats:  f.store,
		Models: f.store,
		Brains: f.store,
		Authorizer: &RecordingAuthorizer{
			Inner: NewAuthorizationGate(f.store),
			Log:   f.log,
		},
		Usage: &RecordingUsage{
			Inner: NewUsageGate(f.store, f.store, config.UsageConfig{DefaultMonthlyCredit: 10}, discardLogger()),
			Log:   f.log,
		},
		Config: &RecordingConfig{
			Inner: retrieval.NewResolver(source, discardLogger()),
			Log:   f.log,
		},
		Generator:    f.gen,
		Telemetry:    f.emitter,
		DefaultModel: "gpt-x",
		Logger:       discardLogger(),
	})
	return f
}

func (f *fixture) question(target *uuid.UUID) Question {
	return Question{ChatID: f.chatID, Text: "What is pgEdge?", BrainID: target}
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }

func TestGenerateAnswer_ModelTarget(t *testing.T) {
	f := newFixture(t, nil)

	answer, err := f.orch.GenerateAnswer(context.Background(), f.user, f.question(ptr(DerivedID("gpt-x"))))
	if err != nil {
		t.Fatalf("GenerateAnswer failed: %v", err)
	}

	want := []string{"usage:gpt-x", "config:chat_with_llm", "generate"}
	if got := f.log.Events(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if n := f.store.CallCount("GetBrainDetails"); n != 0 {
		t.Errorf("brain lookup must be skipped, got %d calls", n)
	}
	if n := f.store.CallCount("GetBrainRole"); n != 0 {
		t.Errorf("authorization must be skipped, got %d role lookups", n)
	}

	cfg := f.gen.LastRequest.Config
	if cfg.Mode != retrieval.ModeDirectChat || cfg.LLM.Model != "gpt-x" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if f.gen.LastRequest.Brain != nil {
		t.Error("direct chat must not carry a brain")
	}
	if answer.Metadata.Model != "gpt-x" || answer.BrainID != nil {
		t.Errorf("unexpected answer %+v", answer)
	}
	if used, _ := f.store.GetUsage(context.Background(), f.user, Period(time.Now())); used != 1 {
		t.Errorf("expected 1 credit used, got %d", used)
	}
}

func TestGenerateAnswer_BrainTarget(t *testing.T) {
	f := newFixture(t, nil)

	answer, err := f.orch.GenerateAnswer(context.Background(), f.user, f.question(&f.brainID))
	if err != nil {
		t.Fatalf("GenerateAnswer failed: %v", err)
	}

	want := []string{"authorize", "usage:claude-y", "config:rag", "generate"}
	if got := f.log.Events(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	req := f.gen.LastRequest
	if req.Config.Mode != retrieval.ModeRAG || req.Config.LLM.Model != "claude-y" {
		t.Errorf("unexpected config %+v", req.Config)
	}
	if req.Config.LLM.Temperature != 1 {
		t.Errorf("temperature not clamped: %v", req.Config.LLM.Temperature)
	}
	if req.Brain == nil || req.Brain.Model != "claude-y" || req.Brain.Prompt != "Be brief." {
		t.Errorf("unexpected brain %+v", req.Brain)
	}

	turns := f.store.Turns()
	if len(turns) != 1 {
		t.Fatalf("expected one turn, got %d", len(turns))
	}
	if turns[0].BrainID == nil || *turns[0].BrainID != f.brainID {
		t.Errorf("turn brain id = %v", turns[0].BrainID)
	}
	if answer.Assistant != "answer to What is pgEdge?" || answer.BrainName != "Docs" {
		t.Errorf("unexpected answer %+v", answer)
	}

	var meta Metadata
	if err := json.Unmarshal(turns[0].Metadata, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Status != StatusCompleted || meta.Mode != retrieval.ModeRAG {
		t.Errorf("unexpected metadata %+v", meta)
	}

	if len(f.emitter.Events) != 1 || f.emitter.Events[0]["streaming"] != false {
		t.Errorf("unexpected telemetry %v", f.emitter.Events)
	}
}

func TestGenerateAnswer_BrainWithoutModelUsesDefault(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.store.UpsertBrain(context.Background(), store.Brain{ID: f.brainID, Name: "Docs"})

	if _, err := f.orch.GenerateAnswer(context.Background(), f.user, f.question(&f.brainID)); err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(f.log.Events(), "usage:gpt-x") {
		t.Errorf("expected default model to be gated, events %v", f.log.Events())
	}
}

func TestGenerateAnswer_ResolutionFailures(t *testing.T) {
	tests := []struct {
		name   string
		target func(f *fixture) *uuid.UUID
	}{
		{"no target", func(*fixture) *uuid.UUID { return nil }},
		{"unknown brain", func(*fixture) *uuid.UUID { return ptr(uuid.New()) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			_, err := f.orch.GenerateAnswer(context.Background(), f.user, f.question(tt.target(f)))
			if !errors.Is(err, ErrUnprocessable) {
				t.Fatalf("expected ErrUnprocessable, got %v", err)
			}
			if len(f.log.Events()) != 0 {
				t.Errorf("no gate may run after a resolution failure, got %v", f.log.Events())
			}
			if f.store.CallCount("ConsumeUsage") != 0 {
				t.Error("usage consumed after resolution failure")
			}
		})
	}
}

func TestGenerateAnswer_Forbidden(t *testing.T) {
	f := newFixture(t, nil)
	otherBrain := uuid.New()
	_ = f.store.UpsertBrain(context.Background(), store.Brain{ID: otherBrain, Name: "Private", Model: "gpt-x"})

	_, err := f.orch.GenerateAnswer(context.Background(), f.user, f.question(&otherBrain))
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if got := f.log.Events(); !slices.Equal(got, []string{"authorize"}) {
		t.Errorf("events = %v", got)
	}
}

func TestGenerateAnswer_ChatChecks(t *testing.T) {
	f := newFixture(t, nil)

	q := f.question(&f.brainID)
	q.ChatID = uuid.New()
	if _, err := f.orch.GenerateAnswer(context.Background(), f.user, q); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("expected ErrChatNotFound, got %v", err)
	}

	if _, err := f.orch.GenerateAnswer(context.Background(), uuid.New(), f.question(&f.brainID)); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for another user's chat, got %v", err)
	}

	q = f.question(&f.brainID)
	q.Text = "  "
	if _, err := f.orch.GenerateAnswer(context.Background(), f.user, q); !errors.Is(err, ErrUnprocessable) {
		t.Errorf("expected ErrUnprocessable for empty question, got %v", err)
	}

	if f.store.CallCount("GetModels") != 0 || len(f.log.Events()) != 0 {
		t.Error("resolution must not start before the chat checks pass")
	}
}

func TestGenerateAnswer_QuotaExceeded(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.store.SaveUserSettings(context.Background(), store.UserSettings{UserID: f.user, MonthlyChatCredit: 0})

	_, err := f.orch.GenerateAnswer(context.Background(), f.user, f.question(&f.brainID))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if slices.Contains(f.log.Events(), "generate") {
		t.Error("generation ran after quota failure")
	}
}

func TestGenerateAnswer_ConfigurationMissing(t *testing.T) {
	t.Setenv(retrieval.EnvRAGConfigPath, "")
	f := newFixture(t, retrieval.NewEnvSource(t.TempDir()))

	_, err := f.orch.GenerateAnswer(context.Background(), f.user, f.question(&f.brainID))
	if !errors.Is(err, retrieval.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}

	want := []string{"authorize", "usage:claude-y", "config:rag"}
	if got := f.log.Events(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	// Usage is gated before the configuration is built, so the credit is
	// already spent.
	if used, _ := f.store.GetUsage(context.Background(), f.user, Period(time.Now())); used != 1 {
		t.Errorf("expected usage to be consumed, got %d", used)
	}
	if len(f.store.Turns()) != 0 {
		t.Error("no turn may be recorded")
	}
}

func TestGenerateAnswer_GenerationFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.GenerateFunc = func(context.Context, GenerationRequest) (*Generation, error) {
		return nil, errors.New("provider down")
	}

	_, err := f.orch.GenerateAnswer(context.Background(), f.user, f.question(&f.brainID))
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if len(f.store.Turns()) != 0 {
		t.Error("failed synchronous answers are not recorded")
	}
}

func TestGenerateAnswer_PassesHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	q := f.question(&f.brainID)

	if _, err := f.orch.GenerateAnswer(ctx, f.user, q); err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.GenerateAnswer(ctx, f.user, q); err != nil {
		t.Fatal(err)
	}
	if n := len(f.gen.LastRequest.History); n != 1 {
		t.Errorf("expected one previous turn, got %d", n)
	}
}

func collect(t *testing.T, s *Stream) ([]AnswerFragment, error) {
	t.Helper()
	var frags []AnswerFragment
	for frag := range s.Fragments {
		frags = append(frags, frag)
	}
	return frags, <-s.Err
}

func TestGenerateAnswerStream_Completes(t *testing.T) {
	f := newFixture(t, nil)

	stream, err := f.orch.GenerateAnswerStream(context.Background(), f.user, f.question(&f.brainID))
	if err != nil {
		t.Fatalf("GenerateAnswerStream failed: %v", err)
	}

	frags, err := collect(t, stream)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(frags) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(frags))
	}
	for _, frag := range frags {
		if frag.MessageID != stream.MessageID {
			t.Errorf("fragment message id %s, want %s", frag.MessageID, stream.MessageID)
		}
		if frag.Metadata.Status != StatusStreaming {
			t.Errorf("fragment status %q, want %q", frag.Metadata.Status, StatusStreaming)
		}
	}
	if last := frags[2]; last.Assistant != "Hello, world" || last.Delta != "world" {
		t.Errorf("unexpected last fragment %+v", last)
	}
	if len(frags[2].Metadata.Sources) != 1 {
		t.Errorf("expected sources to be carried forward")
	}

	turns := f.store.Turns()
	if len(turns) != 1 {
		t.Fatalf("expected one turn, got %d", len(turns))
	}
	if turns[0].MessageID != stream.MessageID || turns[0].Assistant != "Hello, world" {
		t.Errorf("unexpected turn %+v", turns[0])
	}
	var meta Metadata
	if err := json.Unmarshal(turns[0].Metadata, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Status != StatusCompleted {
		t.Errorf("saved turn status %q, want %q", meta.Status, StatusCompleted)
	}
	if len(f.emitter.Events) != 1 || f.emitter.Events[0]["streaming"] != true {
		t.Errorf("unexpected telemetry %v", f.emitter.Events)
	}
}

func TestGenerateAnswerStream_SetupErrorBeforeStreaming(t *testing.T) {
	f := newFixture(t, nil)

	stream, err := f.orch.GenerateAnswerStream(context.Background(), f.user, f.question(ptr(uuid.New())))
	if !errors.Is(err, ErrUnprocessable) {
		t.Fatalf("expected ErrUnprocessable, got %v", err)
	}
	if stream != nil {
		t.Error("no stream may be returned on setup failure")
	}
	if slices.Contains(f.log.Events(), "generate") {
		t.Error("generation started despite setup failure")
	}
}

func TestGenerateAnswerStream_Cancelled(t *testing.T) {
	f := newFixture(t, nil)
	generatorDone := make(chan struct{})
	f.gen.StreamFunc = func(ctx context.Context, _ GenerationRequest) (<-chan Delta, <-chan error) {
		out := make(chan Delta)
		errc := make(chan error, 1)
		go func() {
			defer close(generatorDone)
			defer close(out)
			defer close(errc)
			for {
				select {
				case out <- Delta{Content: "x"}:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
		}()
		return out, errc
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := f.orch.GenerateAnswerStream(ctx, f.user, f.question(ptr(DerivedID("gpt-x"))))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		<-stream.Fragments
	}
	cancel()

	for range stream.Fragments {
	}
	if err := <-stream.Err; err != nil {
		t.Errorf("cancellation must not surface an error, got %v", err)
	}

	select {
	case <-generatorDone:
	case <-time.After(5 * time.Second):
		t.Fatal("generator kept running after cancellation")
	}

	turns := f.store.Turns()
	if len(turns) != 1 {
		t.Fatalf("expected exactly one turn, got %d", len(turns))
	}
	var meta Metadata
	_ = json.Unmarshal(turns[0].Metadata, &meta)
	if meta.Status != StatusCancelled {
		t.Errorf("expected cancelled status, got %q", meta.Status)
	}
	if n := f.store.CallCount("ConsumeUsage"); n != 1 {
		t.Errorf("expected a single usage charge, got %d", n)
	}
	if used, _ := f.store.GetUsage(context.Background(), f.user, Period(time.Now())); used != 1 {
		t.Errorf("usage must not be rolled back, got %d", used)
	}
}

func TestWait_ReturnsAfterAbandonedStreamIsRecorded(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := f.orch.GenerateAnswerStream(ctx, f.user, f.question(&f.brainID))
	if err != nil {
		t.Fatal(err)
	}
	<-stream.Fragments
	cancel()

	// The consumer is gone; nothing reads the remaining fragments.
	waited := make(chan struct{})
	go func() {
		f.orch.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after the stream was cancelled")
	}

	turns := f.store.Turns()
	if len(turns) != 1 || turns[0].MessageID != stream.MessageID {
		t.Fatalf("expected the turn to be recorded before Wait returned, got %+v", turns)
	}
	var meta Metadata
	_ = json.Unmarshal(turns[0].Metadata, &meta)
	if meta.Status != StatusCancelled {
		t.Errorf("expected cancelled status, got %q", meta.Status)
	}
}

func TestWait_NoStreams(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.orch.GenerateAnswer(context.Background(), f.user, f.question(&f.brainID)); err != nil {
		t.Fatal(err)
	}
	f.orch.Wait()
}

func TestGenerateAnswerStream_GenerationFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.StreamFunc = func(ctx context.Context, _ GenerationRequest) (<-chan Delta, <-chan error) {
		return streamWords(ctx, []string{"partial"}, errors.New("provider down"))
	}

	stream, err := f.orch.GenerateAnswerStream(context.Background(), f.user, f.question(&f.brainID))
	if err != nil {
		t.Fatal(err)
	}

	frags, err := collect(t, stream)
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if len(frags) != 1 {
		t.Errorf("expected the partial fragment, got %d", len(frags))
	}

	turns := f.store.Turns()
	if len(turns) != 1 || turns[0].Assistant != "partial" {
		t.Fatalf("expected the partial turn to be recorded, got %+v", turns)
	}
	var meta Metadata
	_ = json.Unmarshal(turns[0].Metadata, &meta)
	if meta.Status != StatusFailed {
		t.Errorf("expected failed status, got %q", meta.Status)
	}
}

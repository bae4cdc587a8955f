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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pgEdge/pgedge-chat-server/internal/retrieval"
	"github.com/pgEdge/pgedge-chat-server/internal/store"
	"github.com/pgEdge/pgedge-chat-server/internal/telemetry"
)

// appendTimeout bounds the history write after a stream ends.
const appendTimeout = 10 * time.Second

// Orchestrator answers questions: it resolves the target, runs the gates,
// builds the configuration, generates and records the turn.
type Orchestrator struct {
	chats        store.ChatStore
	models       store.ModelStore
	brains       store.BrainStore
	authz        Authorizer
	usage        UsageChecker
	config       ConfigBuilder
	generator    Generator
	telemetry    telemetry.Emitter
	defaultModel string
	logger       *slog.Logger

	streams sync.WaitGroup
}

// OrchestratorConfig contains the collaborators of an orchestrator.
type OrchestratorConfig struct {
	Chats        store.ChatStore
	Models       store.ModelStore
	Brains       store.BrainStore
	Authorizer   Authorizer
	Usage        UsageChecker
	Config       ConfigBuilder
	Generator    Generator
	Telemetry    telemetry.Emitter
	DefaultModel string
	Logger       *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emitter := cfg.Telemetry
	if emitter == nil {
		emitter = telemetry.NewLogEmitter(logger)
	}

	return &Orchestrator{
		chats:        cfg.Chats,
		models:       cfg.Models,
		brains:       cfg.Brains,
		authz:        cfg.Authorizer,
		usage:        cfg.Usage,
		config:       cfg.Config,
		generator:    cfg.Generator,
		telemetry:    emitter,
		defaultModel: cfg.DefaultModel,
		logger:       logger.With("component", "orchestrator"),
	}
}

// plan is the outcome of a successful setup.
type plan struct {
	chatID   uuid.UUID
	question string
	mode     retrieval.Mode
	brain    *store.Brain
	model    *store.Model
	config   *retrieval.Config
	history  []store.Turn
}

func (p *plan) request() GenerationRequest {
	return GenerationRequest{
		Question: p.question,
		Config:   p.config,
		Brain:    p.brain,
		History:  p.history,
	}
}

func (p *plan) brainID() *uuid.UUID {
	if p.brain == nil {
		return nil
	}
	id := p.brain.ID
	return &id
}

func (p *plan) brainName() string {
	if p.brain == nil {
		return p.model.Name
	}
	return p.brain.Name
}

func (p *plan) metadata(status string, sources []Source) Metadata {
	return Metadata{
		Status:    status,
		Mode:      p.mode,
		Model:     p.model.Name,
		BrainName: p.brainName(),
		Sources:   sources,
	}
}

// prepare runs every step before generation, in order: chat ownership,
// target resolution, authorization, usage, configuration.
func (o *Orchestrator) prepare(ctx context.Context, userID uuid.UUID, q Question, streaming bool) (*plan, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrUnprocessable)
	}

	if _, err := ownedChat(ctx, o.chats, userID, q.ChatID); err != nil {
		return nil, err
	}

	known, err := o.models.GetModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	target, err := ResolveTarget(q.BrainID, known)
	if err != nil {
		return nil, err
	}

	p := &plan{chatID: q.ChatID, question: q.Text}
	var modelName string

	switch t := target.(type) {
	case ModelTarget:
		p.mode = retrieval.ModeDirectChat
		modelName = t.Model.Name

	case BrainTarget:
		brain, err := o.brains.GetBrainDetails(ctx, t.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: brain %s does not exist", ErrUnprocessable, t.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load brain: %w", err)
		}
		if err := o.authz.Authorize(ctx, userID, &brain.ID); err != nil {
			return nil, err
		}
		p.mode = retrieval.ModeRAG
		p.brain = brain
		modelName = brain.Model
		if modelName == "" {
			modelName = o.defaultModel
		}
	}

	model, err := o.usage.CheckAndConsume(ctx, userID, modelName)
	if err != nil {
		return nil, err
	}
	p.model = model
	if p.brain != nil {
		b := *p.brain
		b.Model = model.Name
		p.brain = &b
	}

	cfg, err := o.config.Build(ctx, p.mode, model)
	if err != nil {
		return nil, err
	}
	p.config = cfg

	history, err := o.chats.GetHistory(ctx, q.ChatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	p.history = history

	o.telemetry.Emit(ctx, telemetry.EventQuestionAsked, map[string]any{"streaming": streaming})

	o.logger.Debug("question prepared",
		"chat_id", q.ChatID,
		"mode", p.mode,
		"model", model.Name,
		"history", len(history),
	)
	return p, nil
}

// GenerateAnswer answers a question and records the turn.
func (o *Orchestrator) GenerateAnswer(ctx context.Context, userID uuid.UUID, q Question) (*Answer, error) {
	p, err := o.prepare(ctx, userID, q, false)
	if err != nil {
		return nil, err
	}

	gen, err := o.generator.Generate(ctx, p.request())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	meta := p.metadata(StatusCompleted, gen.Sources)
	turn, err := o.chats.AppendTurn(ctx, store.Turn{
		MessageID:   uuid.New(),
		ChatID:      p.chatID,
		UserMessage: p.question,
		Assistant:   gen.Answer,
		BrainID:     p.brainID(),
		Metadata:    meta.raw(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save answer: %w", err)
	}

	return answerFromTurn(turn, p.brainName(), meta), nil
}

// GenerateAnswerStream prepares the question synchronously, so setup
// errors are returned before anything is streamed, then streams the
// answer. Reading from Fragments drives generation. The turn is recorded
// once when the stream ends, whether it completed, failed or the caller
// went away; cancelling ctx stops generation.
func (o *Orchestrator) GenerateAnswerStream(ctx context.Context, userID uuid.UUID, q Question) (*Stream, error) {
	p, err := o.prepare(ctx, userID, q, true)
	if err != nil {
		return nil, err
	}

	messageID := uuid.New()
	fragments := make(chan AnswerFragment)
	errc := make(chan error, 1)

	o.streams.Add(1)
	go func() {
		defer o.streams.Done()
		defer close(fragments)
		defer close(errc)

		genCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		deltas, genErrs := o.generator.GenerateStream(genCtx, p.request())

		var (
			answer  strings.Builder
			sources []Source
			status  = StatusCompleted
			failure error
		)

	loop:
		for {
			select {
			case d, ok := <-deltas:
				if !ok {
					break loop
				}
				answer.WriteString(d.Content)
				if d.Sources != nil {
					sources = d.Sources
				}
				frag := AnswerFragment{
					ChatID:      p.chatID,
					MessageID:   messageID,
					UserMessage: p.question,
					Assistant:   answer.String(),
					Delta:       d.Content,
					BrainID:     p.brainID(),
					BrainName:   p.brainName(),
					Metadata:    p.metadata(StatusStreaming, sources),
				}
				select {
				case fragments <- frag:
				case <-ctx.Done():
					status = StatusCancelled
					break loop
				}
			case <-ctx.Done():
				status = StatusCancelled
				break loop
			}
		}

		if status == StatusCompleted {
			if err := <-genErrs; err != nil {
				if ctx.Err() != nil {
					status = StatusCancelled
				} else {
					status = StatusFailed
					failure = fmt.Errorf("%w: %v", ErrGeneration, err)
				}
			}
		} else {
			// Let the generator observe the cancellation and exit.
			cancel()
			for range deltas {
			}
		}

		meta := p.metadata(status, sources)
		saveCtx, done := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
		defer done()
		_, err := o.chats.AppendTurn(saveCtx, store.Turn{
			MessageID:   messageID,
			ChatID:      p.chatID,
			UserMessage: p.question,
			Assistant:   answer.String(),
			BrainID:     p.brainID(),
			Metadata:    meta.raw(),
		})
		if err != nil {
			o.logger.Error("failed to save streamed answer",
				"chat_id", p.chatID,
				"message_id", messageID,
				"error", err,
			)
			if failure == nil {
				failure = fmt.Errorf("failed to save answer: %w", err)
			}
		}

		if status == StatusFailed {
			o.logger.Warn("streamed generation failed",
				"chat_id", p.chatID,
				"message_id", messageID,
				"error", failure,
			)
		}
		if failure != nil && status != StatusCancelled {
			errc <- failure
		}
	}()

	return &Stream{MessageID: messageID, Fragments: fragments, Err: errc}, nil
}

// Wait blocks until every stream started by GenerateAnswerStream has
// recorded its turn. Call it after the HTTP server has stopped and before
// the store is closed.
func (o *Orchestrator) Wait() {
	o.streams.Wait()
}

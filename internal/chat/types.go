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
	"time"

	"github.com/google/uuid"

	"github.com/pgEdge/pgedge-chat-server/internal/retrieval"
	"github.com/pgEdge/pgedge-chat-server/internal/store"
)

// Turn status values recorded in answer metadata. StatusStreaming is only
// carried by fragments of an answer still being generated.
const (
	StatusStreaming = "streaming"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Question is an inbound question for a chat. BrainID holds either a
// brain id or a model's derived id.
type Question struct {
	ChatID  uuid.UUID
	Text    string
	BrainID *uuid.UUID
}

// Source is a retrieved document cited by an answer.
type Source struct {
	Name    string  `json:"name"`
	Content string  `json:"content,omitempty"`
	Score   float64 `json:"score"`
}

// Metadata is stored with each generated turn.
type Metadata struct {
	Status    string         `json:"status"`
	Mode      retrieval.Mode `json:"mode"`
	Model     string         `json:"model"`
	BrainName string         `json:"brain_name,omitempty"`
	Sources   []Source       `json:"sources,omitempty"`
}

// Answer is a persisted question/answer turn returned to the caller.
type Answer struct {
	ChatID      uuid.UUID  `json:"chat_id"`
	MessageID   uuid.UUID  `json:"message_id"`
	UserMessage string     `json:"user_message"`
	Assistant   string     `json:"assistant"`
	BrainID     *uuid.UUID `json:"brain_id,omitempty"`
	BrainName   string     `json:"brain_name,omitempty"`
	Metadata    Metadata   `json:"metadata"`
	MessageTime time.Time  `json:"message_time"`
}

// AnswerFragment is one step of a streamed answer. Assistant holds the
// text accumulated so far and Delta the text added by this fragment.
type AnswerFragment struct {
	ChatID      uuid.UUID  `json:"chat_id"`
	MessageID   uuid.UUID  `json:"message_id"`
	UserMessage string     `json:"user_message"`
	Assistant   string     `json:"assistant"`
	Delta       string     `json:"delta"`
	BrainID     *uuid.UUID `json:"brain_id,omitempty"`
	BrainName   string     `json:"brain_name,omitempty"`
	Metadata    Metadata   `json:"metadata"`
}

// Stream delivers answer fragments. Fragments is closed when the answer
// ends; Err then yields at most one error and is closed.
type Stream struct {
	MessageID uuid.UUID
	Fragments <-chan AnswerFragment
	Err       <-chan error
}

// GenerationRequest is everything the generation subsystem needs for one
// answer.
type GenerationRequest struct {
	Question string
	Config   *retrieval.Config
	// Brain is nil for direct model chat.
	Brain   *store.Brain
	History []store.Turn
}

// Generation is a complete generated answer.
type Generation struct {
	Answer  string
	Sources []Source
}

// Delta is a piece of a streamed generation. Sources are sent once, on
// the first delta that has them.
type Delta struct {
	Content string
	Sources []Source
}

// Generator produces answers.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (*Generation, error)

	// GenerateStream returns deltas until the answer ends, then closes the
	// channel. Errors are returned via the error channel.
	GenerateStream(ctx context.Context, req GenerationRequest) (<-chan Delta, <-chan error)
}

// ConfigBuilder builds the effective configuration for a request.
type ConfigBuilder interface {
	Build(ctx context.Context, mode retrieval.Mode, model *store.Model) (*retrieval.Config, error)
}

func (m Metadata) raw() json.RawMessage {
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

func answerFromTurn(t *store.Turn, brainName string, meta Metadata) *Answer {
	return &Answer{
		ChatID:      t.ChatID,
		MessageID:   t.MessageID,
		UserMessage: t.UserMessage,
		Assistant:   t.Assistant,
		BrainID:     t.BrainID,
		BrainName:   brainName,
		Metadata:    meta,
		MessageTime: t.MessageTime,
	}
}

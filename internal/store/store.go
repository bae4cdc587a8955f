//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package store persists chats, history, brains, models, and usage counters.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Store errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUsageExhausted is returned by ConsumeUsage when the increment
	// would exceed the limit.
	ErrUsageExhausted = errors.New("usage exhausted")
)

// Role is a user's access level on a brain.
type Role string

// Brain roles.
const (
	RoleViewer Role = "Viewer"
	RoleEditor Role = "Editor"
	RoleOwner  Role = "Owner"
)

// Valid reports whether r grants at least viewer access.
func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleEditor, RoleOwner:
		return true
	}
	return false
}

// Model is an addressable LLM target.
type Model struct {
	Name            string  `json:"name" yaml:"name"`
	DisplayName     string  `json:"display_name,omitempty" yaml:"display_name"`
	Description     string  `json:"description,omitempty" yaml:"description"`
	Supplier        string  `json:"supplier" yaml:"supplier"`
	EndpointURL     string  `json:"endpoint_url,omitempty" yaml:"endpoint_url"`
	EnvVariableName string  `json:"env_variable_name,omitempty" yaml:"env_variable_name"`
	MaxInput        int     `json:"max_input" yaml:"max_input"`
	MaxOutput       int     `json:"max_output" yaml:"max_output"`
	MaxTemperature  float64 `json:"max_temperature" yaml:"max_temperature"`
	Price           int     `json:"price" yaml:"price"`
}

// Brain is a named configuration bundle shared through roles.
type Brain struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Model       string    `json:"model,omitempty"`
	Prompt      string    `json:"prompt,omitempty"`
}

// Chat is a conversation owned by a single user.
type Chat struct {
	ID        uuid.UUID `json:"chat_id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"chat_name"`
	CreatedAt time.Time `json:"creation_time"`
}

// Turn is one question/answer pair in a chat.
type Turn struct {
	MessageID   uuid.UUID       `json:"message_id"`
	ChatID      uuid.UUID       `json:"chat_id"`
	UserMessage string          `json:"user_message"`
	Assistant   string          `json:"assistant"`
	BrainID     *uuid.UUID      `json:"brain_id,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	MessageTime time.Time       `json:"message_time"`
}

// Notification is a status message attached to a chat.
type Notification struct {
	ID       uuid.UUID `json:"id"`
	ChatID   uuid.UUID `json:"chat_id"`
	Message  string    `json:"message"`
	Status   string    `json:"status"`
	Datetime time.Time `json:"datetime"`
}

// UserSettings holds a user's quota settings. A nil Models list means the
// user may use any known model.
type UserSettings struct {
	UserID            uuid.UUID `json:"user_id"`
	Email             string    `json:"email,omitempty"`
	MonthlyChatCredit int       `json:"monthly_chat_credit"`
	Models            []string  `json:"models,omitempty"`
}

// MessageUpdate holds the mutable fields of a turn. Nil fields are left
// unchanged.
type MessageUpdate struct {
	Assistant *string
	Metadata  json.RawMessage
}

// ChatStore manages chats and their history.
type ChatStore interface {
	GetUserChats(ctx context.Context, userID uuid.UUID) ([]Chat, error)
	GetChatByID(ctx context.Context, chatID uuid.UUID) (*Chat, error)
	CreateChat(ctx context.Context, userID uuid.UUID, name string) (*Chat, error)
	UpdateChatName(ctx context.Context, chatID uuid.UUID, name string) (*Chat, error)
	DeleteChat(ctx context.Context, chatID uuid.UUID) error

	AppendTurn(ctx context.Context, turn Turn) (*Turn, error)
	GetHistory(ctx context.Context, chatID uuid.UUID) ([]Turn, error)
	UpdateMessage(ctx context.Context, chatID, messageID uuid.UUID, upd MessageUpdate) (*Turn, error)

	AddNotification(ctx context.Context, n Notification) error
	GetNotifications(ctx context.Context, chatID uuid.UUID) ([]Notification, error)
}

// ModelStore looks up models.
type ModelStore interface {
	GetModels(ctx context.Context) ([]Model, error)
	GetModel(ctx context.Context, name string) (*Model, error)
	UpsertModel(ctx context.Context, m Model) error
}

// BrainStore looks up brains and roles.
type BrainStore interface {
	GetBrainDetails(ctx context.Context, brainID uuid.UUID) (*Brain, error)
	GetBrainRole(ctx context.Context, brainID, userID uuid.UUID) (Role, error)
	UpsertBrain(ctx context.Context, b Brain) error
	SetBrainRole(ctx context.Context, brainID, userID uuid.UUID, role Role) error
}

// UsageStore tracks per-period credit consumption.
type UsageStore interface {
	GetUserSettings(ctx context.Context, userID uuid.UUID) (*UserSettings, error)
	SaveUserSettings(ctx context.Context, s UserSettings) error

	// ConsumeUsage adds amount to the user's counter for period if the
	// result stays within limit, returning the new total. The check and
	// increment happen in one statement.
	ConsumeUsage(ctx context.Context, userID uuid.UUID, period string, amount, limit int) (int, error)
	GetUsage(ctx context.Context, userID uuid.UUID, period string) (int, error)
}

// Store is the full persistence surface.
type Store interface {
	ChatStore
	ModelStore
	BrainStore
	UsageStore

	Ping(ctx context.Context) error
	Close() error
}

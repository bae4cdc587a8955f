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
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pgEdge/pgedge-chat-server/internal/store"
)

// DefaultChatName is used when a chat is created without a name.
const DefaultChatName = "New Chat"

// History item types.
const (
	ItemMessage      = "MESSAGE"
	ItemNotification = "NOTIFICATION"
)

// HistoryItem is a turn or a notification in a chat's history.
type HistoryItem struct {
	Type string `json:"item_type"`
	Body any    `json:"body"`
}

// Service manages chats on behalf of their owners.
type Service struct {
	chats  store.ChatStore
	logger *slog.Logger
}

// NewService creates a chat service.
func NewService(chats store.ChatStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{chats: chats, logger: logger.With("component", "chats")}
}

// ownedChat loads a chat and checks userID owns it.
func ownedChat(ctx context.Context, chats store.ChatStore, userID, chatID uuid.UUID) (*store.Chat, error) {
	c, err := chats.GetChatByID(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	if c.UserID != userID {
		return nil, fmt.Errorf("%w: chat %s belongs to another user", ErrForbidden, chatID)
	}
	return c, nil
}

// ListChats returns the user's chats.
func (s *Service) ListChats(ctx context.Context, userID uuid.UUID) ([]store.Chat, error) {
	chats, err := s.chats.GetUserChats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

// CreateChat creates a chat owned by userID.
func (s *Service) CreateChat(ctx context.Context, userID uuid.UUID, name string) (*store.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultChatName
	}
	c, err := s.chats.CreateChat(ctx, userID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	s.logger.Debug("chat created", "chat_id", c.ID, "user_id", userID)
	return c, nil
}

// DeleteChat deletes an owned chat and its history.
func (s *Service) DeleteChat(ctx context.Context, userID, chatID uuid.UUID) error {
	if _, err := ownedChat(ctx, s.chats, userID, chatID); err != nil {
		return err
	}
	if err := s.chats.DeleteChat(ctx, chatID); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return nil
}

// RenameChat changes an owned chat's name.
func (s *Service) RenameChat(ctx context.Context, userID, chatID uuid.UUID, name string) (*store.Chat, error) {
	if _, err := ownedChat(ctx, s.chats, userID, chatID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: chat name is empty", ErrUnprocessable)
	}
	c, err := s.chats.UpdateChatName(ctx, chatID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to rename chat: %w", err)
	}
	return c, nil
}

// UpdateMessage changes a message in an owned chat.
func (s *Service) UpdateMessage(
	ctx context.Context,
	userID, chatID, messageID uuid.UUID,
	upd store.MessageUpdate,
) (*store.Turn, error) {
	if _, err := ownedChat(ctx, s.chats, userID, chatID); err != nil {
		return nil, err
	}
	if upd.Assistant == nil && len(upd.Metadata) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", ErrUnprocessable)
	}
	if len(upd.Metadata) > 0 && !json.Valid(upd.Metadata) {
		return nil, fmt.Errorf("%w: metadata is not valid JSON", ErrUnprocessable)
	}

	t, err := s.chats.UpdateMessage(ctx, chatID, messageID, upd)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return t, nil
}

// History returns an owned chat's turns in append order, with
// notifications placed by time.
func (s *Service) History(ctx context.Context, userID, chatID uuid.UUID) ([]HistoryItem, error) {
	if _, err := ownedChat(ctx, s.chats, userID, chatID); err != nil {
		return nil, err
	}

	turns, err := s.chats.GetHistory(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	notes, err := s.chats.GetNotifications(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications: %w", err)
	}

	return mergeHistory(turns, notes), nil
}

// mergeHistory interleaves notifications with turns without reordering
// the turns themselves.
func mergeHistory(turns []store.Turn, notes []store.Notification) []HistoryItem {
	items := make([]HistoryItem, 0, len(turns)+len(notes))
	i, j := 0, 0
	for i < len(turns) || j < len(notes) {
		if j < len(notes) && (i == len(turns) || notes[j].Datetime.Before(turns[i].MessageTime)) {
			items = append(items, HistoryItem{Type: ItemNotification, Body: notes[j]})
			j++
			continue
		}
		items = append(items, HistoryItem{Type: ItemMessage, Body: turns[i]})
		i++
	}
	return items
}

// AddQuestionAndAnswer records a question/answer pair without generation
// and returns the chat.
func (s *Service) AddQuestionAndAnswer(
	ctx context.Context,
	userID, chatID uuid.UUID,
	question, answer string,
) (*store.Chat, error) {
	c, err := ownedChat(ctx, s.chats, userID, chatID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrUnprocessable)
	}

	if _, err := s.chats.AppendTurn(ctx, store.Turn{
		ChatID:      chatID,
		UserMessage: question,
		Assistant:   answer,
	}); err != nil {
		return nil, fmt.Errorf("failed to save answer: %w", err)
	}
	return c, nil
}

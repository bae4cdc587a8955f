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
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pgEdge/pgedge-chat-server/internal/retrieval"
	"github.com/pgEdge/pgedge-chat-server/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockStore is an in-memory store that records calls.
type MockStore struct {
	mu            sync.Mutex
	chats         map[uuid.UUID]store.Chat
	turns         []store.Turn
	notifications []store.Notification
	models        []store.Model
	brains        map[uuid.UUID]store.Brain
	roles         map[[2]uuid.UUID]store.Role
	settings      map[uuid.UUID]store.UserSettings
	usage         map[string]int

	Calls []string
}

func NewMockStore() *MockStore {
	return &MockStore{
		chats:    make(map[uuid.UUID]store.Chat),
		brains:   make(map[uuid.UUID]store.Brain),
		roles:    make(map[[2]uuid.UUID]store.Role),
		settings: make(map[uuid.UUID]store.UserSettings),
		usage:    make(map[string]int),
	}
}

func (m *MockStore) record(call string) {
	m.Calls = append(m.Calls, call)
}

// CallCount returns how many times a method was called.
func (m *MockStore) CallCount(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == call {
			n++
		}
	}
	return n
}

// Turns returns a copy of the appended turns.
func (m *MockStore) Turns() []store.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Turn(nil), m.turns...)
}

func (m *MockStore) addChat(userID uuid.UUID) uuid.UUID {
	id := uuid.New()
	m.chats[id] = store.Chat{ID: id, UserID: userID, Name: "chat", CreatedAt: time.Now()}
	return id
}

func (m *MockStore) GetUserChats(_ context.Context, userID uuid.UUID) ([]store.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetUserChats")
	var out []store.Chat
	for _, c := range m.chats {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockStore) GetChatByID(_ context.Context, chatID uuid.UUID) (*store.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetChatByID")
	c, ok := m.chats[chatID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (m *MockStore) CreateChat(_ context.Context, userID uuid.UUID, name string) (*store.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateChat")
	c := store.Chat{ID: uuid.New(), UserID: userID, Name: name, CreatedAt: time.Now()}
	m.chats[c.ID] = c
	return &c, nil
}

func (m *MockStore) UpdateChatName(_ context.Context, chatID uuid.UUID, name string) (*store.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpdateChatName")
	c, ok := m.chats[chatID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c.Name = name
	m.chats[chatID] = c
	return &c, nil
}

func (m *MockStore) DeleteChat(_ context.Context, chatID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteChat")
	delete(m.chats, chatID)
	return nil
}

func (m *MockStore) AppendTurn(_ context.Context, turn store.Turn) (*store.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AppendTurn")
	if turn.MessageID == uuid.Nil {
		turn.MessageID = uuid.New()
	}
	if turn.MessageTime.IsZero() {
		turn.MessageTime = time.Now()
	}
	m.turns = append(m.turns, turn)
	return &turn, nil
}

func (m *MockStore) GetHistory(_ context.Context, chatID uuid.UUID) ([]store.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetHistory")
	var out []store.Turn
	for _, t := range m.turns {
		if t.ChatID == chatID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockStore) UpdateMessage(_ context.Context, chatID, messageID uuid.UUID, upd store.MessageUpdate) (*store.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpdateMessage")
	for i, t := range m.turns {
		if t.ChatID == chatID && t.MessageID == messageID {
			if upd.Assistant != nil {
				m.turns[i].Assistant = *upd.Assistant
			}
			if len(upd.Metadata) > 0 {
				m.turns[i].Metadata = upd.Metadata
			}
			out := m.turns[i]
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) AddNotification(_ context.Context, n store.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AddNotification")
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *MockStore) GetNotifications(_ context.Context, chatID uuid.UUID) ([]store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetNotifications")
	var out []store.Notification
	for _, n := range m.notifications {
		if n.ChatID == chatID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *MockStore) GetModels(context.Context) ([]store.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetModels")
	return append([]store.Model(nil), m.models...), nil
}

func (m *MockStore) GetModel(_ context.Context, name string) (*store.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetModel")
	for _, md := range m.models {
		if md.Name == name {
			return &md, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) UpsertModel(_ context.Context, md store.Model) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models = append(m.models, md)
	return nil
}

func (m *MockStore) GetBrainDetails(_ context.Context, brainID uuid.UUID) (*store.Brain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetBrainDetails")
	b, ok := m.brains[brainID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (m *MockStore) GetBrainRole(_ context.Context, brainID, userID uuid.UUID) (store.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetBrainRole")
	return m.roles[[2]uuid.UUID{brainID, userID}], nil
}

func (m *MockStore) UpsertBrain(_ context.Context, b store.Brain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brains[b.ID] = b
	return nil
}

func (m *MockStore) SetBrainRole(_ context.Context, brainID, userID uuid.UUID, role store.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[[2]uuid.UUID{brainID, userID}] = role
	return nil
}

func (m *MockStore) GetUserSettings(_ context.Context, userID uuid.UUID) (*store.UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetUserSettings")
	s, ok := m.settings[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (m *MockStore) SaveUserSettings(_ context.Context, s store.UserSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.UserID] = s
	return nil
}

func (m *MockStore) ConsumeUsage(_ context.Context, userID uuid.UUID, period string, amount, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ConsumeUsage")
	key := userID.String() + "/" + period
	if m.usage[key]+amount > limit {
		return m.usage[key], store.ErrUsageExhausted
	}
	m.usage[key] += amount
	return m.usage[key], nil
}

func (m *MockStore) GetUsage(_ context.Context, userID uuid.UUID, period string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[userID.String()+"/"+period], nil
}

func (m *MockStore) Ping(context.Context) error { return nil }
func (m *MockStore) Close() error               { return nil }

var _ store.Store = (*MockStore)(nil)

// EventLog records the order of orchestration steps across mocks.
type EventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *EventLog) Add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *EventLog) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// RecordingAuthorizer wraps an Authorizer and logs calls.
type RecordingAuthorizer struct {
	Inner Authorizer
	Log   *EventLog
}

func (a *RecordingAuthorizer) Authorize(ctx context.Context, userID uuid.UUID, brainID *uuid.UUID) error {
	a.Log.Add("authorize")
	return a.Inner.Authorize(ctx, userID, brainID)
}

// RecordingUsage wraps a UsageChecker and logs calls with the model name.
type RecordingUsage struct {
	Inner UsageChecker
	Log   *EventLog
}

func (u *RecordingUsage) CheckAndConsume(ctx context.Context, userID uuid.UUID, modelName string) (*store.Model, error) {
	u.Log.Add("usage:" + modelName)
	return u.Inner.CheckAndConsume(ctx, userID, modelName)
}

// RecordingConfig wraps a ConfigBuilder and logs calls with the mode.
type RecordingConfig struct {
	Inner ConfigBuilder
	Log   *EventLog
}

func (c *RecordingConfig) Build(ctx context.Context, mode retrieval.Mode, model *store.Model) (*retrieval.Config, error) {
	c.Log.Add("config:" + string(mode))
	return c.Inner.Build(ctx, mode, model)
}

// MockGenerator generates answers from function fields.
type MockGenerator struct {
	Log            *EventLog
	GenerateFunc   func(ctx context.Context, req GenerationRequest) (*Generation, error)
	StreamFunc     func(ctx context.Context, req GenerationRequest) (<-chan Delta, <-chan error)
	LastRequest    GenerationRequest
	requestRecords sync.Mutex
}

func (g *MockGenerator) Generate(ctx context.Context, req GenerationRequest) (*Generation, error) {
	g.Log.Add("generate")
	g.requestRecords.Lock()
	g.LastRequest = req
	g.requestRecords.Unlock()
	if g.GenerateFunc != nil {
		return g.GenerateFunc(ctx, req)
	}
	return &Generation{Answer: "answer to " + req.Question}, nil
}

func (g *MockGenerator) GenerateStream(ctx context.Context, req GenerationRequest) (<-chan Delta, <-chan error) {
	g.Log.Add("generate")
	g.requestRecords.Lock()
	g.LastRequest = req
	g.requestRecords.Unlock()
	if g.StreamFunc != nil {
		return g.StreamFunc(ctx, req)
	}
	return streamWords(ctx, []string{"Hello", ", ", "world"}, nil)
}

// streamWords emits each word as a delta, then err if non-nil.
func streamWords(ctx context.Context, words []string, err error) (<-chan Delta, <-chan error) {
	out := make(chan Delta)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for i, w := range words {
			d := Delta{Content: w}
			if i == 0 {
				d.Sources = []Source{{Name: "doc.md", Score: 0.9}}
			}
			select {
			case out <- d:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if err != nil {
			errc <- err
		}
	}()
	return out, errc
}

// MockEmitter records telemetry events.
type MockEmitter struct {
	mu     sync.Mutex
	Events []map[string]any
}

func (e *MockEmitter) Emit(_ context.Context, name string, props map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Events = append(e.Events, map[string]any{"name": name, "streaming": props["streaming"]})
}

//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver

	"github.com/pgEdge/pgedge-chat-server/internal/config"
	"github.com/pgEdge/pgedge-chat-server/internal/database"
)

// SQLStore implements Store on database/sql for SQLite and PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
	now     func() time.Time
}

// Open connects to the configured database and creates the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		d   dialect
		dsn string
	)
	switch cfg.Driver {
	case config.DriverSQLite, "":
		d = sqliteDialect
		dsn = sqliteDSN(cfg.Path)
	case config.DriverPostgres:
		d = postgresDialect
		dsn = database.BuildConnectionString(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLStore{
		db:      db,
		dialect: d,
		logger:  logger.With("component", "store", "driver", d.name),
		now:     time.Now,
	}

	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Debug("store opened")
	return s, nil
}

// sqliteDSN builds a go-sqlite3 connection string. WAL and a busy timeout
// let concurrent requests share the file; immediate transactions take the
// write lock up front.
func sqliteDSN(path string) string {
	return "file:" + path +
		"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// Chats

const chatColumns = "id, user_id, name, created_at"

func scanChat(row interface{ Scan(...any) error }) (*Chat, error) {
	var c Chat
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetUserChats returns the user's chats, newest first.
func (s *SQLStore) GetUserChats(ctx context.Context, userID uuid.UUID) ([]Chat, error) {
	rows, err := s.query(ctx,
		"SELECT "+chatColumns+" FROM chats WHERE user_id = ? ORDER BY created_at DESC",
		userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		chats = append(chats, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chats: %w", err)
	}
	return chats, nil
}

// GetChatByID returns a chat or ErrNotFound.
func (s *SQLStore) GetChatByID(ctx context.Context, chatID uuid.UUID) (*Chat, error) {
	c, err := scanChat(s.queryRow(ctx,
		"SELECT "+chatColumns+" FROM chats WHERE id = ?", chatID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return c, nil
}

// CreateChat creates a chat owned by userID.
func (s *SQLStore) CreateChat(ctx context.Context, userID uuid.UUID, name string) (*Chat, error) {
	c := &Chat{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.exec(ctx,
		"INSERT INTO chats (id, user_id, name, created_at) VALUES (?, ?, ?, ?)",
		c.ID.String(), c.UserID.String(), c.Name, c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert chat: %w", err)
	}
	return c, nil
}

// UpdateChatName renames a chat.
func (s *SQLStore) UpdateChatName(ctx context.Context, chatID uuid.UUID, name string) (*Chat, error) {
	res, err := s.exec(ctx, "UPDATE chats SET name = ? WHERE id = ?", name, chatID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to update chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetChatByID(ctx, chatID)
}

// DeleteChat removes a chat with its history and notifications.
func (s *SQLStore) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range []string{
		"DELETE FROM notifications WHERE chat_id = ?",
		"DELETE FROM chat_history WHERE chat_id = ?",
		"DELETE FROM chats WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(q), chatID.String()); err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}
	}

	return tx.Commit()
}

// History

const turnColumns = "message_id, chat_id, user_message, assistant, brain_id, metadata, message_time"

func scanTurn(row interface{ Scan(...any) error }) (*Turn, error) {
	var (
		t        Turn
		brainID  sql.NullString
		metadata sql.NullString
	)
	if err := row.Scan(&t.MessageID, &t.ChatID, &t.UserMessage, &t.Assistant,
		&brainID, &metadata, &t.MessageTime); err != nil {
		return nil, err
	}
	if brainID.Valid && brainID.String != "" {
		id, err := uuid.Parse(brainID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid brain id %q: %w", brainID.String, err)
		}
		t.BrainID = &id
	}
	if metadata.Valid && metadata.String != "" {
		t.Metadata = json.RawMessage(metadata.String)
	}
	return &t, nil
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// AppendTurn inserts a turn. Missing ids and times are filled in.
func (s *SQLStore) AppendTurn(ctx context.Context, turn Turn) (*Turn, error) {
	if turn.MessageID == uuid.Nil {
		turn.MessageID = uuid.New()
	}
	if turn.MessageTime.IsZero() {
		turn.MessageTime = s.now().UTC()
	}

	_, err := s.exec(ctx,
		"INSERT INTO chat_history ("+turnColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		turn.MessageID.String(), turn.ChatID.String(), turn.UserMessage,
		turn.Assistant, nullableUUID(turn.BrainID), nullableJSON(turn.Metadata),
		turn.MessageTime)
	if err != nil {
		return nil, fmt.Errorf("failed to append turn: %w", err)
	}
	return &turn, nil
}

// GetHistory returns the chat's turns in append order.
func (s *SQLStore) GetHistory(ctx context.Context, chatID uuid.UUID) ([]Turn, error) {
	rows, err := s.query(ctx,
		"SELECT "+turnColumns+" FROM chat_history WHERE chat_id = ? ORDER BY seq",
		chatID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		turns = append(turns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return turns, nil
}

// UpdateMessage changes the assistant text or metadata of a turn.
func (s *SQLStore) UpdateMessage(ctx context.Context, chatID, messageID uuid.UUID, upd MessageUpdate) (*Turn, error) {
	if upd.Assistant != nil {
		res, err := s.exec(ctx,
			"UPDATE chat_history SET assistant = ? WHERE chat_id = ? AND message_id = ?",
			*upd.Assistant, chatID.String(), messageID.String())
		if err != nil {
			return nil, fmt.Errorf("failed to update message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrNotFound
		}
	}
	if len(upd.Metadata) > 0 {
		res, err := s.exec(ctx,
			"UPDATE chat_history SET metadata = ? WHERE chat_id = ? AND message_id = ?",
			string(upd.Metadata), chatID.String(), messageID.String())
		if err != nil {
			return nil, fmt.Errorf("failed to update message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrNotFound
		}
	}

	t, err := scanTurn(s.queryRow(ctx,
		"SELECT "+turnColumns+" FROM chat_history WHERE chat_id = ? AND message_id = ?",
		chatID.String(), messageID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return t, nil
}

// AddNotification attaches a notification to a chat.
func (s *SQLStore) AddNotification(ctx context.Context, n Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Datetime.IsZero() {
		n.Datetime = s.now().UTC()
	}
	_, err := s.exec(ctx,
		"INSERT INTO notifications (id, chat_id, message, status, datetime) VALUES (?, ?, ?, ?, ?)",
		n.ID.String(), n.ChatID.String(), n.Message, n.Status, n.Datetime)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// GetNotifications returns a chat's notifications in time order.
func (s *SQLStore) GetNotifications(ctx context.Context, chatID uuid.UUID) ([]Notification, error) {
	rows, err := s.query(ctx,
		"SELECT id, chat_id, message, status, datetime FROM notifications WHERE chat_id = ? ORDER BY datetime",
		chatID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.ChatID, &n.Message, &n.Status, &n.Datetime); err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return out, nil
}

// Models

const modelColumns = "name, display_name, description, supplier, endpoint_url, " +
	"env_variable_name, max_input, max_output, max_temperature, price"

func scanModel(row interface{ Scan(...any) error }) (*Model, error) {
	var m Model
	if err := row.Scan(&m.Name, &m.DisplayName, &m.Description, &m.Supplier,
		&m.EndpointURL, &m.EnvVariableName, &m.MaxInput, &m.MaxOutput,
		&m.MaxTemperature, &m.Price); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetModels returns all known models ordered by name.
func (s *SQLStore) GetModels(ctx context.Context) ([]Model, error) {
	rows, err := s.query(ctx, "SELECT "+modelColumns+" FROM models ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer rows.Close()

	var models []Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model row: %w", err)
		}
		models = append(models, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating models: %w", err)
	}
	return models, nil
}

// GetModel returns a model by name or ErrNotFound.
func (s *SQLStore) GetModel(ctx context.Context, name string) (*Model, error) {
	m, err := scanModel(s.queryRow(ctx,
		"SELECT "+modelColumns+" FROM models WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return m, nil
}

// UpsertModel inserts or replaces a model.
func (s *SQLStore) UpsertModel(ctx context.Context, m Model) error {
	_, err := s.exec(ctx, `INSERT INTO models (`+modelColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			display_name = excluded.display_name,
			description = excluded.description,
			supplier = excluded.supplier,
			endpoint_url = excluded.endpoint_url,
			env_variable_name = excluded.env_variable_name,
			max_input = excluded.max_input,
			max_output = excluded.max_output,
			max_temperature = excluded.max_temperature,
			price = excluded.price`,
		m.Name, m.DisplayName, m.Description, m.Supplier, m.EndpointURL,
		m.EnvVariableName, m.MaxInput, m.MaxOutput, m.MaxTemperature, m.Price)
	if err != nil {
		return fmt.Errorf("failed to upsert model %s: %w", m.Name, err)
	}
	return nil
}

// Brains

// GetBrainDetails returns a brain or ErrNotFound.
func (s *SQLStore) GetBrainDetails(ctx context.Context, brainID uuid.UUID) (*Brain, error) {
	var b Brain
	err := s.queryRow(ctx,
		"SELECT id, name, description, model, prompt FROM brains WHERE id = ?",
		brainID.String()).Scan(&b.ID, &b.Name, &b.Description, &b.Model, &b.Prompt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get brain: %w", err)
	}
	return &b, nil
}

// GetBrainRole returns the user's role on a brain, or "" when none.
func (s *SQLStore) GetBrainRole(ctx context.Context, brainID, userID uuid.UUID) (Role, error) {
	var role string
	err := s.queryRow(ctx,
		"SELECT role FROM brain_users WHERE brain_id = ? AND user_id = ?",
		brainID.String(), userID.String()).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get brain role: %w", err)
	}
	return Role(role), nil
}

// UpsertBrain inserts or replaces a brain.
func (s *SQLStore) UpsertBrain(ctx context.Context, b Brain) error {
	_, err := s.exec(ctx, `INSERT INTO brains (id, name, description, model, prompt)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			model = excluded.model,
			prompt = excluded.prompt`,
		b.ID.String(), b.Name, b.Description, b.Model, b.Prompt)
	if err != nil {
		return fmt.Errorf("failed to upsert brain %s: %w", b.ID, err)
	}
	return nil
}

// SetBrainRole grants role on a brain to a user.
func (s *SQLStore) SetBrainRole(ctx context.Context, brainID, userID uuid.UUID, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	_, err := s.exec(ctx, `INSERT INTO brain_users (brain_id, user_id, role)
		VALUES (?, ?, ?)
		ON CONFLICT (brain_id, user_id) DO UPDATE SET role = excluded.role`,
		brainID.String(), userID.String(), string(role))
	if err != nil {
		return fmt.Errorf("failed to set brain role: %w", err)
	}
	return nil
}

// Usage

// GetUserSettings returns a user's settings or ErrNotFound.
func (s *SQLStore) GetUserSettings(ctx context.Context, userID uuid.UUID) (*UserSettings, error) {
	var (
		us     UserSettings
		models sql.NullString
	)
	err := s.queryRow(ctx,
		"SELECT user_id, email, monthly_chat_credit, models FROM user_settings WHERE user_id = ?",
		userID.String()).Scan(&us.UserID, &us.Email, &us.MonthlyChatCredit, &models)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}
	if models.Valid && models.String != "" {
		if err := json.Unmarshal([]byte(models.String), &us.Models); err != nil {
			return nil, fmt.Errorf("invalid models for user %s: %w", userID, err)
		}
	}
	return &us, nil
}

// SaveUserSettings inserts or replaces a user's settings.
func (s *SQLStore) SaveUserSettings(ctx context.Context, us UserSettings) error {
	var models any
	if us.Models != nil {
		data, err := json.Marshal(us.Models)
		if err != nil {
			return fmt.Errorf("failed to encode models: %w", err)
		}
		models = string(data)
	}
	_, err := s.exec(ctx, `INSERT INTO user_settings (user_id, email, monthly_chat_credit, models)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			email = excluded.email,
			monthly_chat_credit = excluded.monthly_chat_credit,
			models = excluded.models`,
		us.UserID.String(), us.Email, us.MonthlyChatCredit, models)
	if err != nil {
		return fmt.Errorf("failed to save user settings: %w", err)
	}
	return nil
}

// ConsumeUsage performs a conditional increment of the usage counter.
func (s *SQLStore) ConsumeUsage(ctx context.Context, userID uuid.UUID, period string, amount, limit int) (int, error) {
	_, err := s.exec(ctx, `INSERT INTO user_usage (user_id, period, credits_used)
		VALUES (?, ?, 0) ON CONFLICT (user_id, period) DO NOTHING`,
		userID.String(), period)
	if err != nil {
		return 0, fmt.Errorf("failed to initialize usage: %w", err)
	}

	var used int
	err = s.queryRow(ctx, `UPDATE user_usage SET credits_used = credits_used + ?
		WHERE user_id = ? AND period = ? AND credits_used + ? <= ?
		RETURNING credits_used`,
		amount, userID.String(), period, amount, limit).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUsageExhausted
	}
	if err != nil {
		return 0, fmt.Errorf("failed to consume usage: %w", err)
	}
	return used, nil
}

// GetUsage returns the credits consumed in period.
func (s *SQLStore) GetUsage(ctx context.Context, userID uuid.UUID, period string) (int, error) {
	var used int
	err := s.queryRow(ctx,
		"SELECT credits_used FROM user_usage WHERE user_id = ? AND period = ?",
		userID.String(), period).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return used, nil
}

// Seed upserts a catalog of models, brains, and user settings.
func (s *SQLStore) Seed(ctx context.Context, models []Model, brains []SeedBrain, users []UserSettings) error {
	for _, m := range models {
		if err := s.UpsertModel(ctx, m); err != nil {
			return err
		}
	}
	for _, b := range brains {
		if err := s.UpsertBrain(ctx, b.Brain); err != nil {
			return err
		}
		for userID, role := range b.Members {
			if err := s.SetBrainRole(ctx, b.ID, userID, role); err != nil {
				return err
			}
		}
	}
	for _, u := range users {
		if err := s.SaveUserSettings(ctx, u); err != nil {
			return err
		}
	}
	s.logger.Info("catalog seeded",
		"models", len(models), "brains", len(brains), "users", len(users))
	return nil
}

// SeedBrain is a brain with its member roles.
type SeedBrain struct {
	Brain
	Members map[uuid.UUID]Role
}

var _ Store = (*SQLStore)(nil)

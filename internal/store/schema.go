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
	"strconv"
	"strings"
)

// dialect captures the differences between the supported SQL engines.
type dialect struct {
	name       string
	driver     string
	serial     string
	timestamp  string
	dollarArgs bool
}

var (
	sqliteDialect = dialect{
		name:      "sqlite",
		driver:    "sqlite3",
		serial:    "INTEGER PRIMARY KEY AUTOINCREMENT",
		timestamp: "DATETIME",
	}
	postgresDialect = dialect{
		name:       "postgres",
		driver:     "pgx",
		serial:     "BIGSERIAL PRIMARY KEY",
		timestamp:  "TIMESTAMPTZ",
		dollarArgs: true,
	}
)

// rebind rewrites ? placeholders into $n form for PostgreSQL.
func (d dialect) rebind(query string) string {
	if !d.dollarArgs {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// schema returns the DDL statements for the dialect.
func (d dialect) schema() []string {
	r := strings.NewReplacer("{{serial}}", d.serial, "{{timestamp}}", d.timestamp)
	stmts := make([]string, len(schemaStatements))
	for i, s := range schemaStatements {
		stmts[i] = r.Replace(s)
	}
	return stmts
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS user_settings (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		monthly_chat_credit INTEGER NOT NULL,
		models TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS user_usage (
		user_id TEXT NOT NULL,
		period TEXT NOT NULL,
		credits_used INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, period)
	)`,
	`CREATE TABLE IF NOT EXISTS models (
		name TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		supplier TEXT NOT NULL DEFAULT 'openai',
		endpoint_url TEXT NOT NULL DEFAULT '',
		env_variable_name TEXT NOT NULL DEFAULT '',
		max_input INTEGER NOT NULL DEFAULT 2000,
		max_output INTEGER NOT NULL DEFAULT 1000,
		max_temperature DOUBLE PRECISION NOT NULL DEFAULT 1,
		price INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS brains (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS brain_users (
		brain_id TEXT NOT NULL REFERENCES brains (id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (brain_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at {{timestamp}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS chats_user_idx ON chats (user_id)`,
	`CREATE TABLE IF NOT EXISTS chat_history (
		seq {{serial}},
		message_id TEXT NOT NULL UNIQUE,
		chat_id TEXT NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
		user_message TEXT NOT NULL,
		assistant TEXT NOT NULL,
		brain_id TEXT,
		metadata TEXT,
		message_time {{timestamp}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS chat_history_chat_idx ON chat_history (chat_id, seq)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
		message TEXT NOT NULL,
		status TEXT NOT NULL,
		datetime {{timestamp}} NOT NULL
	)`,
}

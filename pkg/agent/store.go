// Copyright 2025 The RagForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Conversation store dialects.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ragforge/ragforge/pkg/config"
)

// Message is one entry in the append-only conversation log.
type Message struct {
	ID             int64
	ConversationID string
	Role           string // user, assistant, tool
	Content        string

	// ToolName and ToolArgs carry tool-call metadata for role "tool".
	ToolName string
	ToolArgs string

	CreatedAt time.Time
}

// ConversationStore persists conversations.
type ConversationStore interface {
	Append(ctx context.Context, msg Message) error
	Messages(ctx context.Context, conversationID string) ([]Message, error)
	Close() error
}

// SQLStore is an append-only conversation log on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id %s,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_name TEXT NOT NULL DEFAULT '',
	tool_args TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, id);
`

// OpenStore opens the configured conversation store and ensures its schema.
func OpenStore(ctx context.Context, cfg config.ConversationStoreConfig) (*SQLStore, error) {
	driver := cfg.Dialect
	dsn := cfg.DSN

	switch cfg.Dialect {
	case "sqlite":
		driver = "sqlite3"
		if dsn == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("resolving home directory: %w", err)
			}
			dir := filepath.Join(home, ".ragforge")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating %s: %w", dir, err)
			}
			dsn = filepath.Join(dir, "conversations.db")
		}
	case "postgres", "mysql":
		if dsn == "" {
			return nil, fmt.Errorf("conversation store dialect %q requires a dsn", cfg.Dialect)
		}
	default:
		return nil, fmt.Errorf("unsupported conversation store dialect %q", cfg.Dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening conversation store: %w", err)
	}
	store := &SQLStore{db: db, dialect: cfg.Dialect}
	if err := store.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) init(ctx context.Context) error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	switch s.dialect {
	case "postgres":
		idColumn = "BIGSERIAL PRIMARY KEY"
	case "mysql":
		idColumn = "BIGINT AUTO_INCREMENT PRIMARY KEY"
	}
	for _, stmt := range strings.Split(fmt.Sprintf(storeSchema, idColumn), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		// MySQL has no IF NOT EXISTS for indexes; a duplicate is harmless.
		if _, err := s.db.ExecContext(ctx, stmt); err != nil &&
			!(s.dialect == "mysql" && strings.Contains(stmt, "CREATE INDEX")) {
			return fmt.Errorf("initialising conversation store: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to the dialect's positional form.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Append writes one message to the log.
func (s *SQLStore) Append(ctx context.Context, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO messages (conversation_id, role, content, tool_name, tool_args, created_at) "+
			"VALUES (?, ?, ?, ?, ?, ?)"),
		msg.ConversationID, msg.Role, msg.Content, msg.ToolName, msg.ToolArgs, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// Messages returns the conversation in insertion order.
func (s *SQLStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT id, conversation_id, role, content, tool_name, tool_args, created_at "+
			"FROM messages WHERE conversation_id = ? ORDER BY id"),
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&m.ToolName, &m.ToolArgs, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLStore) Close() error { return s.db.Close() }

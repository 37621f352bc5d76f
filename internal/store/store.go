// Package store implements the rule store (spec component C4): SQLite-backed
// CRUD over monitor_rules/monitor_logs, transactional fire-count accounting,
// and the polling helper the daemon uses to pick up out-of-band rule edits.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
)

// Store wraps the rule-store database connection.
type Store struct {
	conn *sql.DB
	log  zerolog.Logger
}

// Open creates the database directory if needed, opens a WAL-mode SQLite
// connection, and applies the schema.
func Open(dbPath string, log zerolog.Logger) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if dbPath == ":memory:" {
		// An in-memory database is private to the connection that created it;
		// a pool of more than one connection would each see an empty schema.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
	}

	s := &Store{conn: conn, log: log.With().Str("component", "store").Logger()}
	if err := s.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS monitor_rules (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id          INTEGER NOT NULL,
	name             TEXT NOT NULL,
	enabled          INTEGER NOT NULL DEFAULT 1,
	trigger_type     TEXT NOT NULL,
	trigger_config   TEXT NOT NULL,
	action_type      TEXT NOT NULL,
	action_config    TEXT NOT NULL,
	instrument_token TEXT,
	symbol           TEXT,
	linked_trade_id  INTEGER,
	linked_order_id  TEXT,
	fire_count       INTEGER NOT NULL DEFAULT 0,
	max_fires        INTEGER,
	expires_at       DATETIME,
	fired_at         DATETIME,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_monitor_rules_user_enabled ON monitor_rules(user_id, enabled);
CREATE INDEX IF NOT EXISTS idx_monitor_rules_instrument ON monitor_rules(instrument_token);

CREATE TABLE IF NOT EXISTS monitor_logs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id          INTEGER NOT NULL,
	rule_id          INTEGER NOT NULL,
	trigger_snapshot TEXT NOT NULL,
	action_taken     TEXT NOT NULL,
	action_result    TEXT NOT NULL,
	created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_monitor_logs_rule_created ON monitor_logs(rule_id, created_at);

CREATE TABLE IF NOT EXISTS user_credentials (
	user_id       INTEGER PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	expires_at    DATETIME NOT NULL
);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, schema)
	return err
}

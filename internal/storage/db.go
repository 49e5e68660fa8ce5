package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"hkexagent/internal/crypto"
	"hkexagent/internal/metrics"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Store owns the application tables in the shared SQLite file and the derived
// session directory over the checkpoint log. One Store is constructed at
// startup and passed to callers; there is no global handle.
type Store struct {
	db       *sql.DB
	sql      sq.StatementBuilderType
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	keyring  *crypto.Keyring
	defaults ModelSettings

	previewLen   int
	historyLimit int
}

type Options struct {
	// Path is the SQLite database file, shared with the chat UI and the agent
	// runtime's checkpointer.
	Path    string
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// Keyring seals credential API keys at rest. Nil stores them as provided.
	Keyring *crypto.Keyring

	// Defaults is the fixed document returned by LoadOrDefault and written by
	// ResetToDefault.
	Defaults ModelSettings

	// PreviewLen bounds message previews in history listings (runes).
	PreviewLen int
	// HistoryLimit is the default checkpoint count for ShowHistory.
	HistoryLimit int
}

// Open connects to the database and runs EnsureSchema. It fails only when the
// file cannot be opened or pinged; schema and migration problems are logged
// and skipped so the application still starts.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("db path is empty")
	}
	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if opts.PreviewLen <= 0 {
		opts.PreviewLen = 100
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}

	s := &Store{
		db:           db,
		sql:          sq.StatementBuilder.PlaceholderFormat(sq.Question),
		logger:       opts.Logger,
		metrics:      m,
		keyring:      opts.Keyring,
		defaults:     opts.Defaults,
		previewLen:   opts.PreviewLen,
		historyLimit: opts.HistoryLimit,
	}

	s.EnsureSchema(ctx)
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// EnsureSchema creates the owned tables, triggers, and indexes, and applies
// the additive users-table migration. It is idempotent and never fails:
// "already exists" conditions are swallowed, anything else is logged and
// skipped. Partial schema is preferred over refusing to start.
func (s *Store) EnsureSchema(ctx context.Context) {
	steps := []struct {
		name string
		stmt string
	}{
		{"create user_configs", `
CREATE TABLE IF NOT EXISTS user_configs (
    user_id TEXT PRIMARY KEY,
    config_json TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`},
		{"create user_presets", `
CREATE TABLE IF NOT EXISTS user_presets (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    temperature REAL NOT NULL DEFAULT 0.7,
    max_tokens INTEGER NOT NULL DEFAULT 4096,
    top_p REAL NOT NULL DEFAULT 1.0,
    system_prompt TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`},
		{"create llm_configs", `
CREATE TABLE IF NOT EXISTS llm_configs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    api_key TEXT NOT NULL DEFAULT '',
    api_url TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    protocol TEXT NOT NULL DEFAULT 'openai',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`},
		{"create app_state", `
CREATE TABLE IF NOT EXISTS app_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`},
		{"trigger user_configs updated_at", `
CREATE TRIGGER IF NOT EXISTS update_user_configs_timestamp
AFTER UPDATE ON user_configs
BEGIN
    UPDATE user_configs SET updated_at = CURRENT_TIMESTAMP
    WHERE user_id = NEW.user_id;
END`},
		{"trigger user_presets updated_at", `
CREATE TRIGGER IF NOT EXISTS update_user_presets_timestamp
AFTER UPDATE ON user_presets
BEGIN
    UPDATE user_presets SET updated_at = CURRENT_TIMESTAMP
    WHERE id = NEW.id;
END`},
		{"index user_presets.user_id",
			`CREATE INDEX IF NOT EXISTS idx_user_presets_user_id ON user_presets(user_id)`},
		{"index llm_configs.user_id",
			`CREATE INDEX IF NOT EXISTS idx_llm_configs_user_id ON llm_configs(user_id)`},
		// Lookup by (user_id, name) assumes uniqueness; enforce it. Creation is
		// non-fatal so databases with legacy duplicates still open.
		{"unique index llm_configs(user_id, name)",
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_llm_configs_user_name ON llm_configs(user_id, name)`},
	}

	for _, step := range steps {
		s.applySchemaStep(ctx, step.name, step.stmt)
	}

	s.migrateUsersTable(ctx)
}

func (s *Store) applySchemaStep(ctx context.Context, name, stmt string) {
	_, err := s.db.ExecContext(ctx, stmt)
	if err == nil || isAlreadyExists(err) {
		return
	}
	s.metrics.MigrationSkips.Inc()
	s.logger.Error().Err(err).Str("step", name).Msg("schema step failed, skipping")
}

// migrateUsersTable adds authentication columns to the users table owned by
// the chat UI layer. Missing columns are added one ALTER at a time; a missing
// users table, or any other failure, is logged and skipped.
func (s *Store) migrateUsersTable(ctx context.Context) {
	existing, err := s.tableColumns(ctx, "users")
	if err != nil {
		s.metrics.MigrationSkips.Inc()
		s.logger.Warn().Err(err).Msg("users table not migratable, skipping")
		return
	}

	targets := []struct {
		column string
		ddl    string
	}{
		{"password_hash", `ALTER TABLE users ADD COLUMN password_hash TEXT`},
		{"email", `ALTER TABLE users ADD COLUMN email TEXT`},
		{"display_name", `ALTER TABLE users ADD COLUMN display_name TEXT`},
		{"is_active", `ALTER TABLE users ADD COLUMN is_active INTEGER NOT NULL DEFAULT 1`},
	}

	for _, target := range targets {
		if _, ok := existing[target.column]; ok {
			continue
		}
		if _, err := s.db.ExecContext(ctx, target.ddl); err != nil && !isAlreadyExists(err) {
			s.metrics.MigrationSkips.Inc()
			s.logger.Error().Err(err).Str("column", target.column).Msg("users column migration failed, skipping")
		}
	}

	s.applySchemaStep(ctx, "unique index users.email",
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email) WHERE email IS NOT NULL AND email != ''`)
}

func (s *Store) tableColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	cols := map[string]struct{}{}
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info row: %w", err)
		}
		cols[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table_info rows: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s does not exist", table)
	}
	return cols, nil
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate column name")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isNoSuchTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

func (s *Store) now() time.Time {
	return time.Now().UTC()
}

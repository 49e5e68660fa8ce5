package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"hkexagent/internal/metrics"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return newTestStoreOpts(t, Options{})
}

func newTestStoreOpts(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "test.db")
	}
	opts.Logger = zerolog.Nop()
	opts.Metrics = metrics.Global()
	if opts.Defaults == (ModelSettings{}) {
		opts.Defaults = ModelSettings{
			Provider: "custom",
			APIKey:   "default-key",
			APIURL:   "https://api.example.com/v1",
			Model:    "deepseek-chat",
			Protocol: "openai",
		}
	}

	s, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Open already ran it once; repeated runs must be harmless.
	s.EnsureSchema(ctx)
	s.EnsureSchema(ctx)

	if err := s.SaveUserConfig(ctx, "u1", ModelSettings{Model: "gpt-4o"}); err != nil {
		t.Fatalf("SaveUserConfig after repeated EnsureSchema: %v", err)
	}
	if err := s.CreatePreset(ctx, "u1", Preset{ID: "p1", Name: "fast"}); err != nil {
		t.Fatalf("CreatePreset after repeated EnsureSchema: %v", err)
	}
}

func TestUsersTableMigrationAddsColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Simulate the chat UI's pre-existing users table, then migrate.
	if _, err := s.DB().ExecContext(ctx, `CREATE TABLE users (id TEXT PRIMARY KEY, identifier TEXT NOT NULL)`); err != nil {
		t.Fatalf("create users table: %v", err)
	}
	s.EnsureSchema(ctx)

	cols, err := s.tableColumns(ctx, "users")
	if err != nil {
		t.Fatalf("tableColumns: %v", err)
	}
	for _, want := range []string{"id", "identifier", "password_hash", "email", "display_name", "is_active"} {
		if _, ok := cols[want]; !ok {
			t.Fatalf("users table missing column %q after migration", want)
		}
	}

	// A second pass must detect the columns and add nothing.
	s.EnsureSchema(ctx)
	again, err := s.tableColumns(ctx, "users")
	if err != nil {
		t.Fatalf("tableColumns after second pass: %v", err)
	}
	if len(again) != len(cols) {
		t.Fatalf("column count changed on re-migration: %d != %d", len(again), len(cols))
	}
}

func TestMigrationSkipsWithoutUsersTable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// No users table exists; migration must skip, not fail, and the owned
	// tables must still work.
	s.EnsureSchema(ctx)
	if err := s.SaveUserConfig(ctx, "u1", ModelSettings{Model: "m"}); err != nil {
		t.Fatalf("SaveUserConfig: %v", err)
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "chat.db")
	s := newTestStoreOpts(t, Options{Path: path})
	if err := s.SaveUserConfig(context.Background(), "u1", ModelSettings{}); err != nil {
		t.Fatalf("SaveUserConfig: %v", err)
	}
}

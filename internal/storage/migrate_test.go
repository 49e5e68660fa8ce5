package storage

import (
	"context"
	"errors"
	"testing"
)

func envStub(vars map[string]string) func(string) string {
	return func(key string) string {
		return vars[key]
	}
}

func TestCheckConfigConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Stored key: fine regardless of environment.
	if err := s.SaveUserConfig(ctx, "keyed", ModelSettings{Provider: "openai", APIKey: "sk-x"}); err != nil {
		t.Fatalf("save keyed: %v", err)
	}
	// Hosted provider, no stored key, env unset: conflict.
	if err := s.SaveUserConfig(ctx, "stranded", ModelSettings{Provider: "openai"}); err != nil {
		t.Fatalf("save stranded: %v", err)
	}
	// Hosted provider, env set: fine.
	if err := s.SaveUserConfig(ctx, "covered", ModelSettings{Provider: "anthropic"}); err != nil {
		t.Fatalf("save covered: %v", err)
	}
	// Unknown provider without a key: not this subsystem's problem.
	if err := s.SaveUserConfig(ctx, "selfhosted", ModelSettings{Provider: "ollama"}); err != nil {
		t.Fatalf("save selfhosted: %v", err)
	}
	// Corrupt document: conflict.
	if _, err := s.DB().ExecContext(ctx,
		`INSERT INTO user_configs (user_id, config_json) VALUES (?, ?)`, "broken", "{oops"); err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	conflicts, err := s.CheckConfigConflicts(ctx, envStub(map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant",
	}))
	if err != nil {
		t.Fatalf("CheckConfigConflicts: %v", err)
	}
	if len(conflicts) != 2 {
		t.Fatalf("expected 2 conflicts, got %+v", conflicts)
	}

	byUser := map[string]ConfigConflict{}
	for _, c := range conflicts {
		byUser[c.UserID] = c
	}
	if c, ok := byUser["broken"]; !ok || !c.Corrupt {
		t.Fatalf("corrupt row not reported: %+v", byUser)
	}
	if c, ok := byUser["stranded"]; !ok || c.MissingEnv != "OPENAI_API_KEY" {
		t.Fatalf("stranded row not reported with env hint: %+v", byUser)
	}
}

func TestFixConfigConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveUserConfig(ctx, "stranded", ModelSettings{Provider: "openai", Model: "gpt-4o"}); err != nil {
		t.Fatalf("save stranded: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx,
		`INSERT INTO user_configs (user_id, config_json) VALUES (?, ?)`, "broken", "{oops"); err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	conflicts, err := s.CheckConfigConflicts(ctx, envStub(nil))
	if err != nil {
		t.Fatalf("CheckConfigConflicts: %v", err)
	}

	fixed, err := s.FixConfigConflicts(ctx, conflicts)
	if err != nil {
		t.Fatalf("FixConfigConflicts: %v", err)
	}
	if fixed != 2 {
		t.Fatalf("fixed %d rows, want 2", fixed)
	}

	// Corrupt row is gone; the stranded one points at the defaults now.
	if _, err := s.LoadUserConfig(ctx, "broken"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("corrupt row should be deleted, got %v", err)
	}
	got, err := s.LoadUserConfig(ctx, "stranded")
	if err != nil {
		t.Fatalf("load stranded after fix: %v", err)
	}
	if got.APIKey != s.defaults.APIKey || got.Provider != s.defaults.Provider {
		t.Fatalf("stranded row not rewritten to defaults: %+v", got)
	}

	// A repaired database reports no conflicts.
	conflicts, err = s.CheckConfigConflicts(ctx, envStub(nil))
	if err != nil {
		t.Fatalf("re-check: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("conflicts remain after fix: %+v", conflicts)
	}
}

func TestFixConfigConflictsRequiresDefaultKey(t *testing.T) {
	s := newTestStoreOpts(t, Options{Defaults: ModelSettings{Provider: "custom"}})
	ctx := context.Background()

	if err := s.SaveUserConfig(ctx, "stranded", ModelSettings{Provider: "openai"}); err != nil {
		t.Fatalf("save stranded: %v", err)
	}
	conflicts, err := s.CheckConfigConflicts(ctx, envStub(nil))
	if err != nil {
		t.Fatalf("CheckConfigConflicts: %v", err)
	}
	if _, err := s.FixConfigConflicts(ctx, conflicts); err == nil {
		t.Fatal("expected error without a default api key")
	}
}

func TestResetAllConfigs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, user := range []string{"a", "b", "c"} {
		if err := s.SaveUserConfig(ctx, user, ModelSettings{Model: "m"}); err != nil {
			t.Fatalf("save %s: %v", user, err)
		}
	}

	n, err := s.ResetAllConfigs(ctx)
	if err != nil {
		t.Fatalf("ResetAllConfigs: %v", err)
	}
	if n != 3 {
		t.Fatalf("deleted %d rows, want 3", n)
	}

	users, err := s.ListConfigUsers(ctx)
	if err != nil {
		t.Fatalf("ListConfigUsers: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("rows remain after reset: %v", users)
	}
}

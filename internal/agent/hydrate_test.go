package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"hkexagent/internal/metrics"
	"hkexagent/internal/providers"
	"hkexagent/internal/storage"
)

func newTestHydrator(t *testing.T) (*Hydrator, *storage.Store) {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Options{
		Path:    filepath.Join(t.TempDir(), "test.db"),
		Logger:  zerolog.Nop(),
		Metrics: metrics.Global(),
		Defaults: storage.ModelSettings{
			Provider: "custom",
			APIKey:   "default-key",
			APIURL:   "https://api.example.com/v1",
			Model:    "deepseek-chat",
			Protocol: "openai",
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return NewHydrator(HydratorOptions{Store: s, Logger: zerolog.Nop()}), s
}

func TestHydrateUsesStoredSettings(t *testing.T) {
	h, s := newTestHydrator(t)
	ctx := context.Background()

	stored := storage.ModelSettings{
		APIKey:   "sk-user",
		APIURL:   "https://api.deepseek.com/v1",
		Model:    "deepseek-reasoner",
		Protocol: "openai",
	}
	if err := s.SaveUserConfig(ctx, "alice", stored); err != nil {
		t.Fatalf("SaveUserConfig: %v", err)
	}

	p, settings, err := h.Hydrate(ctx, "alice")
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if p == nil {
		t.Fatal("expected a provider")
	}
	if settings.Model != "deepseek-reasoner" {
		t.Fatalf("settings not hydrated from store: %+v", settings)
	}
}

func TestHydrateFallsBackToDefaults(t *testing.T) {
	h, _ := newTestHydrator(t)

	p, settings, err := h.Hydrate(context.Background(), "newcomer")
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if p == nil {
		t.Fatal("expected a provider")
	}
	if settings.Model != "deepseek-chat" {
		t.Fatalf("expected default model, got %q", settings.Model)
	}
}

func TestHydrateProfileRoundTrip(t *testing.T) {
	h, s := newTestHydrator(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"pong"}}]}`))
	}))
	defer srv.Close()

	if err := s.SaveLLMConfig(ctx, storage.LLMConfig{
		ID:       "c1",
		UserID:   "alice",
		Name:     "work",
		APIKey:   "sk-x",
		APIURL:   srv.URL,
		Model:    "deepseek-chat",
		Protocol: "openai",
	}); err != nil {
		t.Fatalf("SaveLLMConfig: %v", err)
	}

	p, profile, err := h.HydrateProfile(ctx, "alice", "work")
	if err != nil {
		t.Fatalf("HydrateProfile: %v", err)
	}
	if profile.Model != "deepseek-chat" {
		t.Fatalf("profile not resolved: %+v", profile)
	}

	resp, err := p.Chat(ctx, providers.ChatRequest{Model: profile.Model, UserPrompt: "ping"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Text != "pong" {
		t.Fatalf("Text = %q", resp.Text)
	}
}

func TestHydrateProfileMissing(t *testing.T) {
	h, _ := newTestHydrator(t)
	if _, _, err := h.HydrateProfile(context.Background(), "alice", "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHydrateAnthropicProtocol(t *testing.T) {
	h, s := newTestHydrator(t)
	ctx := context.Background()

	if err := s.SaveUserConfig(ctx, "bob", storage.ModelSettings{
		APIKey:   "sk-ant",
		Model:    "claude-sonnet-4",
		Protocol: "anthropic",
	}); err != nil {
		t.Fatalf("SaveUserConfig: %v", err)
	}

	p, _, err := h.Hydrate(ctx, "bob")
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if p == nil {
		t.Fatal("expected a provider")
	}
}

package agent

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"hkexagent/internal/providers"
	"hkexagent/internal/providers/registry"
	"hkexagent/internal/storage"
)

// Hydrator turns a user's stored configuration into a ready provider client
// at the start of a turn.
type Hydrator struct {
	store  *storage.Store
	logger zerolog.Logger

	httpClient  *http.Client
	maxRetries  int
	backoffBase time.Duration
}

type HydratorOptions struct {
	Store       *storage.Store
	Logger      zerolog.Logger
	HTTPTimeout time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

func NewHydrator(opts HydratorOptions) *Hydrator {
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Hydrator{
		store:       opts.Store,
		logger:      opts.Logger,
		httpClient:  &http.Client{Timeout: timeout},
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
	}
}

// Hydrate resolves userID's settings and builds the matching provider client.
// A storage fault falls back to the process defaults so a broken row degrades
// one user's customization, never the whole turn.
func (h *Hydrator) Hydrate(ctx context.Context, userID string) (providers.Provider, storage.ModelSettings, error) {
	settings, err := h.store.LoadOrDefault(ctx, userID)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("config load failed, using defaults")
	}

	p, err := registry.Build(registry.BuildOptions{
		Protocol:    settings.Protocol,
		BaseURL:     settings.APIURL,
		APIKey:      settings.APIKey,
		HTTPClient:  h.httpClient,
		MaxRetries:  h.maxRetries,
		BackoffBase: h.backoffBase,
	})
	if err != nil {
		return nil, settings, err
	}
	return p, settings, nil
}

// HydrateProfile builds a provider client from one of the user's saved
// credential profiles, resolved by name. Unlike Hydrate there is no default
// fallback: asking for a profile that does not exist is an error.
func (h *Hydrator) HydrateProfile(ctx context.Context, userID, name string) (providers.Provider, storage.LLMConfig, error) {
	profile, err := h.store.GetLLMConfigByName(ctx, userID, name)
	if err != nil {
		return nil, storage.LLMConfig{}, err
	}

	p, err := registry.Build(registry.BuildOptions{
		Protocol:    profile.Protocol,
		BaseURL:     profile.APIURL,
		APIKey:      profile.APIKey,
		HTTPClient:  h.httpClient,
		MaxRetries:  h.maxRetries,
		BackoffBase: h.backoffBase,
	})
	if err != nil {
		return nil, profile, err
	}
	return p, profile, nil
}

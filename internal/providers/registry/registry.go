package registry

import (
	"fmt"
	"net/http"
	"time"

	"hkexagent/internal/providers"
	"hkexagent/internal/providers/anthropic_messages"
	"hkexagent/internal/providers/openai_compat"
)

type BuildOptions struct {
	Protocol    string
	BaseURL     string
	APIKey      string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

// Build constructs a provider client for a stored configuration's protocol.
// Anything unrecognized is treated as openai-compatible, which is what the
// custom providers in the wild actually speak.
func Build(opts BuildOptions) (providers.Provider, error) {
	switch opts.Protocol {
	case "anthropic":
		return anthropic_messages.New(anthropic_messages.Config{
			BaseURL:     opts.BaseURL,
			APIKey:      opts.APIKey,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
		}), nil

	case "", "openai", "openai_compat", "openai-compatible":
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("openai-compatible provider needs a base url")
		}
		return openai_compat.New(openai_compat.Config{
			BaseURL:     opts.BaseURL,
			APIKey:      opts.APIKey,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported provider protocol %q", opts.Protocol)
	}
}

package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProtocolOpenAI    = "openai"
	ProtocolAnthropic = "anthropic"
)

var ErrMissingDBPath = errors.New("HKEX_DB_PATH is required")

type Config struct {
	DB      DBConfig
	Model   ModelDefaults
	History HistoryConfig
	HTTP    HTTPConfig
	Ops     OpsConfig
	Crypto  CryptoConfig
	Log     LogConfig
}

type DBConfig struct {
	Path string
}

// ModelDefaults is the fixed default configuration document handed out when a
// user has no stored settings.
type ModelDefaults struct {
	APIKey      string
	APIURL      string
	Model       string
	Protocol    string
	Temperature float64
	MaxTokens   int
}

type HistoryConfig struct {
	PreviewLen int
	Limit      int
}

type HTTPConfig struct {
	ClientTimeout time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
}

type OpsConfig struct {
	ListenAddr  string
	HealthPath  string
	MetricsPath string
}

type CryptoConfig struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		DB: DBConfig{
			Path: mustEnv("HKEX_DB_PATH", "data/chat_history.db"),
		},
		Model: ModelDefaults{
			APIKey:      mustEnv("CUSTOM_API_KEY", ""),
			APIURL:      mustEnv("CUSTOM_API_URL", "https://api.siliconflow.cn/v1"),
			Model:       mustEnv("CUSTOM_API_MODEL", "deepseek-chat"),
			Protocol:    strings.ToLower(mustEnv("CUSTOM_API_PROTOCOL", ProtocolOpenAI)),
			Temperature: mustFloat("MODEL_TEMPERATURE", 0.7),
			MaxTokens:   mustInt("MODEL_MAX_TOKENS", 4096),
		},
		History: HistoryConfig{
			PreviewLen: mustInt("HISTORY_PREVIEW_LEN", 100),
			Limit:      mustInt("HISTORY_LIMIT", 10),
		},
		HTTP: HTTPConfig{
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 30*time.Second),
			MaxRetries:    mustInt("HTTP_MAX_RETRIES", 2),
			BackoffBase:   mustDuration("HTTP_BACKOFF_BASE", 400*time.Millisecond),
		},
		Ops: OpsConfig{
			ListenAddr:  mustEnv("OPS_LISTEN_ADDR", ":9090"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.DB.Path == "" {
		return nil, ErrMissingDBPath
	}

	cc, err := loadCryptoConfig()
	if err != nil {
		return nil, err
	}
	cfg.Crypto = cc

	return cfg, nil
}

// loadCryptoConfig assembles the master keyring for API keys at rest. The
// keyring is optional: with no keys configured, credential profiles are stored
// as provided.
func loadCryptoConfig() (CryptoConfig, error) {
	keysB64 := map[string]string{}

	if raw := mustEnv("MASTER_KEYS_JSON", ""); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return CryptoConfig{}, fmt.Errorf("parse MASTER_KEYS_JSON: %w", err)
		}
		for id, val := range parsed {
			if strings.TrimSpace(id) == "" || strings.TrimSpace(val) == "" {
				continue
			}
			keysB64[id] = val
		}
	}

	current := mustEnv("MASTER_KEY_CURRENT_ID", "")
	if singleton := mustEnv("MASTER_KEY_B64", ""); singleton != "" {
		if current == "" {
			current = "default"
		}
		keysB64[current] = singleton
	}

	if len(keysB64) == 0 {
		return CryptoConfig{}, nil
	}

	keys := make(map[string][]byte, len(keysB64))
	for id, b64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return CryptoConfig{}, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(raw) != 32 {
			return CryptoConfig{}, fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
		}
		keys[id] = raw
	}

	if current == "" {
		for id := range keys {
			current = id
			break
		}
	}
	if _, ok := keys[current]; !ok {
		return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q does not exist in provided keys", current)
	}

	return CryptoConfig{
		CurrentKeyID: current,
		Keys:         keys,
	}, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustFloat(key string, def float64) float64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

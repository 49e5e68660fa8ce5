package storage

import "time"

// ModelSettings is the per-user configuration document stored in user_configs.
// It is written and read as a whole; there are no partial-field updates.
type ModelSettings struct {
	Provider    string  `json:"provider,omitempty"`
	APIKey      string  `json:"api_key,omitempty"`
	APIURL      string  `json:"api_url,omitempty"`
	Model       string  `json:"model,omitempty"`
	Protocol    string  `json:"api_protocol,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Preset is a reusable generation profile owned by one user. Reads and writes
// are always scoped by (id, user_id) together.
type Preset struct {
	ID           string
	UserID       string
	Name         string
	Description  string
	Temperature  float64
	MaxTokens    int
	TopP         float64
	SystemPrompt string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LLMConfig is a named model-provider connection profile.
type LLMConfig struct {
	ID        string
	UserID    string
	Name      string
	APIKey    string
	APIURL    string
	Model     string
	Protocol  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ConfigStats struct {
	TotalUsers  int64
	LastUpdated *time.Time
}

// SessionSummary is one row of the session directory, derived from the
// checkpoint log written by the agent runtime.
type SessionSummary struct {
	ThreadID         string
	CheckpointCount  int64
	LatestCheckpoint string
}

// CheckpointSummary is a display-ready view of one checkpoint. ParseError is
// set when the snapshot could not be decoded; Messages is empty in that case.
type CheckpointSummary struct {
	CheckpointID string
	Messages     []MessagePreview
	ParseError   string
}

type MessagePreview struct {
	Role    string
	Content string
}

// ConfigConflict describes a stored configuration that cannot work in the
// current environment: either the document is corrupt, or it relies on a
// provider environment variable that is not set.
type ConfigConflict struct {
	UserID     string
	Provider   string
	MissingEnv string
	Corrupt    bool
}

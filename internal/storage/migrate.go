package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// providerEnvKeys maps hosted providers to the environment variable a user
// is expected to set once their stored key is removed during a fix pass.
var providerEnvKeys = map[string]string{
	"siliconflow": "SILICONFLOW_API_KEY",
	"openai":      "OPENAI_API_KEY",
	"anthropic":   "ANTHROPIC_API_KEY",
}

// CheckConfigConflicts scans every stored configuration and reports rows that
// would break at hydration time: documents that no longer decode, and
// configurations pointing at a hosted provider without a stored key while the
// provider's environment variable is also unset. lookupEnv is usually
// os.Getenv; tests inject their own. One bad row never hides the others.
func (s *Store) CheckConfigConflicts(ctx context.Context, lookupEnv func(string) string) ([]ConfigConflict, error) {
	q := s.sql.Select("user_id", "config_json").From("user_configs").OrderBy("user_id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build conflict scan query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		return nil, fmt.Errorf("scan configs: %w", err)
	}
	defer rows.Close()

	conflicts := make([]ConfigConflict, 0)
	for rows.Next() {
		var (
			userID string
			doc    string
		)
		if err := rows.Scan(&userID, &doc); err != nil {
			return nil, fmt.Errorf("scan config row: %w", err)
		}

		var settings ModelSettings
		if err := json.Unmarshal([]byte(doc), &settings); err != nil {
			conflicts = append(conflicts, ConfigConflict{UserID: userID, Corrupt: true})
			continue
		}
		if settings.APIKey != "" {
			continue
		}
		envKey, hosted := providerEnvKeys[settings.Provider]
		if !hosted {
			continue
		}
		if lookupEnv(envKey) == "" {
			conflicts = append(conflicts, ConfigConflict{
				UserID:     userID,
				Provider:   settings.Provider,
				MissingEnv: envKey,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate config rows: %w", err)
	}
	return conflicts, nil
}

// FixConfigConflicts repairs the rows CheckConfigConflicts flags: corrupt
// documents are deleted, conflicting ones are rewritten to point at the
// process defaults. Requires a default API key so the rewrite does not
// reproduce the conflict it is fixing. Returns how many rows changed.
func (s *Store) FixConfigConflicts(ctx context.Context, conflicts []ConfigConflict) (int, error) {
	if len(conflicts) == 0 {
		return 0, nil
	}
	if s.defaults.APIKey == "" {
		return 0, fmt.Errorf("no default api key configured, cannot rewrite configs")
	}

	fixed := 0
	for _, c := range conflicts {
		if c.Corrupt {
			if err := s.DeleteUserConfig(ctx, c.UserID); err != nil {
				s.logger.Error().Err(err).Str("user_id", c.UserID).Msg("delete corrupt config")
				continue
			}
			fixed++
			continue
		}

		settings, err := s.LoadUserConfig(ctx, c.UserID)
		if err != nil {
			s.logger.Error().Err(err).Str("user_id", c.UserID).Msg("load conflicting config")
			continue
		}
		settings.Provider = s.defaults.Provider
		settings.APIKey = s.defaults.APIKey
		settings.APIURL = s.defaults.APIURL
		settings.Model = s.defaults.Model
		settings.Protocol = s.defaults.Protocol
		if err := s.SaveUserConfig(ctx, c.UserID, settings); err != nil {
			s.logger.Error().Err(err).Str("user_id", c.UserID).Msg("rewrite conflicting config")
			continue
		}
		fixed++
	}
	return fixed, nil
}

// ResetAllConfigs deletes every stored configuration and returns how many
// rows were removed. Users fall back to process defaults on their next turn.
func (s *Store) ResetAllConfigs(ctx context.Context) (int64, error) {
	sqlStr, args, err := s.sql.Delete("user_configs").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build reset query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		return 0, fmt.Errorf("reset configs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset configs rows affected: %w", err)
	}
	s.logger.Info().Int64("deleted", n).Msg("all user configs reset")
	return n, nil
}

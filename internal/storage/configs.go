package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// SaveUserConfig replaces the whole configuration document for userID,
// creating the row on first save. The upsert is a single statement so
// concurrent saves cannot lose updates.
func (s *Store) SaveUserConfig(ctx context.Context, userID string, settings ModelSettings) error {
	doc, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal config document: %w", err)
	}

	q := s.sql.Insert("user_configs").
		Columns("user_id", "config_json").
		Values(userID, string(doc)).
		Suffix("ON CONFLICT(user_id) DO UPDATE SET config_json=excluded.config_json, updated_at=CURRENT_TIMESTAMP")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build save config query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		s.metrics.StorageErrors.Inc()
		return fmt.Errorf("save config: %w", err)
	}
	s.metrics.ConfigSaves.Inc()
	return nil
}

// LoadUserConfig returns ErrNotFound when the user has no stored document.
func (s *Store) LoadUserConfig(ctx context.Context, userID string) (ModelSettings, error) {
	q := s.sql.Select("config_json").From("user_configs").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return ModelSettings{}, fmt.Errorf("build load config query: %w", err)
	}

	var doc string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ModelSettings{}, ErrNotFound
		}
		s.metrics.StorageErrors.Inc()
		return ModelSettings{}, fmt.Errorf("load config: %w", err)
	}

	var settings ModelSettings
	if err := json.Unmarshal([]byte(doc), &settings); err != nil {
		return ModelSettings{}, fmt.Errorf("decode config document for %q: %w", userID, err)
	}
	s.metrics.ConfigLoads.Inc()
	return settings, nil
}

// LoadOrDefault returns the stored document, or the fixed default when none
// exists. It never writes. On a storage fault the defaults are still returned
// alongside the error so callers can degrade instead of crashing.
func (s *Store) LoadOrDefault(ctx context.Context, userID string) (ModelSettings, error) {
	settings, err := s.LoadUserConfig(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.defaults, nil
		}
		return s.defaults, err
	}
	return settings, nil
}

func (s *Store) DeleteUserConfig(ctx context.Context, userID string) error {
	q := s.sql.Delete("user_configs").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete config query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		return fmt.Errorf("delete config: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetToDefault writes the fixed default document for userID and returns it.
func (s *Store) ResetToDefault(ctx context.Context, userID string) (ModelSettings, error) {
	if err := s.SaveUserConfig(ctx, userID, s.defaults); err != nil {
		return ModelSettings{}, err
	}
	return s.defaults, nil
}

func (s *Store) ListConfigUsers(ctx context.Context) ([]string, error) {
	q := s.sql.Select("user_id").From("user_configs").OrderBy("user_id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list users query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return out, nil
}

func (s *Store) ConfigStats(ctx context.Context) (ConfigStats, error) {
	var stats ConfigStats

	countQ := s.sql.Select("COUNT(*)").From("user_configs")
	sqlStr, args, err := countQ.ToSql()
	if err != nil {
		return stats, fmt.Errorf("build stats count query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&stats.TotalUsers); err != nil {
		s.metrics.StorageErrors.Inc()
		return stats, fmt.Errorf("count users: %w", err)
	}

	lastQ := s.sql.Select("updated_at").From("user_configs").OrderBy("updated_at DESC").Limit(1)
	sqlStr, args, err = lastQ.ToSql()
	if err != nil {
		return stats, fmt.Errorf("build stats last-updated query: %w", err)
	}
	var last sql.NullTime
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&last); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.metrics.StorageErrors.Inc()
			return stats, fmt.Errorf("last updated: %w", err)
		}
	} else if last.Valid {
		t := last.Time
		stats.LastUpdated = &t
	}
	return stats, nil
}

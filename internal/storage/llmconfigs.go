package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"hkexagent/internal/crypto"
)

// SaveLLMConfig upserts a credential profile by id: insert, or replace the
// connection fields and refresh updated_at. A name collision with a different
// profile of the same user is a conflict.
func (s *Store) SaveLLMConfig(ctx context.Context, c LLMConfig) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("llm config id is empty")
	}
	apiKey, err := s.sealKey(c.APIKey)
	if err != nil {
		return err
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	q := s.sql.Insert("llm_configs").
		Columns("id", "user_id", "name", "api_key", "api_url", "model", "protocol", "created_at", "updated_at").
		Values(c.ID, c.UserID, c.Name, apiKey, c.APIURL, c.Model, c.Protocol, createdAt, s.now()).
		Suffix("ON CONFLICT(id) DO UPDATE SET name=excluded.name, api_key=excluded.api_key, api_url=excluded.api_url, model=excluded.model, protocol=excluded.protocol, updated_at=excluded.updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build save llm config query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("llm config named %q for user %q: %w", c.Name, c.UserID, ErrAlreadyExists)
		}
		s.metrics.StorageErrors.Inc()
		return fmt.Errorf("save llm config: %w", err)
	}
	return nil
}

func (s *Store) GetLLMConfig(ctx context.Context, id string) (LLMConfig, error) {
	q := llmConfigSelect(s.sql).Where(sq.Eq{"id": id})
	return s.queryLLMConfig(ctx, q, "get llm config")
}

// GetLLMConfigByName resolves a profile by its user-facing name. Uniqueness of
// (user_id, name) is index-enforced for new rows; should a legacy database
// hold duplicates, the newest profile wins.
func (s *Store) GetLLMConfigByName(ctx context.Context, userID, name string) (LLMConfig, error) {
	q := llmConfigSelect(s.sql).
		Where(sq.Eq{"user_id": userID, "name": name}).
		OrderBy("created_at DESC").
		Limit(1)
	return s.queryLLMConfig(ctx, q, "get llm config by name")
}

func (s *Store) ListLLMConfigsForUser(ctx context.Context, userID string) ([]LLMConfig, error) {
	q := llmConfigSelect(s.sql).Where(sq.Eq{"user_id": userID}).OrderBy("created_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list llm configs query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		return nil, fmt.Errorf("list llm configs: %w", err)
	}
	defer rows.Close()

	out := make([]LLMConfig, 0)
	for rows.Next() {
		c, err := scanLLMConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan llm config row: %w", err)
		}
		if c.APIKey, err = s.openKey(c.APIKey); err != nil {
			return nil, fmt.Errorf("llm config %q: %w", c.ID, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate llm config rows: %w", err)
	}
	return out, nil
}

// UpdateLLMConfig rewrites the connection fields by id.
func (s *Store) UpdateLLMConfig(ctx context.Context, c LLMConfig) error {
	apiKey, err := s.sealKey(c.APIKey)
	if err != nil {
		return err
	}

	q := s.sql.Update("llm_configs").
		Set("name", c.Name).
		Set("api_key", apiKey).
		Set("api_url", c.APIURL).
		Set("model", c.Model).
		Set("protocol", c.Protocol).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": c.ID})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update llm config query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("llm config named %q: %w", c.Name, ErrAlreadyExists)
		}
		s.metrics.StorageErrors.Inc()
		return fmt.Errorf("update llm config: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLLMConfig removes a profile. Both id and user_id must match: holding
// an id is not authorization to delete another user's credentials.
func (s *Store) DeleteLLMConfig(ctx context.Context, userID, id string) error {
	q := s.sql.Delete("llm_configs").Where(sq.Eq{"id": id, "user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete llm config query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		return fmt.Errorf("delete llm config: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteLLMConfigsForUser(ctx context.Context, userID string) (int64, error) {
	q := s.sql.Delete("llm_configs").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete user llm configs query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		return 0, fmt.Errorf("delete user llm configs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) CountLLMConfigs(ctx context.Context) (int64, error) {
	q := s.sql.Select("COUNT(*)").From("llm_configs")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count llm configs query: %w", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		s.metrics.StorageErrors.Inc()
		return 0, fmt.Errorf("count llm configs: %w", err)
	}
	return n, nil
}

func (s *Store) queryLLMConfig(ctx context.Context, q sq.SelectBuilder, op string) (LLMConfig, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return LLMConfig{}, fmt.Errorf("build %s query: %w", op, err)
	}
	c, err := scanLLMConfig(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LLMConfig{}, ErrNotFound
		}
		s.metrics.StorageErrors.Inc()
		return LLMConfig{}, fmt.Errorf("%s: %w", op, err)
	}
	if c.APIKey, err = s.openKey(c.APIKey); err != nil {
		return LLMConfig{}, fmt.Errorf("llm config %q: %w", c.ID, err)
	}
	return c, nil
}

func llmConfigSelect(builder sq.StatementBuilderType) sq.SelectBuilder {
	return builder.Select(
		"id", "user_id", "name", "api_key", "api_url", "model", "protocol", "created_at", "updated_at",
	).From("llm_configs")
}

func scanLLMConfig(row rowScanner) (LLMConfig, error) {
	var c LLMConfig
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Name,
		&c.APIKey,
		&c.APIURL,
		&c.Model,
		&c.Protocol,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

// sealKey encrypts an API key when a keyring is configured. Empty keys and
// keyring-less deployments pass through unchanged.
func (s *Store) sealKey(apiKey string) (string, error) {
	if s.keyring == nil || apiKey == "" {
		return apiKey, nil
	}
	sealed, err := s.keyring.SealString(apiKey)
	if err != nil {
		return "", fmt.Errorf("seal api key: %w", err)
	}
	return sealed, nil
}

// openKey reverses sealKey. Plaintext values written before a keyring was
// configured are returned as-is.
func (s *Store) openKey(raw string) (string, error) {
	if s.keyring == nil || !crypto.IsSealed(raw) {
		return raw, nil
	}
	plain, err := s.keyring.OpenString(raw)
	if err != nil {
		return "", fmt.Errorf("open api key: %w", err)
	}
	return plain, nil
}

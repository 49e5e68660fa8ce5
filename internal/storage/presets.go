package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// CreatePreset inserts a new preset with a caller-supplied id. A colliding id
// is a conflict, never a silent overwrite.
func (s *Store) CreatePreset(ctx context.Context, userID string, p Preset) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("preset id is empty")
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	q := s.sql.Insert("user_presets").
		Columns("id", "user_id", "name", "description", "temperature", "max_tokens", "top_p", "system_prompt", "created_at", "updated_at").
		Values(p.ID, userID, p.Name, p.Description, p.Temperature, p.MaxTokens, p.TopP, p.SystemPrompt, createdAt, createdAt)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build create preset query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("preset %q: %w", p.ID, ErrAlreadyExists)
		}
		s.metrics.StorageErrors.Inc()
		return fmt.Errorf("create preset: %w", err)
	}
	return nil
}

// UpdatePreset rewrites all mutable fields where both id and user_id match.
// Updating a preset owned by someone else touches zero rows and reports
// ErrNotFound.
func (s *Store) UpdatePreset(ctx context.Context, userID string, p Preset) error {
	q := s.sql.Update("user_presets").
		Set("name", p.Name).
		Set("description", p.Description).
		Set("temperature", p.Temperature).
		Set("max_tokens", p.MaxTokens).
		Set("top_p", p.TopP).
		Set("system_prompt", p.SystemPrompt).
		Where(sq.Eq{"id": p.ID, "user_id": userID})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update preset query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		return fmt.Errorf("update preset: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeletePreset(ctx context.Context, userID, presetID string) error {
	q := s.sql.Delete("user_presets").Where(sq.Eq{"id": presetID, "user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete preset query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		return fmt.Errorf("delete preset: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetPreset(ctx context.Context, userID, presetID string) (Preset, error) {
	q := presetSelect(s.sql).Where(sq.Eq{"id": presetID, "user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Preset{}, fmt.Errorf("build get preset query: %w", err)
	}

	p, err := scanPreset(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Preset{}, ErrNotFound
		}
		s.metrics.StorageErrors.Inc()
		return Preset{}, fmt.Errorf("get preset: %w", err)
	}
	return p, nil
}

// ListPresetsForUser returns the user's presets newest first.
func (s *Store) ListPresetsForUser(ctx context.Context, userID string) ([]Preset, error) {
	q := presetSelect(s.sql).Where(sq.Eq{"user_id": userID}).OrderBy("created_at DESC", "id DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list presets query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		return nil, fmt.Errorf("list presets: %w", err)
	}
	defer rows.Close()

	out := make([]Preset, 0)
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preset row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preset rows: %w", err)
	}
	return out, nil
}

func presetSelect(builder sq.StatementBuilderType) sq.SelectBuilder {
	return builder.Select(
		"id", "user_id", "name", "description", "temperature", "max_tokens", "top_p", "system_prompt", "created_at", "updated_at",
	).From("user_presets")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPreset(row rowScanner) (Preset, error) {
	var p Preset
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&p.Description,
		&p.Temperature,
		&p.MaxTokens,
		&p.TopP,
		&p.SystemPrompt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// The session directory is a read-only view over the checkpoints table owned
// by the agent runtime. Checkpoint ids are monotonically orderable within a
// thread and are the only recency signal available; there is no wall-clock
// column to rely on.

// ListSessions groups the checkpoint log by thread and orders threads by
// their newest checkpoint id. Threads without checkpoints do not appear.
func (s *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	q := s.sql.Select("thread_id", "COUNT(*)", "MAX(checkpoint_id)").
		From("checkpoints").
		GroupBy("thread_id").
		OrderBy("MAX(checkpoint_id) DESC")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		// The agent runtime creates the table on first run; before that the
		// directory is simply empty.
		if isNoSuchTable(err) {
			return []SessionSummary{}, nil
		}
		s.metrics.StorageErrors.Inc()
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]SessionSummary, 0)
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ThreadID, &sum.CheckpointCount, &sum.LatestCheckpoint); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	s.metrics.SessionLists.Inc()
	return out, nil
}

// ShowHistory returns the limit most recent checkpoints of a thread, newest
// first, each with a bounded message preview. A checkpoint whose snapshot
// cannot be decoded is reported through ParseError instead of hiding the rest
// of the listing.
func (s *Store) ShowHistory(ctx context.Context, threadID string, limit int) ([]CheckpointSummary, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}

	q := s.sql.Select("checkpoint_id", "checkpoint_blob").
		From("checkpoints").
		Where(sq.Eq{"thread_id": threadID}).
		OrderBy("checkpoint_id DESC").
		Limit(uint64(limit))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		if isNoSuchTable(err) {
			return []CheckpointSummary{}, nil
		}
		s.metrics.StorageErrors.Inc()
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	out := make([]CheckpointSummary, 0, limit)
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}

		summary := CheckpointSummary{CheckpointID: id}
		messages, err := decodeSnapshot(blob)
		if err != nil {
			summary.ParseError = err.Error()
		} else {
			summary.Messages = s.previewMessages(messages)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}
	s.metrics.HistoryViews.Inc()
	return out, nil
}

const activeThreadKey = "active_thread"

// SwitchActive records threadID as the active conversation for the next turn.
// The thread must have at least one checkpoint. The record goes into the
// app_state table so it survives this process; the running agent is not
// rebuilt, the new thread takes effect on the next turn.
func (s *Store) SwitchActive(ctx context.Context, threadID string) error {
	q := s.sql.Select("COUNT(*)").From("checkpoints").Where(sq.Eq{"thread_id": threadID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build switch query: %w", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		if isNoSuchTable(err) {
			return ErrNotFound
		}
		s.metrics.StorageErrors.Inc()
		return fmt.Errorf("count thread checkpoints: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	ins := s.sql.Insert("app_state").
		Columns("key", "value").
		Values(activeThreadKey, threadID).
		Suffix("ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP")
	sqlStr, args, err = ins.ToSql()
	if err != nil {
		return fmt.Errorf("build switch upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		s.metrics.StorageErrors.Inc()
		return fmt.Errorf("record active thread: %w", err)
	}
	return nil
}

// ActiveThread returns the thread recorded by SwitchActive, or "" when none
// has ever been selected.
func (s *Store) ActiveThread(ctx context.Context) (string, error) {
	q := s.sql.Select("value").From("app_state").Where(sq.Eq{"key": activeThreadKey})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build active thread query: %w", err)
	}
	var threadID string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isNoSuchTable(err) {
			return "", nil
		}
		s.metrics.StorageErrors.Inc()
		return "", fmt.Errorf("active thread: %w", err)
	}
	return threadID, nil
}

// snapshot is the subset of the runtime's checkpoint document this subsystem
// understands. Newer runtimes nest messages under channel_values; older ones
// keep them at the top level.
type snapshot struct {
	ChannelValues struct {
		Messages []snapshotMessage `json:"messages"`
	} `json:"channel_values"`
	Messages []snapshotMessage `json:"messages"`
}

type snapshotMessage struct {
	Role    string          `json:"role"`
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

func decodeSnapshot(blob []byte) ([]snapshotMessage, error) {
	var snap snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, fmt.Errorf("decode checkpoint snapshot: %w", err)
	}
	if len(snap.ChannelValues.Messages) > 0 {
		return snap.ChannelValues.Messages, nil
	}
	return snap.Messages, nil
}

func (s *Store) previewMessages(messages []snapshotMessage) []MessagePreview {
	out := make([]MessagePreview, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		if role == "" {
			role = msg.Type
		}
		if role == "" {
			role = "unknown"
		}
		out = append(out, MessagePreview{
			Role:    role,
			Content: truncate(messageText(msg.Content), s.previewLen),
		})
	}
	return out
}

// messageText flattens a message content field, which is either a plain
// string or a list of {"text": ...} parts.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		joined := ""
		for _, part := range parts {
			if part.Text == "" {
				continue
			}
			if joined != "" {
				joined += "\n"
			}
			joined += part.Text
		}
		return joined
	}
	return string(raw)
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

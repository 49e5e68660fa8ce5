package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

// createCheckpointsTable stands in for the agent runtime's checkpointer,
// which owns this table in production.
func createCheckpointsTable(t *testing.T, s *Store) {
	t.Helper()
	_, err := s.DB().ExecContext(context.Background(), `
CREATE TABLE checkpoints (
    thread_id TEXT NOT NULL,
    checkpoint_id TEXT NOT NULL,
    checkpoint_blob BLOB,
    metadata TEXT,
    PRIMARY KEY (thread_id, checkpoint_id)
)`)
	if err != nil {
		t.Fatalf("create checkpoints table: %v", err)
	}
}

func insertCheckpoint(t *testing.T, s *Store, threadID, checkpointID string, blob []byte) {
	t.Helper()
	_, err := s.DB().ExecContext(context.Background(),
		`INSERT INTO checkpoints (thread_id, checkpoint_id, checkpoint_blob, metadata) VALUES (?, ?, ?, ?)`,
		threadID, checkpointID, blob, "{}")
	if err != nil {
		t.Fatalf("insert checkpoint %s/%s: %v", threadID, checkpointID, err)
	}
}

func chatSnapshot(contents ...string) []byte {
	msgs := make([]string, 0, len(contents))
	for i, c := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs = append(msgs, fmt.Sprintf(`{"role":%q,"content":%q}`, role, c))
	}
	return []byte(`{"channel_values":{"messages":[` + strings.Join(msgs, ",") + `]}}`)
}

func TestListSessionsGroupsAndOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCheckpointsTable(t, s)

	// Checkpoint ids sort lexicographically; the newest id per thread decides
	// the ordering of the directory.
	for i := 1; i <= 3; i++ {
		insertCheckpoint(t, s, "t1", fmt.Sprintf("ck-%02d", i), chatSnapshot("hello"))
	}
	insertCheckpoint(t, s, "t2", "ck-09", chatSnapshot("hi"))
	for i := 4; i <= 8; i++ {
		insertCheckpoint(t, s, "t3", fmt.Sprintf("ck-%02d", i), chatSnapshot("hey"))
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}

	wantOrder := []struct {
		thread string
		count  int64
		latest string
	}{
		{"t2", 1, "ck-09"},
		{"t3", 5, "ck-08"},
		{"t1", 3, "ck-03"},
	}
	for i, want := range wantOrder {
		got := sessions[i]
		if got.ThreadID != want.thread || got.CheckpointCount != want.count || got.LatestCheckpoint != want.latest {
			t.Fatalf("position %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestListSessionsWithoutCheckpointsTable(t *testing.T) {
	s := newTestStore(t)

	sessions, err := s.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions without table: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected empty directory, got %d sessions", len(sessions))
	}
}

func TestShowHistoryNewestFirstWithLimit(t *testing.T) {
	s := newTestStoreOpts(t, Options{HistoryLimit: 2})
	ctx := context.Background()
	createCheckpointsTable(t, s)

	for i := 1; i <= 5; i++ {
		insertCheckpoint(t, s, "t1", fmt.Sprintf("ck-%02d", i), chatSnapshot("turn"))
	}

	hist, err := s.ShowHistory(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("ShowHistory: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("default limit not applied: got %d entries", len(hist))
	}
	if hist[0].CheckpointID != "ck-05" || hist[1].CheckpointID != "ck-04" {
		t.Fatalf("wrong order: %s, %s", hist[0].CheckpointID, hist[1].CheckpointID)
	}

	hist, err = s.ShowHistory(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("ShowHistory explicit limit: %v", err)
	}
	if len(hist) != 5 {
		t.Fatalf("expected all 5 entries, got %d", len(hist))
	}
}

func TestShowHistoryCorruptCheckpointIsMarked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCheckpointsTable(t, s)

	for i := 1; i <= 4; i++ {
		insertCheckpoint(t, s, "t1", fmt.Sprintf("ck-%02d", i), chatSnapshot("fine"))
	}
	insertCheckpoint(t, s, "t1", "ck-05", []byte{0x00, 0xff, 0x12})

	hist, err := s.ShowHistory(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("ShowHistory: %v", err)
	}
	if len(hist) != 5 {
		t.Fatalf("corrupt entry must not hide the rest: got %d entries", len(hist))
	}

	if hist[0].CheckpointID != "ck-05" {
		t.Fatalf("expected corrupt checkpoint first, got %s", hist[0].CheckpointID)
	}
	if hist[0].ParseError == "" {
		t.Fatal("corrupt checkpoint missing parse error marker")
	}
	if len(hist[0].Messages) != 0 {
		t.Fatalf("corrupt checkpoint should carry no messages, got %d", len(hist[0].Messages))
	}
	for _, entry := range hist[1:] {
		if entry.ParseError != "" {
			t.Fatalf("valid checkpoint %s marked corrupt: %s", entry.CheckpointID, entry.ParseError)
		}
		if len(entry.Messages) == 0 {
			t.Fatalf("valid checkpoint %s has no preview", entry.CheckpointID)
		}
	}
}

func TestShowHistoryTruncatesPreviews(t *testing.T) {
	s := newTestStoreOpts(t, Options{PreviewLen: 10})
	ctx := context.Background()
	createCheckpointsTable(t, s)

	long := strings.Repeat("長", 25)
	insertCheckpoint(t, s, "t1", "ck-01", chatSnapshot(long, "ok"))

	hist, err := s.ShowHistory(ctx, "t1", 1)
	if err != nil {
		t.Fatalf("ShowHistory: %v", err)
	}
	if len(hist) != 1 || len(hist[0].Messages) != 2 {
		t.Fatalf("unexpected history shape: %+v", hist)
	}

	got := hist[0].Messages[0].Content
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("long content not truncated: %q", got)
	}
	if n := utf8.RuneCountInString(strings.TrimSuffix(got, "...")); n != 10 {
		t.Fatalf("preview kept %d runes, want 10", n)
	}
	if hist[0].Messages[1].Content != "ok" {
		t.Fatalf("short content altered: %q", hist[0].Messages[1].Content)
	}
}

func TestShowHistorySnapshotVariants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCheckpointsTable(t, s)

	// Top-level messages, type instead of role, content as text parts.
	blob := []byte(`{"messages":[
		{"type":"human","content":"question"},
		{"type":"ai","content":[{"type":"text","text":"part one"},{"type":"text","text":"part two"}]}
	]}`)
	insertCheckpoint(t, s, "t1", "ck-01", blob)

	hist, err := s.ShowHistory(ctx, "t1", 1)
	if err != nil {
		t.Fatalf("ShowHistory: %v", err)
	}
	msgs := hist[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "human" || msgs[0].Content != "question" {
		t.Fatalf("message 0: %+v", msgs[0])
	}
	if msgs[1].Role != "ai" || msgs[1].Content != "part one\npart two" {
		t.Fatalf("message 1: %+v", msgs[1])
	}
}

func TestSwitchActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCheckpointsTable(t, s)
	insertCheckpoint(t, s, "t1", "ck-01", chatSnapshot("hi"))

	if err := s.SwitchActive(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown thread, got %v", err)
	}
	got, err := s.ActiveThread(ctx)
	if err != nil {
		t.Fatalf("ActiveThread: %v", err)
	}
	if got != "" {
		t.Fatalf("failed switch must not change the active thread: %q", got)
	}

	if err := s.SwitchActive(ctx, "t1"); err != nil {
		t.Fatalf("SwitchActive: %v", err)
	}
	got, err = s.ActiveThread(ctx)
	if err != nil {
		t.Fatalf("ActiveThread: %v", err)
	}
	if got != "t1" {
		t.Fatalf("ActiveThread = %q, want t1", got)
	}
}

func TestSwitchActiveVisibleToNextOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1 := newTestStoreOpts(t, Options{Path: path})
	createCheckpointsTable(t, s1)
	insertCheckpoint(t, s1, "t1", "ck-01", chatSnapshot("hi"))
	insertCheckpoint(t, s1, "t2", "ck-02", chatSnapshot("hey"))

	if err := s1.SwitchActive(ctx, "t1"); err != nil {
		t.Fatalf("SwitchActive: %v", err)
	}

	// A fresh connection to the same file sees the switch.
	s2 := newTestStoreOpts(t, Options{Path: path})
	got, err := s2.ActiveThread(ctx)
	if err != nil {
		t.Fatalf("ActiveThread: %v", err)
	}
	if got != "t1" {
		t.Fatalf("active thread not visible after reopen: got %q, want t1", got)
	}

	// The switch replaces, never accumulates.
	if err := s2.SwitchActive(ctx, "t2"); err != nil {
		t.Fatalf("SwitchActive t2: %v", err)
	}
	got, err = s1.ActiveThread(ctx)
	if err != nil {
		t.Fatalf("ActiveThread: %v", err)
	}
	if got != "t2" {
		t.Fatalf("active thread = %q, want t2", got)
	}
}

func TestSwitchActiveWithoutCheckpointsTable(t *testing.T) {
	s := newTestStore(t)
	if err := s.SwitchActive(context.Background(), "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

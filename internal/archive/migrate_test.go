package archive

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/tabarch/internal/logging"
)

// recordingHandler captures log records for assertions.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, r)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) contains(level slog.Level, substr string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.Level == level && strings.Contains(r.Message, substr) {
			return true
		}
	}
	return false
}

func stagedFile(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("payload"), 0644); err != nil {
		t.Fatalf("write staged: %v", err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	return path
}

func TestTemplateExpandsModTimeUTC(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPipeline(filepath.Join(dir, "out", "%Y%m%d", "bsas-%H%M%S.h5"), discardLogger())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	// 2024-03-05 12:34:56 UTC.
	mtime := time.Date(2024, 3, 5, 12, 34, 56, 0, time.UTC)
	staged := stagedFile(t, dir, "scratch.h5.tmp", mtime)

	p.Submit(staged)
	p.Wait()

	want := filepath.Join(dir, "out", "20240305", "bsas-123456.h5")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("final file missing at %s: %v", want, err)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Errorf("staged file still present: %v", err)
	}

	started, completed, failed, stalls := p.Stats()
	if started != 1 || completed != 1 || failed != 0 || stalls != 0 {
		t.Errorf("stats = %d/%d/%d/%d, want 1/1/0/0", started, completed, failed, stalls)
	}
}

func TestInvalidTemplateRejectedAtStartup(t *testing.T) {
	if _, err := NewPipeline("out-%", discardLogger()); err == nil {
		t.Fatal("expected error for truncated directive")
	}
}

func TestStallWarningWhenPreviousJobRuns(t *testing.T) {
	h := &recordingHandler{}
	logging.InitWithHandler(h)
	p, err := NewPipeline(filepath.Join(t.TempDir(), "%H%M%S.h5"), logging.Component("migration"))
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	release := make(chan struct{})
	p.relocate = func(string) { <-release }

	p.Submit("first")
	if !p.Busy() {
		t.Fatal("pipeline not busy with job in flight")
	}

	go func() {
		// Longer than the grace poll, so the second Submit stalls.
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	p.Submit("second")
	p.Wait()

	if !h.contains(slog.LevelWarn, "rotation stalls") {
		t.Error("no stall warning logged")
	}
	if _, _, _, stalls := p.Stats(); stalls != 1 {
		t.Errorf("stalls = %d, want 1", stalls)
	}
	if p.Busy() {
		t.Error("pipeline still busy after wait")
	}
}

func TestNoStallWhenPreviousJobFinished(t *testing.T) {
	h := &recordingHandler{}
	p, err := NewPipeline(filepath.Join(t.TempDir(), "%H%M%S.h5"), slog.New(h))
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	p.relocate = func(string) {}

	p.Submit("first")
	p.Wait()
	p.Submit("second")
	p.Wait()

	if h.contains(slog.LevelWarn, "rotation stalls") {
		t.Error("unexpected stall warning")
	}
	if _, _, _, stalls := p.Stats(); stalls != 0 {
		t.Errorf("stalls = %d, want 0", stalls)
	}
}

func TestDestinationCollisionIsClobbered(t *testing.T) {
	dir := t.TempDir()
	h := &recordingHandler{}
	p, err := NewPipeline(filepath.Join(dir, "out-%H%M%S.h5"), slog.New(h))
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	mtime := time.Date(2024, 3, 5, 12, 34, 56, 0, time.UTC)
	final := filepath.Join(dir, "out-123456.h5")
	if err := os.WriteFile(final, []byte("old"), 0644); err != nil {
		t.Fatalf("write collision: %v", err)
	}
	staged := stagedFile(t, dir, "scratch.h5.tmp", mtime)

	p.Submit(staged)
	p.Wait()

	if !h.contains(slog.LevelError, "destination already exists") {
		t.Error("no collision warning logged")
	}
	got, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("read final: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("final content = %q, want the staged payload", got)
	}
}

func TestFailedMigrationLeavesStagedFile(t *testing.T) {
	dir := t.TempDir()

	// The destination parent is a regular file, so the move cannot succeed.
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	h := &recordingHandler{}
	p, err := NewPipeline(filepath.Join(blocker, "out-%H%M%S.h5"), slog.New(h))
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	staged := stagedFile(t, dir, "scratch.h5.tmp", time.Time{})
	p.Submit(staged)
	p.Wait()

	if !h.contains(slog.LevelError, "migration failed") {
		t.Error("no failure logged")
	}
	if _, _, failed, _ := p.Stats(); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if _, err := os.Stat(staged); err != nil {
		t.Errorf("staged file gone after failed migration: %v", err)
	}
}

func TestWaitIdlePipeline(t *testing.T) {
	p, err := NewPipeline(filepath.Join(t.TempDir(), "%H%M%S.h5"), discardLogger())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	if p.Busy() {
		t.Error("fresh pipeline busy")
	}
	p.Wait()
}

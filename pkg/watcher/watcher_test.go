package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pipeboard/pipeboard/pkg/content"
)

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	root := t.TempDir()
	for _, stage := range content.Stages {
		if err := os.MkdirAll(filepath.Join(root, string(stage), "blog"), 0755); err != nil {
			t.Fatal(err)
		}
	}
	w, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func writeFile(t *testing.T, w *Watcher, rel, body string) string {
	t.Helper()
	abs := filepath.Join(w.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return abs
}

func drainOne(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	w := newTestWatcher(t)
	abs := writeFile(t, w, "to-review/blog/post.md", "# hi")

	w.handleCreate(abs)
	w.handleCreate(abs)

	ev := drainOne(t, w)
	if ev.Type != EventAdded {
		t.Fatalf("event type = %q, want added", ev.Type)
	}
	select {
	case extra := <-w.Events():
		t.Fatalf("unexpected second event: %+v", extra)
	default:
	}
	if len(w.Snapshot()) != 1 {
		t.Fatalf("index has %d entries, want 1", len(w.Snapshot()))
	}
}

func TestWriteAlwaysEmitsChanged(t *testing.T) {
	w := newTestWatcher(t)
	abs := writeFile(t, w, "to-review/blog/post.md", "# hi")

	w.handleCreate(abs)
	drainOne(t, w)

	w.handleWrite(abs)
	w.handleWrite(abs)
	for i := 0; i < 2; i++ {
		if ev := drainOne(t, w); ev.Type != EventChanged {
			t.Fatalf("event type = %q, want changed", ev.Type)
		}
	}
}

func TestDeleteEmitsLastKnownRecord(t *testing.T) {
	w := newTestWatcher(t)
	abs := writeFile(t, w, "to-post/blog/post.md", "---\ntitle: Bye\n---\n")

	w.handleCreate(abs)
	drainOne(t, w)

	w.handleDelete(abs)
	ev := drainOne(t, w)
	if ev.Type != EventDeleted {
		t.Fatalf("event type = %q, want deleted", ev.Type)
	}
	if ev.File.Title != "Bye" {
		t.Errorf("deleted record title = %q, want Bye", ev.File.Title)
	}
	if _, ok := w.Get(ev.File.Path); ok {
		t.Error("record still indexed after delete")
	}
}

func TestDeleteUntrackedIsNoop(t *testing.T) {
	w := newTestWatcher(t)
	w.handleDelete(filepath.Join(w.root, "to-post", "blog", "ghost.md"))
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

func TestUnsupportedFilesIgnored(t *testing.T) {
	w := newTestWatcher(t)
	abs := writeFile(t, w, "to-review/blog/notes.txt", "scratch")
	w.handleCreate(abs)
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

func TestRelocateMovesStageAtomically(t *testing.T) {
	w := newTestWatcher(t)
	abs := writeFile(t, w, "to-review/blog/post.md", "# hi")
	w.handleCreate(abs)
	drainOne(t, w)

	oldPath := "content/to-review/blog/post.md"
	old, moved, err := w.Relocate(oldPath, content.StageToPost)
	if err != nil {
		t.Fatal(err)
	}
	if old.Stage != content.StageToReview {
		t.Errorf("old stage = %q", old.Stage)
	}
	if moved.Stage != content.StageToPost {
		t.Errorf("moved stage = %q", moved.Stage)
	}
	if moved.Path != "content/to-post/blog/post.md" {
		t.Errorf("moved path = %q", moved.Path)
	}

	if _, ok := w.Get(oldPath); ok {
		t.Error("old path still indexed after move")
	}
	if _, ok := w.Get(moved.Path); !ok {
		t.Error("new path missing from index after move")
	}
	if _, err := os.Stat(filepath.Join(w.root, "to-post", "blog", "post.md")); err != nil {
		t.Errorf("moved file missing on disk: %v", err)
	}
}

func TestRelocateUntracked(t *testing.T) {
	w := newTestWatcher(t)
	if _, _, err := w.Relocate("content/to-review/blog/ghost.md", content.StageToPost); err == nil {
		t.Fatal("expected error for untracked path")
	}
}

func TestStartScansExistingFilesAndStops(t *testing.T) {
	w := newTestWatcher(t)
	w.debounce = 50 * time.Millisecond
	writeFile(t, w, "to-review/blog/existing.md", "# hi")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	ev := drainOne(t, w)
	if ev.Type != EventAdded || ev.File.Path != "content/to-review/blog/existing.md" {
		t.Fatalf("unexpected initial scan event: %+v", ev)
	}

	// A freshly written file settles through the debounce window.
	writeFile(t, w, "to-post/blog/new.md", "# new")
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Type == EventAdded && ev.File.Path == "content/to-post/blog/new.md" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for debounced add")
		}
	}
}

package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pipeboard/pipeboard/pkg/content"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestCreateSequenceIDs(t *testing.T) {
	s := openTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := s.Create("")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, sess.ID)
	}

	want := []string{"2026-03-14_session-1", "2026-03-14_session-2", "2026-03-14_session-3"}
	for i, id := range ids {
		if id != want[i] {
			t.Errorf("id[%d] = %q, want %q", i, id, want[i])
		}
	}
}

func TestCreateNamedSlug(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.Create("Q3 Launch  Plan")
	if err != nil {
		t.Fatal(err)
	}
	if sess.ID != "2026-03-14_q3-launch-plan" {
		t.Errorf("id = %q", sess.ID)
	}
	if sess.Name != "Q3 Launch  Plan" {
		t.Errorf("name = %q", sess.Name)
	}

	active, ok := s.Active()
	if !ok || active.ID != sess.ID {
		t.Errorf("active = %+v, ok = %v", active, ok)
	}
}

func TestAddFileIdempotent(t *testing.T) {
	s := openTestStore(t)
	sess, _ := s.Create("work")
	file := content.File{Path: "content/to-review/blog/post.md", Type: content.TypeBlog, Stage: content.StageToReview}

	added, err := s.AddFile(sess.ID, file)
	if err != nil || !added {
		t.Fatalf("first add: added=%v err=%v", added, err)
	}
	added, err = s.AddFile(sess.ID, file)
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Error("duplicate add reported a change")
	}

	got, _ := s.Get(sess.ID)
	if len(got.ContentFiles) != 1 {
		t.Errorf("session holds %d files, want 1", len(got.ContentFiles))
	}
}

func TestRemoveAndUpdateFile(t *testing.T) {
	s := openTestStore(t)
	sess, _ := s.Create("work")
	file := content.File{Path: "content/to-review/blog/post.md", Stage: content.StageToReview}
	if _, err := s.AddFile(sess.ID, file); err != nil {
		t.Fatal(err)
	}

	moved := file
	moved.Stage = content.StageToPost
	changed, err := s.UpdateFile(sess.ID, file.Path, moved)
	if err != nil || !changed {
		t.Fatalf("update: changed=%v err=%v", changed, err)
	}

	removed, err := s.RemoveFile(sess.ID, file.Path)
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	removed, _ = s.RemoveFile(sess.ID, file.Path)
	if removed {
		t.Error("second remove reported a change")
	}
}

func TestDeleteActiveReassignsPointer(t *testing.T) {
	s := openTestStore(t)
	first, _ := s.Create("first")
	second, _ := s.Create("second")

	// second is active (created last).
	if err := s.Delete(second.ID); err != nil {
		t.Fatal(err)
	}
	active, ok := s.Active()
	if !ok || active.ID != first.ID {
		t.Errorf("active after delete = %+v, ok=%v, want %s", active, ok, first.ID)
	}

	if err := s.Delete(first.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Active(); ok {
		t.Error("active pointer not cleared with no sessions left")
	}
}

func TestDeleteUnknown(t *testing.T) {
	s := openTestStore(t)
	if err := s.Delete("nope"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCorruptDocumentStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sessions.json"), []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.List()) != 0 {
		t.Errorf("expected empty store, got %d sessions", len(s.List()))
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	sess, _ := s.Create("keep")
	if _, err := s.AddFile(sess.ID, content.File{Path: "content/posted/blog/done.md"}); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.ContentFiles) != 1 {
		t.Errorf("reopened session holds %d files, want 1", len(got.ContentFiles))
	}
	if active, ok := reopened.Active(); !ok || active.ID != sess.ID {
		t.Errorf("active pointer lost on reload")
	}
}

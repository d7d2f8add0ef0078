// Package session persists dashboard work sessions to a single JSON
// document with an active-session pointer.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pipeboard/pipeboard/pkg/content"
	"github.com/pipeboard/pipeboard/pkg/log"
)

// ErrNotFound is returned when a session id is unknown to the store.
var ErrNotFound = errors.New("session not found")

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Session is a named unit of work owning an ordered list of content records.
type Session struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	CreatedAt    string         `json:"createdAt"`
	UpdatedAt    string         `json:"updatedAt"`
	Status       Status         `json:"status"`
	ContentFiles []content.File `json:"contentFiles"`
}

// data is the persisted document shape.
type data struct {
	Sessions        []Session `json:"sessions"`
	ActiveSessionID string    `json:"activeSessionId"`
}

// Store holds the session collection. Every mutation rewrites the whole
// document synchronously; there is no partial persistence.
type Store struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	data data
}

// Open loads the store from dir/sessions.json, initializing an empty store
// when the file is missing or corrupt.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	s := &Store{
		path: filepath.Join(dir, "sessions.json"),
		now:  time.Now,
	}
	s.load()
	return s, nil
}

func (s *Store) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("session store: failed to read document, starting empty", "path", s.path, "error", err)
		}
		return
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		log.Warn("session store: corrupt document, starting empty", "path", s.path, "error", err)
		s.data = data{}
	}
}

// save rewrites the full document. Callers hold s.mu.
func (s *Store) save() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write sessions: %w", err)
	}
	return nil
}

// List returns all sessions, most recently created first.
func (s *Store) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, len(s.data.Sessions))
	copy(out, s.data.Sessions)
	return out
}

// Get returns the session with the given id.
func (s *Store) Get(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.find(id); sess != nil {
		return *sess, nil
	}
	return Session{}, ErrNotFound
}

// Active returns the session the active pointer names, if any.
func (s *Store) Active() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.ActiveSessionID == "" {
		return Session{}, false
	}
	if sess := s.find(s.data.ActiveSessionID); sess != nil {
		return *sess, true
	}
	return Session{}, false
}

func (s *Store) find(id string) *Session {
	for i := range s.data.Sessions {
		if s.data.Sessions[i].ID == id {
			return &s.data.Sessions[i]
		}
	}
	return nil
}

var slugPattern = regexp.MustCompile(`\s+`)

// Create adds a session and makes it active. The id is date-prefixed and
// derived from name when given, otherwise from a per-day sequence number.
func (s *Store) Create(name string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	dateStr := now.Format("2006-01-02")
	seq := 1
	for _, sess := range s.data.Sessions {
		if strings.HasPrefix(sess.ID, dateStr) {
			seq++
		}
	}

	var id string
	if name != "" {
		id = fmt.Sprintf("%s_%s", dateStr, slugPattern.ReplaceAllString(strings.ToLower(name), "-"))
	} else {
		id = fmt.Sprintf("%s_session-%d", dateStr, seq)
		name = fmt.Sprintf("Session %d", seq)
	}

	sess := Session{
		ID:           id,
		Name:         name,
		CreatedAt:    now.Format(time.RFC3339),
		UpdatedAt:    now.Format(time.RFC3339),
		Status:       StatusActive,
		ContentFiles: []content.File{},
	}
	s.data.Sessions = append([]Session{sess}, s.data.Sessions...)
	s.data.ActiveSessionID = sess.ID

	if err := s.save(); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Update applies the non-nil fields and bumps the updated timestamp.
type Update struct {
	Name   *string
	Status *Status
}

// Update modifies a session in place.
func (s *Store) Update(id string, upd Update) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.find(id)
	if sess == nil {
		return Session{}, ErrNotFound
	}
	if upd.Name != nil {
		sess.Name = *upd.Name
	}
	if upd.Status != nil {
		sess.Status = *upd.Status
	}
	sess.UpdatedAt = s.now().UTC().Format(time.RFC3339)

	if err := s.save(); err != nil {
		return Session{}, err
	}
	return *sess, nil
}

// SetActive points the single process-level active pointer at id.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(id) == nil {
		return ErrNotFound
	}
	s.data.ActiveSessionID = id
	return s.save()
}

// AddFile appends a content record to a session. Adding a path the session
// already holds is a no-op and reports no change.
func (s *Store) AddFile(id string, file content.File) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.find(id)
	if sess == nil {
		return false, ErrNotFound
	}
	for _, f := range sess.ContentFiles {
		if f.Path == file.Path {
			return false, nil
		}
	}
	sess.ContentFiles = append(sess.ContentFiles, file)
	sess.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	return true, s.save()
}

// UpdateFile replaces the record stored under path within a session.
func (s *Store) UpdateFile(id, path string, file content.File) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.find(id)
	if sess == nil {
		return false, ErrNotFound
	}
	for i, f := range sess.ContentFiles {
		if f.Path == path {
			sess.ContentFiles[i] = file
			sess.UpdatedAt = s.now().UTC().Format(time.RFC3339)
			return true, s.save()
		}
	}
	return false, nil
}

// RemoveFile drops the record stored under path from a session.
func (s *Store) RemoveFile(id, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.find(id)
	if sess == nil {
		return false, ErrNotFound
	}
	kept := sess.ContentFiles[:0]
	removed := false
	for _, f := range sess.ContentFiles {
		if f.Path == path {
			removed = true
			continue
		}
		kept = append(kept, f)
	}
	if !removed {
		return false, nil
	}
	sess.ContentFiles = kept
	sess.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	return true, s.save()
}

// Delete removes a session. Deleting the active session moves the pointer
// to the next remaining session in store order, or clears it.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.data.Sessions {
		if s.data.Sessions[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	s.data.Sessions = append(s.data.Sessions[:idx], s.data.Sessions[idx+1:]...)
	if s.data.ActiveSessionID == id {
		s.data.ActiveSessionID = ""
		if len(s.data.Sessions) > 0 {
			s.data.ActiveSessionID = s.data.Sessions[0].ID
		}
	}
	return s.save()
}

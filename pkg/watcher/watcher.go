// Package watcher keeps the pipeline index authoritative over the content
// root and emits typed change events for connected clients.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pipeboard/pipeboard/pkg/content"
	"github.com/pipeboard/pipeboard/pkg/log"
)

// EventType identifies a pipeline index change.
type EventType string

const (
	EventAdded   EventType = "added"
	EventChanged EventType = "changed"
	EventDeleted EventType = "deleted"
)

// Event is a single change to the pipeline index.
type Event struct {
	Type EventType
	File content.File
}

const (
	defaultDebounce = 500 * time.Millisecond
	sweepInterval   = 100 * time.Millisecond
	eventBuffer     = 256
)

// Watcher owns the pipeline index. Files under the three stage directories
// are classified into content records; rapid successive writes to the same
// file coalesce into one notification.
type Watcher struct {
	root     string
	debounce time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	fs      *fsnotify.Watcher
	index   map[string]content.File
	pending map[string]pendingOp
	running bool

	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a watcher over root, which must contain the stage directories.
func New(root string) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve content root: %w", err)
	}
	return &Watcher{
		root:     abs,
		debounce: defaultDebounce,
		now:      time.Now,
		index:    make(map[string]content.File),
		pending:  make(map[string]pendingOp),
		events:   make(chan Event, eventBuffer),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Events returns the change event stream. Events from a single file are
// delivered in emission order.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start scans the stage directories, registers OS watches recursively and
// begins emitting events. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w.fs = fs
	w.running = true
	w.mu.Unlock()

	for _, stage := range content.Stages {
		dir := filepath.Join(w.root, string(stage))
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Warn("watcher: failed to create stage dir", "dir", dir, "error", err)
			continue
		}
		if err := w.watchTree(dir); err != nil {
			log.Warn("watcher: failed to watch stage dir", "dir", dir, "error", err)
		}
	}

	go w.run(ctx)
	log.Info("file watcher started", "root", w.root)
	return nil
}

// Stop stops the watcher and releases the underlying OS watch handles.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.fs.Close(); err != nil {
		log.Error("watcher: failed to close fsnotify watcher", "error", err)
	}
	log.Info("file watcher stopped")
}

// watchTree registers dir and every subdirectory, scanning existing files
// through the normal add path.
func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fs.Add(path)
		}
		w.handleCreate(path)
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleFsEvent(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Error("watcher: fsnotify error", "error", err)
		case <-ticker.C:
			w.sweepPending()
		}
	}
}

func (w *Watcher) handleFsEvent(ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.watchTree(ev.Name); err != nil {
				log.Warn("watcher: failed to watch new dir", "dir", ev.Name, "error", err)
			}
			return
		}
		w.deferEvent(ev.Name, opCreate)
	case ev.Op&fsnotify.Write != 0:
		w.deferEvent(ev.Name, opWrite)
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		w.handleDelete(ev.Name)
	}
}

type op int

const (
	opCreate op = iota
	opWrite
)

type pendingOp struct {
	at time.Time
	op op
}

// deferEvent records the path for processing once writes have settled. A
// create followed by rapid writes still settles as a single create.
func (w *Watcher) deferEvent(path string, kind op) {
	w.mu.Lock()
	prev, pending := w.pending[path]
	if pending && prev.op == opCreate {
		kind = opCreate
	}
	w.pending[path] = pendingOp{at: w.now(), op: kind}
	w.mu.Unlock()
}

func (w *Watcher) sweepPending() {
	w.mu.Lock()
	now := w.now()
	var settled []string
	for path, p := range w.pending {
		if now.Sub(p.at) >= w.debounce {
			settled = append(settled, path)
		}
	}
	w.mu.Unlock()

	sort.Strings(settled)
	for _, path := range settled {
		w.mu.Lock()
		p, ok := w.pending[path]
		if !ok || now.Sub(p.at) < w.debounce {
			// A fresh event landed meanwhile; let it settle again.
			w.mu.Unlock()
			continue
		}
		kind := p.op
		delete(w.pending, path)
		w.mu.Unlock()

		if _, err := os.Stat(path); err != nil {
			w.handleDelete(path)
			continue
		}
		if kind == opCreate {
			w.handleCreate(path)
		} else {
			w.handleWrite(path)
		}
	}
}

// handleCreate classifies path and inserts it into the index. A path new to
// the index emits an added event; a path already tracked (watcher resumed,
// settled duplicate) updates silently.
func (w *Watcher) handleCreate(path string) {
	file := w.classify(path)
	if file == nil {
		return
	}

	w.mu.Lock()
	_, existed := w.index[file.Path]
	w.index[file.Path] = *file
	w.mu.Unlock()

	if existed {
		return
	}
	log.Debug("watcher: file added", "path", file.Path)
	w.emit(Event{Type: EventAdded, File: *file})
}

// handleWrite reclassifies path, overwrites the index entry and always
// emits a changed event.
func (w *Watcher) handleWrite(path string) {
	file := w.classify(path)
	if file == nil {
		return
	}

	w.mu.Lock()
	w.index[file.Path] = *file
	w.mu.Unlock()

	w.emit(Event{Type: EventChanged, File: *file})
}

func (w *Watcher) handleDelete(path string) {
	canonical, ok := w.canonicalPath(path)
	if !ok {
		return
	}

	w.mu.Lock()
	file, tracked := w.index[canonical]
	if tracked {
		delete(w.index, canonical)
	}
	w.mu.Unlock()

	if !tracked {
		return
	}
	log.Debug("watcher: file deleted", "path", canonical)
	w.emit(Event{Type: EventDeleted, File: file})
}

// classify reads path and maps it to a content record; unreadable or
// unsupported files yield nil.
func (w *Watcher) classify(path string) *content.File {
	rel, ok := w.relPath(path)
	if !ok {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return content.Classify(rel, data, w.now())
}

func (w *Watcher) relPath(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) canonicalPath(path string) (string, bool) {
	rel, ok := w.relPath(path)
	if !ok {
		return "", false
	}
	return content.PathPrefix + rel, true
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.stopCh:
	}
}

// Get returns the indexed record for a canonical path.
func (w *Watcher) Get(canonicalPath string) (content.File, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	file, ok := w.index[canonicalPath]
	return file, ok
}

// Snapshot returns all indexed records ordered by canonical path.
func (w *Watcher) Snapshot() []content.File {
	w.mu.RLock()
	files := make([]content.File, 0, len(w.index))
	for _, f := range w.index {
		files = append(files, f)
	}
	w.mu.RUnlock()

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

// ByStage returns the indexed records for one stage.
func (w *Watcher) ByStage(stage content.Stage) []content.File {
	var out []content.File
	for _, f := range w.Snapshot() {
		if f.Stage == stage {
			out = append(out, f)
		}
	}
	return out
}

// Relocate moves a tracked file to another stage. The disk rename and the
// index swap happen in one critical section, so the old and new canonical
// paths never coexist in the index. The fsnotify callbacks that follow the
// rename observe an already consistent index and reduce to no-ops.
func (w *Watcher) Relocate(canonicalPath string, toStage content.Stage) (content.File, content.File, error) {
	if !strings.HasPrefix(canonicalPath, content.PathPrefix) {
		return content.File{}, content.File{}, fmt.Errorf("not a canonical content path: %q", canonicalPath)
	}
	rel := strings.TrimPrefix(canonicalPath, content.PathPrefix)
	parts := strings.Split(rel, "/")
	if len(parts) < 2 {
		return content.File{}, content.File{}, fmt.Errorf("invalid content path: %q", canonicalPath)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	old, ok := w.index[canonicalPath]
	if !ok {
		return content.File{}, content.File{}, fmt.Errorf("not tracked: %q", canonicalPath)
	}

	parts[0] = string(toStage)
	newRel := strings.Join(parts, "/")
	oldAbs := filepath.Join(w.root, filepath.FromSlash(rel))
	newAbs := filepath.Join(w.root, filepath.FromSlash(newRel))

	if err := os.MkdirAll(filepath.Dir(newAbs), 0755); err != nil {
		return content.File{}, content.File{}, fmt.Errorf("failed to create stage dir: %w", err)
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		return content.File{}, content.File{}, fmt.Errorf("failed to move file: %w", err)
	}

	moved := old
	moved.Stage = toStage
	moved.Path = content.PathPrefix + newRel
	delete(w.index, canonicalPath)
	w.index[moved.Path] = moved

	return old, moved, nil
}

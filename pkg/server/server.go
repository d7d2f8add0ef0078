// Package server exposes the dashboard HTTP surface: REST routes for
// sessions and pipeline files, the websocket endpoint, and the chat
// streaming bridge.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pipeboard/pipeboard/pkg/content"
	"github.com/pipeboard/pipeboard/pkg/correlate"
	"github.com/pipeboard/pipeboard/pkg/hub"
	"github.com/pipeboard/pipeboard/pkg/log"
	"github.com/pipeboard/pipeboard/pkg/proxy"
	"github.com/pipeboard/pipeboard/pkg/session"
	"github.com/pipeboard/pipeboard/pkg/watcher"
)

// Config configures the HTTP server.
type Config struct {
	Port    int
	Root    string // content root holding the stage directories
	Version string
}

// Server wires the dashboard components behind one HTTP listener.
type Server struct {
	cfg     Config
	store   *session.Store
	watch   *watcher.Watcher
	hub     *hub.Hub
	chat    *proxy.Handler
	history *correlate.History
	server  *http.Server
}

// New assembles the route table. All collaborators are required except
// history, which may be nil when transcript retention is off.
func New(cfg Config, store *session.Store, watch *watcher.Watcher, h *hub.Hub, chat *proxy.Handler, history *correlate.History) (*Server, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if store == nil || watch == nil || h == nil || chat == nil {
		return nil, fmt.Errorf("store, watcher, hub and chat handler are required")
	}

	s := &Server{
		cfg:     cfg,
		store:   store,
		watch:   watch,
		hub:     h,
		chat:    chat,
		history: history,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWS)
	mux.HandleFunc("POST /api/chat", chat.HandleChat)
	mux.HandleFunc("POST /api/abort/{requestId}", chat.HandleAbort)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/config", s.handleConfig)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PATCH /api/sessions/{id}", s.handleUpdateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/activate", s.handleActivateSession)
	mux.HandleFunc("POST /api/sessions/{id}/files", s.handleAddSessionFile)
	mux.HandleFunc("DELETE /api/sessions/{id}/files", s.handleRemoveSessionFile)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleSessionMessages)

	mux.HandleFunc("GET /api/pipeline", s.handlePipeline)
	mux.HandleFunc("GET /api/pipeline/file", s.handleReadFile)
	mux.HandleFunc("PUT /api/pipeline/file", s.handleWriteFile)
	mux.HandleFunc("DELETE /api/pipeline/file", s.handleDeleteFile)
	mux.HandleFunc("POST /api/pipeline/move", s.handleMoveFile)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}
	return s, nil
}

// Handler returns the route table, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	log.Infof("dashboard server listening on %s", s.server.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("dashboard server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down dashboard server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"clients":  s.hub.ClientCount(),
		"files":    len(s.watch.Snapshot()),
		"sessions": len(s.store.List()),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":     s.cfg.Version,
		"contentRoot": s.cfg.Root,
		"port":        s.cfg.Port,
		"stages":      content.Stages,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	active := ""
	if sess, ok := s.store.Active(); ok {
		active = sess.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":        s.store.List(),
		"activeSessionId": active,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	// The name is optional; an empty body means an unnamed session.
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := s.store.Create(body.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.hub.BroadcastSessions()
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   *string `json:"name"`
		Status *string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	upd := session.Update{Name: body.Name}
	if body.Status != nil {
		st := session.Status(*body.Status)
		switch st {
		case session.StatusActive, session.StatusCompleted, session.StatusArchived:
		default:
			writeError(w, http.StatusBadRequest, "invalid status: "+*body.Status)
			return
		}
		upd.Status = &st
	}
	sess, err := s.store.Update(r.PathValue("id"), upd)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.BroadcastSessions()
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.BroadcastSessions()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleActivateSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetActive(r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.BroadcastSessions()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleAddSessionFile(w http.ResponseWriter, r *http.Request) {
	var file content.File
	if err := json.NewDecoder(r.Body).Decode(&file); err != nil || file.Path == "" {
		writeError(w, http.StatusBadRequest, "a file with a path is required")
		return
	}
	changed, err := s.store.AddFile(r.PathValue("id"), file)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": changed})
}

func (s *Server) handleRemoveSessionFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	removed, err := s.store.RemoveFile(r.PathValue("id"), path)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"messages": []correlate.Message{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": s.history.Get(r.PathValue("id")),
	})
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	if stage := r.URL.Query().Get("stage"); stage != "" {
		if !content.ValidStage(stage) {
			writeError(w, http.StatusBadRequest, "invalid stage: "+stage)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": s.watch.ByStage(content.Stage(stage))})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": s.watch.Snapshot()})
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	abs, err := s.resolve(path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "file not found: "+path)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "content": string(data)})
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	abs, err := s.resolve(body.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.WriteFile(abs, []byte(body.Content), 0644); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// The watcher observes the write and indexes it on its own.
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "path": body.Path})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	abs, err := s.resolve(path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "file not found: "+path)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleMoveFile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path    string `json:"path"`
		ToStage string `json:"toStage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !content.ValidStage(body.ToStage) {
		writeError(w, http.StatusBadRequest, "invalid stage: "+body.ToStage)
		return
	}

	old, moved, err := s.watch.Relocate(body.Path, content.Stage(body.ToStage))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	// Keep session membership pointing at the new canonical path.
	for _, sess := range s.store.List() {
		if _, err := s.store.UpdateFile(sess.ID, old.Path, moved); err != nil && !errors.Is(err, session.ErrNotFound) {
			log.Warnf("failed to update session %s after move: %v", sess.ID, err)
		}
	}

	s.hub.BroadcastContentMoved(moved, old.Stage, moved.Stage)
	writeJSON(w, http.StatusOK, map[string]any{"file": moved, "from": old.Stage, "to": moved.Stage})
}

// resolve maps a canonical path to an absolute path under the content
// root, rejecting anything that escapes it.
func (s *Server) resolve(canonical string) (string, error) {
	if canonical == "" {
		return "", fmt.Errorf("path is required")
	}
	rel, ok := strings.CutPrefix(canonical, content.PathPrefix)
	if !ok {
		return "", fmt.Errorf("path must start with %q", content.PathPrefix)
	}
	abs := filepath.Join(s.cfg.Root, filepath.FromSlash(rel))
	root := filepath.Clean(s.cfg.Root)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the content root")
	}
	return abs, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

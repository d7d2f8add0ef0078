package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pipeboard/pipeboard/pkg/agent"
	"github.com/pipeboard/pipeboard/pkg/correlate"
	"github.com/pipeboard/pipeboard/pkg/log"
)

// ChatRequest is the body of a streamed chat invocation.
type ChatRequest struct {
	Message          string   `json:"message"`
	RequestID        string   `json:"requestId"`
	SessionID        string   `json:"sessionId,omitempty"`
	AllowedTools     []string `json:"allowedTools,omitempty"`
	WorkingDirectory string   `json:"workingDirectory,omitempty"`
	PermissionMode   string   `json:"permissionMode,omitempty"`
}

// Frame is one NDJSON line of a chat response. Exactly one of Data and
// Error is populated, depending on Type.
type Frame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

const (
	FrameEvent   = "event"
	FrameDone    = "done"
	FrameError   = "error"
	FrameAborted = "aborted"
)

// frameWriter serializes NDJSON frames onto a response, flushing after
// every line so events reach the client as they happen.
type frameWriter struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher interface{ Flush() }
}

func newFrameWriter(w io.Writer) *frameWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	fw := &frameWriter{enc: enc}
	if f, ok := w.(interface{ Flush() }); ok {
		fw.flusher = f
	}
	return fw
}

func (fw *frameWriter) write(f Frame) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.enc.Encode(f); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
	return nil
}

// Handler serves chat streaming and abort endpoints.
type Handler struct {
	runtime  agent.Runtime
	registry *Registry
	history  *correlate.History
	now      func() time.Time
}

// NewHandler creates a chat proxy over the given runtime. history may be
// nil to disable transcript retention.
func NewHandler(runtime agent.Runtime, registry *Registry, history *correlate.History) *Handler {
	return &Handler{
		runtime:  runtime,
		registry: registry,
		history:  history,
		now:      time.Now,
	}
}

// HandleChat streams one agent invocation as NDJSON frames. The stream
// terminates with exactly one of done, error, or aborted.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.RequestID == "" {
		writeJSONError(w, http.StatusBadRequest, "requestId is required")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.registry.Register(req.RequestID, cancel); err != nil {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	defer h.registry.Remove(req.RequestID)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Slash prefixes are a client-side command convention, not part of
	// the prompt. Only the first one is decorative.
	prompt := strings.TrimPrefix(req.Message, "/")

	log.Infof("chat request %s started (session=%q)", req.RequestID, req.SessionID)

	stream, err := h.runtime.Stream(ctx, agent.Request{
		Prompt:           prompt,
		Resume:           req.SessionID,
		AllowedTools:     req.AllowedTools,
		WorkingDirectory: req.WorkingDirectory,
		PermissionMode:   req.PermissionMode,
	})
	fw := newFrameWriter(w)
	if err != nil {
		log.Errorf("chat request %s failed to start: %v", req.RequestID, err)
		fw.write(Frame{Type: FrameError, Error: err.Error()})
		return
	}

	// Each invocation gets a fresh correlator so tool attributions never
	// leak across conversations.
	corr := correlate.New()

	for ev := range stream.Events() {
		if err := fw.write(Frame{Type: FrameEvent, Data: ev}); err != nil {
			// Client gone. Cancel the invocation and drain.
			cancel()
			for range stream.Events() {
			}
			log.Infof("chat request %s client disconnected", req.RequestID)
			return
		}
		h.record(&req, corr, ev)
	}

	switch err := stream.Err(); {
	case err == nil:
		fw.write(Frame{Type: FrameDone})
		log.Infof("chat request %s completed", req.RequestID)
	case errors.Is(err, context.Canceled):
		fw.write(Frame{Type: FrameAborted})
		log.Infof("chat request %s aborted", req.RequestID)
	default:
		fw.write(Frame{Type: FrameError, Error: err.Error()})
		log.Errorf("chat request %s failed: %v", req.RequestID, err)
	}
}

// record feeds the transcript store. The transcript is keyed by the
// runtime conversation id once known, falling back to the resume id the
// client supplied.
func (h *Handler) record(req *ChatRequest, corr *correlate.Correlator, ev json.RawMessage) {
	if h.history == nil {
		return
	}
	msgs := corr.Process(ev, h.now().UnixMilli())
	key := corr.SessionID()
	if key == "" {
		key = req.SessionID
	}
	h.history.Append(key, msgs...)
}

// HandleAbort cancels an in-flight chat request by id. The id is taken
// from the request path.
func (h *Handler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	requestID := r.PathValue("requestId")
	if requestID == "" {
		writeJSONError(w, http.StatusBadRequest, "requestId is required")
		return
	}

	if !h.registry.Cancel(requestID) {
		// Already completed or never started. Not an error for the
		// caller, just a no-op acknowledgment.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "requestId": requestID})
		return
	}

	log.Infof("chat request %s cancellation requested", requestID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "requestId": requestID})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

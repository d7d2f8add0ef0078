// Package hub maintains the set of live dashboard connections, routes
// inbound client intents, and fans out pipeline and session changes.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pipeboard/pipeboard/pkg/content"
	"github.com/pipeboard/pipeboard/pkg/log"
	"github.com/pipeboard/pipeboard/pkg/session"
	"github.com/pipeboard/pipeboard/pkg/watcher"
)

// Pipeline provides the current index snapshot for subscribe replies.
type Pipeline interface {
	Snapshot() []content.File
}

// inbound is a client intent frame.
type inbound struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type sessionsUpdate struct {
	Type     string            `json:"type"`
	Sessions []session.Session `json:"sessions"`
}

type sessionCreated struct {
	Type    string          `json:"type"`
	Session session.Session `json:"session"`
}

type attached struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type pipelineUpdate struct {
	Type  string         `json:"type"`
	Files []content.File `json:"files"`
}

type contentAdded struct {
	Type      string       `json:"type"`
	SessionID string       `json:"sessionId"`
	File      content.File `json:"file"`
}

type contentMoved struct {
	Type string        `json:"type"`
	File content.File  `json:"file"`
	From content.Stage `json:"from"`
	To   content.Stage `json:"to"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// client is one live connection. writes are serialized through mu; the
// read loop is the only reader.
type client struct {
	id   string
	conn *websocket.Conn

	mu        sync.Mutex
	sessionID string
}

func (c *client) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *client) attachedSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *client) attach(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// Hub upgrades dashboard connections and routes traffic between them, the
// session store and the pipeline index.
type Hub struct {
	upgrader websocket.Upgrader
	store    *session.Store
	pipeline Pipeline

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a hub over the given store and pipeline snapshot source.
func New(store *session.Store, pipeline Pipeline) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			// The dashboard is same-host tooling; cross-origin pages
			// are not a concern here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		store:    store,
		pipeline: pipeline,
		clients:  make(map[*client]struct{}),
	}
}

// HandleWS upgrades one connection and serves it until disconnect.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	c := &client{id: uuid.NewString(), conn: conn}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	log.Infof("client %s connected (%d total)", c.id, total)

	h.bootstrap(c)
	h.readLoop(c)

	h.mu.Lock()
	delete(h.clients, c)
	total = len(h.clients)
	h.mu.Unlock()
	conn.Close()
	log.Infof("client %s disconnected (%d total)", c.id, total)
}

// bootstrap guarantees a session exists and syncs the session list to the
// new connection before any other traffic.
func (h *Hub) bootstrap(c *client) {
	if len(h.store.List()) == 0 {
		if _, err := h.store.Create(""); err != nil {
			log.Errorf("failed to create initial session: %v", err)
		}
	}
	if err := c.send(sessionsUpdate{Type: "sessions-update", Sessions: h.store.List()}); err != nil {
		log.Warnf("client %s bootstrap send failed: %v", c.id, err)
	}
}

func (h *Hub) readLoop(c *client) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.send(errorFrame{Type: "error", Message: "invalid message"})
			continue
		}
		h.dispatch(c, msg)
	}
}

func (h *Hub) dispatch(c *client, msg inbound) {
	switch msg.Type {
	case "create-session":
		sess, err := h.store.Create(msg.Name)
		if err != nil {
			c.send(errorFrame{Type: "error", Message: err.Error()})
			return
		}
		c.attach(sess.ID)
		c.send(sessionCreated{Type: "session-created", Session: sess})
		h.BroadcastSessions()

	case "attach":
		if _, err := h.store.Get(msg.SessionID); err != nil {
			c.send(errorFrame{Type: "error", Message: "unknown session: " + msg.SessionID})
			return
		}
		c.attach(msg.SessionID)
		c.send(attached{Type: "attached", SessionID: msg.SessionID})

	case "subscribe-pipeline":
		c.send(pipelineUpdate{Type: "pipeline-update", Files: h.pipeline.Snapshot()})

	default:
		c.send(errorFrame{Type: "error", Message: "unknown message type: " + msg.Type})
	}
}

// Run pumps watcher events into client notifications until ctx is done or
// the channel closes.
func (h *Hub) Run(ctx context.Context, events <-chan watcher.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != watcher.EventAdded {
				continue
			}
			h.handleAdded(ev.File)
		}
	}
}

// handleAdded appends the file to the session active at event time and
// notifies connections attached to it.
func (h *Hub) handleAdded(file content.File) {
	active, ok := h.store.Active()
	if !ok {
		return
	}
	if _, err := h.store.AddFile(active.ID, file); err != nil {
		log.Errorf("failed to add %s to session %s: %v", file.Path, active.ID, err)
		return
	}
	h.sendToSession(active.ID, contentAdded{
		Type:      "content-added",
		SessionID: active.ID,
		File:      file,
	})
}

// BroadcastSessions pushes the current session list to every connection.
func (h *Hub) BroadcastSessions() {
	h.broadcast(sessionsUpdate{Type: "sessions-update", Sessions: h.store.List()})
}

// BroadcastContentMoved announces a stage move to every connection.
func (h *Hub) BroadcastContentMoved(file content.File, from, to content.Stage) {
	h.broadcast(contentMoved{Type: "content-moved", File: file, From: from, To: to})
}

func (h *Hub) snapshotClients() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) broadcast(v any) {
	for _, c := range h.snapshotClients() {
		if err := c.send(v); err != nil {
			log.Warnf("client %s send failed: %v", c.id, err)
		}
	}
}

func (h *Hub) sendToSession(sessionID string, v any) {
	for _, c := range h.snapshotClients() {
		if c.attachedSession() != sessionID {
			continue
		}
		if err := c.send(v); err != nil {
			log.Warnf("client %s send failed: %v", c.id, err)
		}
	}
}

// ClientCount reports the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Package statusserver exposes a read-only view of slipterm's running
// state over HTTP, for headless-mode deployments where there is no
// terminal attached: a /healthz liveness probe, a /snapshot JSON
// endpoint, and a /ws endpoint that pushes a fresh Snapshot to every
// connected client whenever the event loop publishes one. There is no
// inbound command path here; the server only ever writes.
package statusserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Snapshot is the state the event loop publishes for external observers:
// one flat struct rather than the live job table/logs themselves, so
// nothing outside the event loop can ever hold a reference into state
// only it is allowed to mutate.
type Snapshot struct {
	Timestamp       time.Time          `json:"timestamp"`
	Connected       bool               `json:"connected"`
	Board           string             `json:"board,omitempty"`
	Version         string             `json:"version,omitempty"`
	JobsInFlight    int                `json:"jobs_in_flight"`
	JobsFinished    int                `json:"jobs_finished"`
	RecentDiagLines []string           `json:"recent_diagnostic_lines,omitempty"`
	Inventory       []string           `json:"discovered_endpoints,omitempty"`
	ScheduledCmds   []ScheduledCmdView `json:"scheduled_commands,omitempty"`
}

// ScheduledCmdView is the status-panel-facing view of one scheduled
// command record: its name, cron expression, and the outcome of its
// most recent tick.
type ScheduledCmdView struct {
	Name     string    `json:"name"`
	Line     string    `json:"command_line"`
	Schedule string    `json:"schedule"`
	LastRun  time.Time `json:"last_run,omitempty"`
	LastErr  string    `json:"last_error,omitempty"`
}

// Server serves the latest published Snapshot over HTTP and fans it out
// to websocket clients.
type Server struct {
	logger *slog.Logger

	mu       sync.RWMutex
	current  Snapshot

	clientsMu sync.Mutex
	clients   map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// New returns a Server with an empty initial snapshot.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{logger: logger, clients: make(map[*client]struct{})}
}

// Publish replaces the current snapshot and pushes it to every connected
// websocket client. Safe to call from the event loop goroutine only
// (matching every other publisher in slipterm); readers use Handler,
// which takes its own lock.
func (s *Server) Publish(snap Snapshot) {
	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()
	s.broadcast(snap)
}

// Handler returns the mux that ListenAndServe should run.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"healthy": true})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	snap := s.current
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}
	s.addClient(c)
	s.logger.Info("statusserver: client connected")
	defer func() {
		s.removeClient(c)
		s.logger.Info("statusserver: client disconnected")
		conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	s.mu.RLock()
	initial := s.current
	s.mu.RUnlock()
	if err := c.write(r.Context(), initial); err != nil {
		return
	}

	// This endpoint is push-only: block on the context until the peer
	// disconnects or the connection errors, discarding anything it sends.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

func (s *Server) addClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}

func (s *Server) broadcast(snap Snapshot) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		if err := c.write(context.Background(), snap); err != nil {
			s.logger.Warn("statusserver: broadcast write failed", "error", err)
		}
	}
}

func (c *client) write(ctx context.Context, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, payload)
}

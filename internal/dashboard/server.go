// Package dashboard serves a live view of the sync engine.
//
// Connected WebSocket clients receive every orchestrator event as it
// happens, followed by a refreshed status snapshot. Plain HTTP endpoints
// expose the same snapshot, a health check, and Prometheus metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSyncEvent carries one orchestrator event
	MessageTypeSyncEvent MessageType = "sync_event"

	// MessageTypeStatus carries a status snapshot
	MessageTypeStatus MessageType = "status"
)

// Message is the JSON frame sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusData is a point-in-time view of the engine
type StatusData struct {
	State    string `json:"state"`
	Online   bool   `json:"online"`
	Identity string `json:"identity"`
	Terms    int    `json:"terms"`
	LastSync string `json:"last_sync,omitempty"`
	Queued   int    `json:"queued"`
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// Status builds the snapshot sent to new clients and served on
	// /status. Optional.
	Status func() StatusData

	// Gatherer backs /metrics. Optional.
	Gatherer prometheus.Gatherer

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// Server is the dashboard HTTP and WebSocket server.
type Server struct {
	port     int
	status   func() StatusData
	gatherer prometheus.Gatherer
	logger   *log.Logger
	hub      *hub

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
	serving  sync.WaitGroup
}

// NewServer creates a new dashboard server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		port:     config.Port,
		status:   config.Status,
		gatherer: config.Gatherer,
		logger:   config.Logger,
		hub:      newHub(config.Logger),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Routes returns the HTTP handler with every dashboard endpoint.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /{$}", s.handleIndex)
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.http != nil {
		return fmt.Errorf("dashboard already started")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on :%d: %w", s.port, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.serving.Add(1)
	go func() {
		defer s.serving.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()
	s.hub.closeAll()

	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(ctx)
	s.serving.Wait()
	if err != nil {
		return fmt.Errorf("dashboard shutdown: %w", err)
	}
	s.logger.Println("Dashboard stopped")
	return nil
}

// Broadcast sends msg to every connected client. It never blocks.
func (s *Server) Broadcast(msg Message) {
	if s.ctx.Err() != nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal message: %v", err)
		return
	}
	s.hub.publish(frame)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	var welcome []byte
	if msg, err := s.statusMessage(); err == nil {
		welcome, _ = json.Marshal(msg)
	}
	sub := s.hub.join(s.ctx, conn, welcome)

	// Clients only listen; reading detects the disconnect.
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			s.hub.leave(sub, websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (s *Server) snapshot() StatusData {
	if s.status == nil {
		return StatusData{}
	}
	return s.status()
}

// statusMessage wraps the current snapshot in a Message.
func (s *Server) statusMessage() (Message, error) {
	data, err := json.Marshal(s.snapshot())
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MessageTypeStatus, Timestamp: time.Now(), Data: data}, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "clients": s.ClientCount()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snapshot())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>ecosync</title></head>
<body>
<h1>ecosync</h1>
<p>Events: <code>ws://%s/ws</code></p>
<p><a href="/status">status</a> &middot; <a href="/health">health</a> &middot; <a href="/metrics">metrics</a></p>
</body>
</html>`, r.Host)
}

// GetAddr returns the listening address, or ":<port>" before Start.
func (s *Server) GetAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf(":%d", s.port)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.hub.count()
}

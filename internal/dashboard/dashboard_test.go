package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ecoterms/ecosync/internal/diag"
	engine "github.com/ecoterms/ecosync/internal/sync"
)

func testStatus() StatusData {
	return StatusData{State: "idle", Online: true, Identity: "user:u1", Terms: 26, Queued: 2}
}

// startTestServer starts a server on a random port and stops it at test end.
func startTestServer(t *testing.T, config *Config) *Server {
	t.Helper()

	config.Port = 0
	if config.Logger == nil {
		config.Logger = log.New(io.Discard, "", 0)
	}
	server := NewServer(config)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", server.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocket_WelcomeIsStatus(t *testing.T) {
	server := startTestServer(t, &Config{Status: testStatus})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)
	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStatus {
		t.Fatalf("welcome type = %s, want %s", msg.Type, MessageTypeStatus)
	}

	var status StatusData
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatalf("Failed to unmarshal status: %v", err)
	}
	if status != testStatus() {
		t.Errorf("status = %+v, want %+v", status, testStatus())
	}
	waitForClients(t, server, 1)
}

func TestHandler_BroadcastsEventsToAllClients(t *testing.T) {
	server := startTestServer(t, &Config{Status: testStatus})
	handler := NewHandler(server, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns := []*websocket.Conn{dial(t, ctx, server), dial(t, ctx, server)}
	for _, c := range conns {
		readMessage(t, ctx, c)
	}
	waitForClients(t, server, len(conns))

	handler.OnEvent(engine.Event{Type: engine.EventPull, State: engine.StateIdle, Applied: 3, Terms: 29})

	for i, c := range conns {
		msg := readMessage(t, ctx, c)
		if msg.Type != MessageTypeSyncEvent {
			t.Fatalf("client %d: type = %s, want %s", i, msg.Type, MessageTypeSyncEvent)
		}
		var e engine.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			t.Fatalf("client %d: failed to unmarshal event: %v", i, err)
		}
		if e.Type != engine.EventPull || e.Applied != 3 {
			t.Errorf("client %d: event = %+v", i, e)
		}

		if next := readMessage(t, ctx, c); next.Type != MessageTypeStatus {
			t.Errorf("client %d: follow-up type = %s, want %s", i, next.Type, MessageTypeStatus)
		}
	}
}

func TestHandler_StateEventsSkipStatus(t *testing.T) {
	server := startTestServer(t, &Config{Status: testStatus})
	handler := NewHandler(server, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)
	readMessage(t, ctx, conn)
	waitForClients(t, server, 1)

	handler.OnEvent(engine.Event{Type: engine.EventState, State: engine.StatePullingDelta})
	handler.OnEvent(engine.Event{Type: engine.EventState, State: engine.StateIdle})

	for _, want := range []engine.State{engine.StatePullingDelta, engine.StateIdle} {
		msg := readMessage(t, ctx, conn)
		var e engine.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if msg.Type != MessageTypeSyncEvent || e.State != want {
			t.Errorf("got %s/%s, want sync_event/%s", msg.Type, e.State, want)
		}
	}
}

func TestHTTPEndpoints(t *testing.T) {
	metrics := diag.NewMetrics()
	metrics.RowsDropped(4)

	server := startTestServer(t, &Config{Status: testStatus, Gatherer: metrics.Registry()})
	base := "http://" + server.GetAddr()

	tests := []struct {
		name     string
		path     string
		wantCode int
		contains string
	}{
		{name: "health", path: "/health", wantCode: http.StatusOK, contains: `"status":"ok"`},
		{name: "status", path: "/status", wantCode: http.StatusOK, contains: `"identity":"user:u1"`},
		{name: "metrics", path: "/metrics", wantCode: http.StatusOK, contains: "ecosync_sanitize_rows_dropped_total 4"},
		{name: "root", path: "/", wantCode: http.StatusOK, contains: "/ws"},
		{name: "unknown", path: "/nope", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(base + tt.path)
			if err != nil {
				t.Fatalf("GET %s failed: %v", tt.path, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Errorf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.wantCode)
			}
			body, _ := io.ReadAll(resp.Body)
			if tt.contains != "" && !strings.Contains(string(body), tt.contains) {
				t.Errorf("GET %s body missing %q:\n%s", tt.path, tt.contains, body)
			}
		})
	}
}

func TestBroadcast_DoesNotBlockWhenFull(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 150; i++ {
			server.Broadcast(Message{Type: MessageTypeStatus})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Broadcast blocked with no loop running")
	}
	_ = server.Stop()
}

func TestWebSocket_DisconnectRemovesClient(t *testing.T) {
	server := startTestServer(t, &Config{Status: testStatus})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	readMessage(t, ctx, conn)
	waitForClients(t, server, 1)

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	waitForClients(t, server, 0)

	// Broadcasting to nobody is a no-op.
	server.Broadcast(Message{Type: MessageTypeStatus})
}

package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"time"

	engine "github.com/ecoterms/ecosync/internal/sync"
)

// Handler turns orchestrator events into dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a handler that broadcasts through server.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Handler{server: server, logger: logger}
}

// OnEvent has the signature of the orchestrator's Config.OnEvent. Events
// that change the term set, the queue or the identity are followed by a
// fresh status snapshot.
func (h *Handler) OnEvent(e engine.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Printf("Failed to marshal event: %v", err)
		return
	}

	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	h.server.Broadcast(Message{Type: MessageTypeSyncEvent, Timestamp: ts, Data: data})

	switch e.Type {
	case engine.EventPull, engine.EventDelta, engine.EventDrain,
		engine.EventIdentity, engine.EventOnline, engine.EventOffline:
		h.BroadcastStatus()
	}
}

// BroadcastStatus sends the current snapshot to every client.
func (h *Handler) BroadcastStatus() {
	msg, err := h.server.statusMessage()
	if err != nil {
		h.logger.Printf("Failed to marshal status: %v", err)
		return
	}
	h.server.Broadcast(msg)
}

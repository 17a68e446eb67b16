package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// outboxSize is how many frames a client may fall behind before it is
// disconnected.
const outboxSize = 32

const writeTimeout = 5 * time.Second

// subscriber is one WebSocket client with its own outbox and writer.
type subscriber struct {
	conn   *websocket.Conn
	outbox chan []byte
	gone   chan struct{}
	once   sync.Once
}

func (s *subscriber) close(code websocket.StatusCode, reason string) {
	s.once.Do(func() {
		close(s.gone)
		_ = s.conn.Close(code, reason)
	})
}

// hub fans frames out to subscribers without blocking the sender.
type hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *log.Logger
}

func newHub(logger *log.Logger) *hub {
	return &hub{subs: make(map[*subscriber]struct{}), logger: logger}
}

// join registers conn. first, if not nil, is queued ahead of any
// broadcast. The writer runs until ctx ends or the client leaves.
func (h *hub) join(ctx context.Context, conn *websocket.Conn, first []byte) *subscriber {
	sub := &subscriber{
		conn:   conn,
		outbox: make(chan []byte, outboxSize),
		gone:   make(chan struct{}),
	}
	if first != nil {
		sub.outbox <- first
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Printf("Client connected (total: %d)", n)

	go h.write(ctx, sub)
	return sub
}

func (h *hub) write(ctx context.Context, sub *subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.gone:
			return
		case frame := <-sub.outbox:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := sub.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				h.logger.Printf("Failed to send to client: %v", err)
				h.leave(sub, websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// leave unregisters sub and closes its connection. Safe to call twice.
func (h *hub) leave(sub *subscriber, code websocket.StatusCode, reason string) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()

	sub.close(code, reason)
	if ok {
		h.logger.Printf("Client disconnected (total: %d)", n)
	}
}

// publish queues frame for every subscriber. A subscriber whose outbox is
// full is disconnected.
func (h *hub) publish(frame []byte) {
	h.mu.RLock()
	var lagging []*subscriber
	for sub := range h.subs {
		select {
		case sub.outbox <- frame:
		default:
			lagging = append(lagging, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range lagging {
		h.logger.Println("Warning: client too slow, disconnecting")
		h.leave(sub, websocket.StatusPolicyViolation, "too slow")
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.close(websocket.StatusGoingAway, "Server shutting down")
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

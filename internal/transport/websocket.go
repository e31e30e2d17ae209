// Package transport implements the WebSocket listener (spec §6's
// "Transport" collaborator), grounded on the teacher's WebSocketClient /
// WebSocketHandler pair: one goroutine per connection reads frames and
// hands them to a per-connection Receiver, while writes are serialized
// behind a mutex.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"livedata/internal/corelog"
)

// Receiver is implemented by whatever owns a Conn's protocol state (the
// session); it is handed every inbound frame and a close notification.
type Receiver interface {
	HandleFrame(frame []byte)
	HandleClose()
}

// Conn wraps one upgraded WebSocket connection: reads dispatch to a
// Receiver on a dedicated goroutine, writes are serialized with a mutex
// exactly as the teacher's WebSocketClient.sendMessage does.
type Conn struct {
	ws         *websocket.Conn
	receiver   Receiver
	clientAddr string

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewConn wraps ws. The receive loop does not start until Start is called,
// so the caller can finish wiring up a Receiver that itself needs a
// reference to the Conn (e.g. to send replies) before frames arrive.
func NewConn(ws *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{ws: ws, clientAddr: ws.RemoteAddr().String(), ctx: ctx, cancel: cancel}
}

// Start attaches receiver and begins the receive loop. Must be called
// exactly once per Conn.
func (c *Conn) Start(receiver Receiver) {
	c.receiver = receiver
	go c.receiveLoop()
}

func (c *Conn) receiveLoop() {
	defer c.Close()
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				corelog.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		c.receiver.HandleFrame(frame)
	}
}

// Send writes one text frame. Safe for concurrent use.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("transport: connection is closed")
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// RemoteAddr exposes the client's address for logging/session bookkeeping:
// the X-Forwarded-For-derived address when the handler trusts a proxy hop
// count, the raw socket peer address otherwise.
func (c *Conn) RemoteAddr() string { return c.clientAddr }

// Close tears down the connection exactly once, notifying the receiver.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.receiver.HandleClose()
	return c.ws.Close()
}

// Handler upgrades inbound HTTP requests to WebSocket connections and
// mints a Receiver (ordinarily a Session) for each one via NewReceiver.
type Handler struct {
	upgrader       websocket.Upgrader
	NewReceiver    func(conn *Conn) Receiver
	ForwardedCount int
}

// NewHandler builds a Handler with an origin-accepting upgrader, matching
// the teacher's development-mode CheckOrigin. forwardedCount is the
// HTTP_FORWARDED_COUNT config knob: the number of trusted reverse-proxy
// hops to peel off X-Forwarded-For when deriving a connecting client's
// logged address.
func NewHandler(newReceiver func(conn *Conn) Receiver, forwardedCount int) *Handler {
	return &Handler{
		NewReceiver:    newReceiver,
		ForwardedCount: forwardedCount,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		corelog.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	conn := NewConn(ws)
	conn.clientAddr = ClientIPFromHeader(r, h.ForwardedCount, conn.clientAddr)
	receiver := h.NewReceiver(conn)
	conn.Start(receiver)
}

// ClientIPFromHeader derives the client IP from X-Forwarded-For, trusting
// the last forwardedCount hops (spec's HTTP_FORWARDED_COUNT env var); a
// count of 0 means "don't trust the header, use the socket peer".
func ClientIPFromHeader(r *http.Request, forwardedCount int, peerAddr string) string {
	if forwardedCount <= 0 {
		return peerAddr
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peerAddr
	}
	hops := splitAndTrim(xff)
	if forwardedCount > len(hops) {
		forwardedCount = len(hops)
	}
	if forwardedCount == 0 {
		return peerAddr
	}
	return hops[len(hops)-forwardedCount]
}

func splitAndTrim(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			part := trimSpace(s[start:i])
			if part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

package gateway

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/delfinzap/realtime/internal/channel"
	"github.com/delfinzap/realtime/internal/constants"
	"github.com/delfinzap/realtime/internal/envelope"
	gwerrors "github.com/delfinzap/realtime/internal/errors"
	"github.com/delfinzap/realtime/internal/metrics"
	"github.com/delfinzap/realtime/internal/principal"
	"github.com/delfinzap/realtime/internal/util"
	"github.com/gorilla/websocket"
	"github.com/real-rm/golog"
)

// Connection lifecycle timeouts
var (
	// pongWait is the time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// pingPeriod is the interval for sending ping messages (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second
)

// frame is the wire representation of one event in either direction.
// Encrypted events carry an envelope in Payload and the
// constants.EncryptedEventPrefix marker on Event.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// errorPayload is the body of the "error" event sent for recoverable failures.
type errorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Event       string `json:"event,omitempty"`
	RetryAfter  int    `json:"retryAfter,omitempty"` // milliseconds
	Recoverable bool   `json:"recoverable"`
}

// Connection represents one authenticated WebSocket connection. It owns the
// principal loaded at handshake time, the per-connection membership counters,
// and the outbound send buffer.
type Connection struct {
	// conn is the underlying WebSocket connection
	conn *websocket.Conn

	// ConnectionID is a unique identifier for this connection
	ConnectionID string

	// Principal is the authenticated identity, fixed for the connection lifetime
	Principal *principal.Principal

	// counters holds this connection's reference-counted channel memberships
	counters *channel.CounterManager

	// crypto encrypts outbound payloads; nil disables outbound encryption
	crypto *envelope.Crypto

	logger *golog.Logger

	// send is a buffered channel for outbound frames
	send chan []byte

	// closing indicates the connection is being torn down.
	// Set before closing the send channel to prevent send-on-closed-channel panics.
	closing atomic.Bool

	// sendMu serializes SafeSend against closeSend: a hub publish racing a
	// disconnect must never send on the closed channel
	sendMu sync.RWMutex

	// expiryTimer force-closes the connection when credential expiry
	// enforcement is enabled. Nil otherwise.
	expiryTimer *time.Timer

	// mu protects concurrent access to the underlying connection
	mu sync.RWMutex
}

// newConnection creates a Connection around an upgraded WebSocket.
func newConnection(conn *websocket.Conn, connectionID string, p *principal.Principal, crypto *envelope.Crypto, logger *golog.Logger) *Connection {
	return &Connection{
		conn:         conn,
		ConnectionID: connectionID,
		Principal:    p,
		counters:     channel.NewCounterManager(),
		crypto:       crypto,
		logger:       logger,
		send:         make(chan []byte, 256),
	}
}

// ID identifies the connection for logging. Part of channel.Subscriber.
func (c *Connection) ID() string {
	return c.ConnectionID
}

// reservedEvent reports whether an event name bypasses outbound encryption:
// the handshake acknowledgement, error reports, and transport-internal events.
func reservedEvent(event string) bool {
	return event == constants.EventReady ||
		event == constants.EventError ||
		strings.HasPrefix(event, constants.InternalEventPrefix)
}

// Emit queues one event for delivery, encrypting the payload unless the
// event name is reserved. Encryption failures fall back to plaintext so a
// crypto fault degrades confidentiality, never availability. Part of
// channel.Subscriber; returns false when the connection is closing or its
// buffer is full.
func (c *Connection) Emit(event string, payload interface{}) bool {
	// No else needed: early return pattern (guard clause)
	if reservedEvent(event) || c.crypto == nil {
		return c.emitPlain(event, payload)
	}

	env, err := c.crypto.EncryptEnvelope(event, payload)
	// No else needed: fallback logic for encryption failure
	if err != nil {
		util.LogError(c.logger, "gateway", "encrypt outbound event", err,
			"event", event,
			"connection_id", c.ConnectionID)
		metrics.EncryptFallbacks.Inc()
		return c.emitPlain(event, payload)
	}

	body, err := util.MarshalJSON(env)
	// No else needed: fallback logic for serialization failure
	if err != nil {
		util.LogError(c.logger, "gateway", "marshal envelope", err,
			"event", event,
			"connection_id", c.ConnectionID)
		metrics.EncryptFallbacks.Inc()
		return c.emitPlain(event, payload)
	}

	return c.sendFrame(constants.EncryptedEventPrefix+event, body)
}

// emitPlain queues an event without envelope encryption.
func (c *Connection) emitPlain(event string, payload interface{}) bool {
	var body json.RawMessage
	// No else needed: optional operation (events like "ready" carry no payload)
	if payload != nil {
		data, err := util.MarshalJSON(payload)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			util.LogError(c.logger, "gateway", "marshal event payload", err,
				"event", event,
				"connection_id", c.ConnectionID)
			return false
		}
		body = data
	}

	return c.sendFrame(event, body)
}

// sendFrame serializes a frame and hands it to the send buffer.
func (c *Connection) sendFrame(event string, payload json.RawMessage) bool {
	data, err := util.MarshalJSON(&frame{Event: event, Payload: payload})
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(c.logger, "gateway", "marshal frame", err,
			"event", event,
			"connection_id", c.ConnectionID)
		return false
	}
	return c.SafeSend(data)
}

// sendError reports a recoverable failure to the client on the "error" event.
// Error frames are never encrypted so clients can always decode them.
func (c *Connection) sendError(gwErr *gwerrors.GatewayError, retryAfterMs int) {
	c.emitPlain(constants.EventError, &errorPayload{
		Code:        string(gwErr.Code),
		Message:     gwErr.Message,
		Event:       gwErr.Event,
		RetryAfter:  retryAfterMs,
		Recoverable: gwErr.Recoverable,
	})
}

// SafeSend attempts to send data to the connection's send channel.
// Returns false if the connection is closing or the channel is full.
// This is the preferred method for sending data to avoid panics on closed channels.
func (c *Connection) SafeSend(data []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.closing.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// SetClosing marks the connection as closing.
// After this call, SafeSend and Emit will return false.
func (c *Connection) SetClosing() {
	c.closing.Store(true)
}

// closeSend marks the connection as closing and closes the send channel.
// Holding sendMu for write excludes in-flight SafeSend calls, so the close
// never races a channel send.
func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.closing.Store(true)
	close(c.send)
}

// Close gracefully closes the WebSocket connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// closeWithReason sends a close frame with a control code and closes the socket.
func (c *Connection) closeWithReason(code int, reason string) {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason))
	}
	c.mu.Unlock()
	c.Close()
}

// writePump writes frames to the WebSocket connection
// It handles:
// - Sending periodic ping messages for heartbeat
// - Writing frames from the send channel
// - Setting write deadlines
// - Graceful connection closure
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			// Set write deadline
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// No else needed: channel closed handling (sends close and returns)
			if !ok {
				// Channel closed, send close message
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// No else needed: error handling with return (exits function)
			// Write each frame as a separate WebSocket message so clients
			// can JSON-decode frame by frame
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

			metrics.EventsSent.Inc()

		case <-ticker.C:
			// No else needed: error handling with return (exits function)
			// Send ping message
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

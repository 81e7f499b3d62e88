// Package gateway implements the realtime WebSocket gateway: handshake
// authentication, principal binding, the inbound event pipeline (rate
// limiting, envelope decryption, payload validation), and channel
// membership management.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/delfinzap/realtime/internal/auth"
	"github.com/delfinzap/realtime/internal/channel"
	"github.com/delfinzap/realtime/internal/constants"
	"github.com/delfinzap/realtime/internal/envelope"
	gwerrors "github.com/delfinzap/realtime/internal/errors"
	"github.com/delfinzap/realtime/internal/metrics"
	"github.com/delfinzap/realtime/internal/principal"
	"github.com/delfinzap/realtime/internal/ratelimit"
	"github.com/delfinzap/realtime/internal/ticket"
	"github.com/delfinzap/realtime/internal/util"
	"github.com/gorilla/websocket"
	"github.com/real-rm/golog"
)

// PrincipalStore loads principals and persists the presence flag.
type PrincipalStore interface {
	FindByID(ctx context.Context, id string) (*principal.Principal, error)
	SetOnline(ctx context.Context, id string, online bool) error
}

// TicketStore loads tickets for join authorization.
type TicketStore interface {
	FindByID(ctx context.Context, id string) (*ticket.Ticket, error)
}

// Options holds the tunable gateway parameters.
type Options struct {
	// MaxMessageSize caps inbound WebSocket frames in bytes
	MaxMessageSize int64

	// HandshakeTimeout bounds the WebSocket upgrade handshake
	HandshakeTimeout time.Duration

	// MaxConnectionsPerUser caps concurrent connections per principal
	MaxConnectionsPerUser int

	// EnforceTokenExpiry force-closes connections when their credential
	// expires. Off by default: legacy clients hold long-lived sockets
	// across token refreshes.
	EnforceTokenExpiry bool
}

// Gateway manages WebSocket connections and upgrades.
type Gateway struct {
	verifier    *auth.TokenVerifier
	principals  PrincipalStore
	tickets     TicketStore
	hub         *channel.Hub
	crypto      *envelope.Crypto
	limiter     *ratelimit.EventLimiter
	connLimiter *ratelimit.ConnectionLimiter
	logger      *golog.Logger
	opts        Options

	allowedOrigins map[string]bool

	// connections tracks active connections by principal ID and connection ID
	connections map[string]map[string]*Connection
	mu          sync.RWMutex
}

// New creates a gateway wiring the verifier, the stores, the channel hub,
// the envelope crypto, and the inbound event rate limiter together.
func New(verifier *auth.TokenVerifier, principals PrincipalStore, tickets TicketStore,
	hub *channel.Hub, crypto *envelope.Crypto, limiter *ratelimit.EventLimiter,
	logger *golog.Logger, opts Options) *Gateway {
	// No else needed: defaults for zero-valued options
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = constants.DefaultMaxMessageSize
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = constants.DefaultHandshakeTimeout
	}
	if opts.MaxConnectionsPerUser <= 0 {
		opts.MaxConnectionsPerUser = constants.DefaultConnPerUser
	}

	return &Gateway{
		verifier:       verifier,
		principals:     principals,
		tickets:        tickets,
		hub:            hub,
		crypto:         crypto,
		limiter:        limiter,
		connLimiter:    ratelimit.NewConnectionLimiter(opts.MaxConnectionsPerUser),
		logger:         logger.WithGroup("gateway"),
		opts:           opts,
		allowedOrigins: make(map[string]bool),
		connections:    make(map[string]map[string]*Connection),
	}
}

// SetAllowedOrigins configures the allowed origins for WebSocket connections
// If no origins are set, all origins are allowed (development mode)
func (g *Gateway) SetAllowedOrigins(origins []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.allowedOrigins = make(map[string]bool)
	for _, origin := range origins {
		g.allowedOrigins[origin] = true
	}

	g.logger.Info("Configured allowed origins",
		"count", len(origins),
		"origins", origins)
}

// IsOpenOrigin returns true when no allowed origins are configured,
// meaning all origins are accepted. Callers can use this to log security
// warnings at startup.
// SECURITY: When true, any website can establish WebSocket connections.
// This is acceptable only when the service sits behind a reverse proxy
// that performs its own origin validation.
func (g *Gateway) IsOpenOrigin() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.allowedOrigins) == 0
}

// checkOrigin validates the origin of a WebSocket upgrade request
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	g.mu.RLock()
	defer g.mu.RUnlock()

	// If no origins configured, allow all (development mode)
	if len(g.allowedOrigins) == 0 {
		return true
	}

	// No else needed: early return pattern (guard clause)
	if g.allowedOrigins[origin] {
		return true
	}

	g.logger.Warn("Origin not allowed",
		"origin", origin)
	return false
}

// Publish delivers an event to every connection subscribed to a channel.
// This is the entry point for business code fanning events out to clients.
func (g *Gateway) Publish(channelName, event string, payload interface{}) {
	g.hub.Publish(channelName, event, payload)
}

// Occupancy returns a snapshot of channel names to subscriber counts.
func (g *Gateway) Occupancy() map[string]int {
	return g.hub.Occupancy()
}

// ConnectionCount returns the number of active connections for a principal.
func (g *Gateway) ConnectionCount(principalID string) int {
	return g.connLimiter.GetCount(principalID)
}

// HandleWebSocket handles HTTP to WebSocket upgrade requests
// It performs the following steps:
// 1. Extract the credential from the Authorization header or token query parameter
// 2. Verify the credential before upgrading
// 3. Upgrade the HTTP connection to WebSocket
// 4. Load the principal and bind it to the connection
// 5. Join the default channels and acknowledge with "ready"
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Extract token: prefer Authorization header, fall back to query parameter
	var token string
	if header := r.Header.Get(constants.HeaderAuthorization); header != "" {
		extracted, err := util.ExtractBearerToken(header)
		if err == nil {
			token = extracted
		}
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	// No else needed: early return pattern (guard clause)
	if token == "" {
		metrics.AuthFailures.Inc()
		g.logger.Warn("Missing authentication token",
			"remote_addr", r.RemoteAddr,
			"component", "gateway")
		http.Error(w, "Missing authentication token", http.StatusUnauthorized)
		return
	}

	claims, err := g.verifier.Verify(token)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		metrics.AuthFailures.Inc()
		g.logger.Warn("Credential verification failed",
			"error", err,
			"remote_addr", r.RemoteAddr,
			"component", "gateway")

		// No else needed: specific status for expired credentials
		if errors.Is(err, auth.ErrExpiredToken) {
			http.Error(w, "Token expired", http.StatusUnauthorized)
			return
		}
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	// Check connection limit before the upgrade
	// No else needed: early return pattern (guard clause)
	if !g.connLimiter.Allow(claims.Subject) {
		g.logger.Warn("Connection limit exceeded",
			"principal_id", claims.Subject,
			"component", "gateway")
		http.Error(w, "Too many connections", http.StatusTooManyRequests)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: g.opts.HandshakeTimeout,
		CheckOrigin:      g.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		g.connLimiter.Release(claims.Subject)
		util.LogError(g.logger, "gateway", "upgrade connection", err)
		return
	}

	// Set read limit to prevent memory exhaustion from oversized messages
	conn.SetReadLimit(g.opts.MaxMessageSize)

	connection, err := g.bindPrincipal(conn, claims)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		g.connLimiter.Release(claims.Subject)
		return
	}

	g.registerConnection(connection)
	g.joinDefaultChannels(connection)

	g.logger.Info("WebSocket connection established",
		"principal_id", connection.Principal.ID,
		"company_id", connection.Principal.CompanyID,
		"connection_id", connection.ConnectionID,
		"component", "gateway")

	// Acknowledge before any business traffic; "ready" is never encrypted
	connection.Emit(constants.EventReady, nil)

	// Start read and write pumps in goroutines with panic recovery
	util.SafeGo(g.logger, "readPump", func() { connection.readPump(g) })
	util.SafeGo(g.logger, "writePump", func() { connection.writePump() })
}

// bindPrincipal loads the principal for verified claims and attaches it to a
// new Connection. The socket is closed with a policy-violation frame when the
// principal cannot be resolved; presence persistence failures are tolerated.
func (g *Gateway) bindPrincipal(conn *websocket.Conn, claims *auth.Claims) (*Connection, error) {
	ctx, cancel := util.NewTimeoutContext(constants.DefaultContextTimeout)
	defer cancel()

	p, err := g.principals.FindByID(ctx, claims.Subject)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		metrics.AuthFailures.Inc()
		if errors.Is(err, principal.ErrNotFound) {
			g.logger.Warn("Principal not found",
				"principal_id", claims.Subject,
				"component", "gateway")
		} else {
			util.LogError(g.logger, "gateway", "load principal", err,
				"principal_id", claims.Subject)
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Authentication failed"))
		conn.Close()
		return nil, fmt.Errorf("failed to bind principal: %w", err)
	}

	// Presence is best-effort: a failed write never rejects the connection
	presenceCtx, presenceCancel := util.NewTimeoutContext(constants.PresenceWriteTimeout)
	defer presenceCancel()
	if err := g.principals.SetOnline(presenceCtx, p.ID, true); err != nil {
		util.LogError(g.logger, "gateway", "set principal online", err,
			"principal_id", p.ID)
	}

	connection := newConnection(conn, g.connectionID(p.ID), p, g.crypto, g.logger)

	// No else needed: optional operation (expiry enforcement is opt-in)
	if g.opts.EnforceTokenExpiry && !claims.ExpiresAt.IsZero() {
		remaining := time.Until(claims.ExpiresAt)
		connection.expiryTimer = time.AfterFunc(remaining, func() {
			g.logger.Info("Closing connection, credential expired",
				"principal_id", p.ID,
				"connection_id", connection.ConnectionID,
				"component", "gateway")
			connection.closeWithReason(websocket.ClosePolicyViolation, "Token expired")
		})
	}

	return connection, nil
}

// connectionID generates a unique connection identifier.
// Format: principalID-nanosecondTimestamp-randomHex, unique even for rapid
// reconnects from the same principal.
func (g *Gateway) connectionID(principalID string) string {
	randomBytes := make([]byte, 8)
	// No else needed: fallback logic for rare error case
	if _, err := rand.Read(randomBytes); err != nil {
		util.LogError(g.logger, "gateway", "generate random bytes for connection ID", err)
		return fmt.Sprintf("%s-%d", principalID, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", principalID, time.Now().UnixNano(), hex.EncodeToString(randomBytes))
}

// joinDefaultChannels subscribes a fresh connection to the channels every
// principal receives: the tenant-wide main channel and its private channel.
// Default channels bypass the membership counters; they are never left.
func (g *Gateway) joinDefaultChannels(c *Connection) {
	g.hub.Subscribe(companyMainChannel(c.Principal.CompanyID), c)
	g.hub.Subscribe(userChannel(c.Principal.ID), c)
}

// registerConnection adds a connection to the active connections map
func (g *Gateway) registerConnection(conn *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// No else needed: initialize if needed (lazy initialization)
	if g.connections[conn.Principal.ID] == nil {
		g.connections[conn.Principal.ID] = make(map[string]*Connection)
	}

	g.connections[conn.Principal.ID][conn.ConnectionID] = conn

	metrics.ActiveConnections.Inc()

	g.logger.Info("Connection registered",
		"principal_id", conn.Principal.ID,
		"connection_id", conn.ConnectionID,
		"total_connections", len(g.connections[conn.Principal.ID]))
}

// unregisterConnection removes a connection from the active connections map
func (g *Gateway) unregisterConnection(conn *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()

	userConns, ok := g.connections[conn.Principal.ID]
	// No else needed: early return pattern (guard clause)
	if !ok {
		return
	}

	// No else needed: early return pattern (guard clause)
	if _, exists := userConns[conn.ConnectionID]; !exists {
		return
	}

	delete(userConns, conn.ConnectionID)
	conn.closeSend()

	// No else needed: optional operation (expiry timer is opt-in)
	if conn.expiryTimer != nil {
		conn.expiryTimer.Stop()
	}

	g.connLimiter.Release(conn.Principal.ID)
	metrics.ActiveConnections.Dec()

	// If no more connections for this principal, remove the entry
	if len(userConns) == 0 {
		delete(g.connections, conn.Principal.ID)
	}

	g.logger.Info("Connection unregistered",
		"principal_id", conn.Principal.ID,
		"connection_id", conn.ConnectionID,
		"remaining_connections", len(userConns))
}

// readPump reads frames from the WebSocket connection and drives the inbound
// pipeline: rate limiting, envelope decryption, payload validation, dispatch.
// Pipeline failures are recoverable: the offending frame is dropped, an
// "error" event is sent, and the connection stays open.
func (c *Connection) readPump(g *Gateway) {
	defer func() {
		g.logger.Info("WebSocket connection closed",
			"principal_id", c.Principal.ID,
			"connection_id", c.ConnectionID,
			"component", "gateway")

		g.unregisterConnection(c)
		g.hub.ReleaseAll(c)

		// Presence is best-effort on the way out too
		ctx, cancel := util.NewTimeoutContext(constants.PresenceWriteTimeout)
		defer cancel()
		if err := g.principals.SetOnline(ctx, c.Principal.ID, false); err != nil {
			util.LogError(g.logger, "gateway", "set principal offline", err,
				"principal_id", c.Principal.ID)
		}

		c.Close()
	}()

	// Set initial read deadline
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	// Configure pong handler to reset read deadline
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		// No else needed: error handling with break (exits loop)
		if err != nil {
			// No else needed: specific error handling (logs and continues to break)
			if errors.Is(err, websocket.ErrReadLimit) {
				g.logger.Warn("WebSocket message size limit exceeded",
					"principal_id", c.Principal.ID,
					"connection_id", c.ConnectionID,
					"limit", g.opts.MaxMessageSize,
					"component", "gateway")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				util.LogError(g.logger, "gateway", "handle unexpected close", err,
					"principal_id", c.Principal.ID,
					"connection_id", c.ConnectionID)
			} else {
				g.logger.Info("WebSocket connection closing",
					"principal_id", c.Principal.ID,
					"connection_id", c.ConnectionID,
					"component", "gateway")
			}
			break
		}

		g.processFrame(c, rawMessage)
	}
}

// processFrame runs one inbound frame through the pipeline.
func (g *Gateway) processFrame(c *Connection, rawMessage []byte) {
	var f frame
	// No else needed: error handling with early return (frame is dropped)
	if err := util.UnmarshalJSON(rawMessage, &f); err != nil || f.Event == "" {
		g.logger.Warn("Failed to parse frame",
			"principal_id", c.Principal.ID,
			"connection_id", c.ConnectionID,
			"error", err)
		metrics.ValidationFailures.Inc()
		c.sendError(gwerrors.NewValidationError(gwerrors.ErrCodeInvalidFormat,
			"Invalid frame format", err), 0)
		return
	}

	// Rate limiting runs on the wire event name, before any decryption work
	// No else needed: error handling with early return (frame is dropped)
	if !g.limiter.Allow(c.Principal.ID, f.Event) {
		metrics.RateLimitedEvents.Inc()
		c.sendError(gwerrors.ErrRateLimitExceeded(f.Event),
			g.limiter.RetryAfter(c.Principal.ID, f.Event))
		return
	}

	eventName, payload, err := g.decodePayload(c, &f)
	// No else needed: error handling with early return (frame is dropped)
	if err != nil {
		// A malformed plaintext payload is a validation failure; only
		// envelope failures count against the decrypt metric
		var gwErr *gwerrors.GatewayError
		if errors.As(err, &gwErr) && gwErr.Category == gwerrors.CategoryValidation {
			metrics.ValidationFailures.Inc()
			g.logger.Warn("Failed to parse event payload",
				"principal_id", c.Principal.ID,
				"connection_id", c.ConnectionID,
				"event", f.Event,
				"error", err)
			c.sendError(gwErr.WithEvent(f.Event), 0)
			return
		}

		metrics.DecryptFailures.Inc()
		g.logger.Warn("Failed to decrypt inbound envelope",
			"principal_id", c.Principal.ID,
			"connection_id", c.ConnectionID,
			"event", f.Event,
			"error", err)
		c.sendError(gwerrors.ErrDecryptionFailed(err).WithEvent(f.Event), 0)
		return
	}

	// Validation always runs on the plaintext event name and payload
	// No else needed: error handling with early return (frame is dropped)
	if err := envelope.Validate(eventName, payload); err != nil {
		metrics.ValidationFailures.Inc()
		g.logger.Warn("Payload validation failed",
			"principal_id", c.Principal.ID,
			"connection_id", c.ConnectionID,
			"event", eventName,
			"error", err)

		var gwErr *gwerrors.GatewayError
		// No else needed: fallback for unexpected error types
		if !errors.As(err, &gwErr) {
			gwErr = gwerrors.NewValidationError(gwerrors.ErrCodeInvalidFormat, err.Error(), err)
		}
		c.sendError(gwErr.WithEvent(eventName), 0)
		return
	}

	metrics.EventsReceived.Inc()
	g.dispatch(c, eventName, payload)
}

// decodePayload resolves a frame into its plaintext event name and payload,
// decrypting the envelope when the frame carries the encrypted marker.
func (g *Gateway) decodePayload(c *Connection, f *frame) (string, interface{}, error) {
	// No else needed: plaintext frames decode directly
	if !envelope.IsEncryptedEvent(f.Event) {
		var payload interface{}
		// No else needed: optional operation (events like joinNotification carry no payload)
		if len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, &payload); err != nil {
				return "", nil, gwerrors.NewValidationError(gwerrors.ErrCodeInvalidFormat,
					"Invalid event payload", err)
			}
		}
		return f.Event, payload, nil
	}

	// No else needed: early return pattern (guard clause)
	if c.crypto == nil {
		return "", nil, fmt.Errorf("received encrypted frame but encryption is not configured")
	}

	var env envelope.Envelope
	// No else needed: early return pattern (guard clause)
	if err := json.Unmarshal(f.Payload, &env); err != nil {
		return "", nil, err
	}

	payload, err := c.crypto.Decrypt(env.Encrypted, env.IV)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return "", nil, err
	}

	// The wire marker is authoritative for the plaintext event name
	return envelope.PlainEventName(f.Event), payload, nil
}

// Shutdown gracefully closes all active WebSocket connections
// It respects the context deadline and will force shutdown if the deadline is exceeded
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("Shutting down gateway, closing all connections")

	g.mu.Lock()
	connections := make([]*Connection, 0)
	for _, userConns := range g.connections {
		for _, conn := range userConns {
			connections = append(connections, conn)
		}
	}
	g.mu.Unlock()

	// Close connections in parallel with context deadline
	var wg sync.WaitGroup
	for _, conn := range connections {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()

			g.logger.Info("Closing WebSocket connection",
				"principal_id", c.Principal.ID,
				"connection_id", c.ConnectionID)

			c.closeWithReason(websocket.CloseGoingAway, "Server shutting down")
		}(conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Info("All WebSocket connections closed gracefully")
		return nil
	case <-ctx.Done():
		g.logger.Warn("Shutdown deadline exceeded, forcing closure",
			"remaining_connections", len(connections))
		return ctx.Err()
	}
}

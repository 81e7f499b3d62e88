// Package realtime provides the main service registration for the DelfinZap
// realtime gateway. It integrates with gomain by implementing a Register
// function that sets up the WebSocket endpoint and the HTTP surface for the
// multi-tenant CRM event fan-out.
package realtime

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/delfinzap/realtime/internal/auth"
	"github.com/delfinzap/realtime/internal/channel"
	"github.com/delfinzap/realtime/internal/constants"
	"github.com/delfinzap/realtime/internal/envelope"
	"github.com/delfinzap/realtime/internal/gateway"
	"github.com/delfinzap/realtime/internal/httperrors"
	"github.com/delfinzap/realtime/internal/metrics"
	"github.com/delfinzap/realtime/internal/principal"
	"github.com/delfinzap/realtime/internal/ratelimit"
	"github.com/delfinzap/realtime/internal/ticket"
	"github.com/delfinzap/realtime/internal/util"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/real-rm/goconfig"
	"github.com/real-rm/golog"
	"github.com/real-rm/gomongo"
)

var (
	// Global references for graceful shutdown
	globalGateway      *gateway.Gateway
	globalEventLimiter *ratelimit.EventLimiter
	globalHTTPLimiter  *ratelimit.EventLimiter
	globalLogger       *golog.Logger
	shutdownMu         sync.Mutex
)

// Register registers the realtime gateway with the gomain router.
// This function is called by gomain during service initialization.
//
// Parameters:
//   - r: Gin router for registering HTTP and WebSocket endpoints
//   - config: Configuration accessor for loading service settings
//   - logger: Logger for structured logging
//   - mongo: MongoDB client holding the CRM collections
//
// Returns:
//   - error: Any error that occurred during registration
func Register(r *gin.Engine, config *goconfig.ConfigAccessor, logger *golog.Logger, mongo *gomongo.Mongo) error {
	// Create gateway-specific logger
	gatewayLogger := logger.WithGroup("realtime")
	gatewayLogger.Info("Initializing realtime gateway")

	// Validate critical configuration at startup
	// This ensures misconfigurations are caught before serving traffic
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		// Fall back to config file
		var err error
		jwtSecret, err = config.ConfigString("gateway.jwt_secret")
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return fmt.Errorf("failed to get JWT secret: %w", err)
		}
		if containsPlaceholder(jwtSecret) {
			return fmt.Errorf("JWT_SECRET contains placeholder value — set a real secret before deploying")
		}
	}

	// Validate JWT secret strength
	// No else needed: early return pattern (guard clause)
	if err := validateJWTSecret(jwtSecret); err != nil {
		gatewayLogger.Error("Configuration validation failed", "error", err)
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Load the channel encryption secret.
	// Priority: Environment variable > Config file > Built-in default
	// The built-in default keeps development clients working out of the box
	// but is refused in release mode.
	encryptionSecret := os.Getenv("ENCRYPTION_SECRET")
	if encryptionSecret == "" {
		var err error
		encryptionSecret, err = config.ConfigStringWithDefault("gateway.encryption_secret", "")
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return fmt.Errorf("failed to get encryption secret: %w", err)
		}
		if encryptionSecret != "" && containsPlaceholder(encryptionSecret) {
			return fmt.Errorf("ENCRYPTION_SECRET contains placeholder value — set a real secret before deploying")
		}
	}
	// No else needed: optional operation (development fallback with warning)
	if encryptionSecret == "" {
		if gin.Mode() == gin.ReleaseMode {
			return fmt.Errorf("gateway.encryption_secret is required in release mode")
		}
		encryptionSecret = constants.DefaultCryptoSecret
		gatewayLogger.Warn("No encryption secret configured, using built-in development secret")
	}
	if gin.Mode() == gin.ReleaseMode {
		if weak, pattern := util.ContainsWeakPattern(encryptionSecret, constants.WeakSecrets); weak {
			return fmt.Errorf("gateway.encryption_secret appears to be weak (contains %q)", pattern)
		}
	}

	// Load and validate HTTP path prefix early to fail fast on configuration errors.
	// Priority: Environment variable > Config file > Default ("/realtime")
	pathPrefix := os.Getenv("GATEWAY_PATH_PREFIX")
	var err error
	if pathPrefix == "" {
		// Fall back to config file
		pathPrefix, err = config.ConfigStringWithDefault("gateway.path_prefix", constants.DefaultPathPrefix)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return fmt.Errorf("failed to get path prefix: %w", err)
		}
	}
	// No else needed: early return pattern (guard clause)
	if pathPrefix == "" {
		return fmt.Errorf("path prefix cannot be empty")
	}
	// No else needed: early return pattern (guard clause)
	if !strings.HasPrefix(pathPrefix, "/") {
		return fmt.Errorf("path prefix must start with '/' (got: %s)", pathPrefix)
	}

	// Database holding the CRM collections (users, queues, tickets)
	dbName, err := config.ConfigStringWithDefault("gateway.database", constants.DefaultDatabase)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to get database name: %w", err)
	}

	// Per-event rate limiter configuration
	windowStr, err := config.ConfigStringWithDefault("gateway.rate_limit_window", constants.DefaultRateLimitWindow.String())
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to get rate limit window: %w", err)
	}
	rateWindow, err := time.ParseDuration(windowStr)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("invalid rate limit window format: %w", err)
	}

	rateMax, err := config.ConfigIntWithDefault("gateway.rate_limit_max", constants.DefaultRateLimitMax)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to get rate limit max: %w", err)
	}

	sweepStr, err := config.ConfigStringWithDefault("gateway.rate_limit_cleanup_interval", constants.DefaultSweepInterval.String())
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to get rate limit cleanup interval: %w", err)
	}
	sweepInterval, err := time.ParseDuration(sweepStr)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("invalid rate limit cleanup interval format: %w", err)
	}

	// Load maximum message size for WebSocket connections
	maxMessageSize := int64(constants.DefaultMaxMessageSize)
	// No else needed: optional operation (configuration loading with fallback)
	if sizeStr, err := config.ConfigStringWithDefault("gateway.max_message_size", fmt.Sprintf("%d", constants.DefaultMaxMessageSize)); err == nil {
		var parsedSize int64
		// No else needed: optional operation (logging based on parse result)
		if _, parseErr := fmt.Sscanf(sizeStr, "%d", &parsedSize); parseErr == nil && parsedSize > 0 {
			maxMessageSize = parsedSize
		} else {
			gatewayLogger.Warn("Invalid max_message_size in config, using default",
				"value", sizeStr, "default", maxMessageSize)
		}
	}

	handshakeStr, err := config.ConfigStringWithDefault("gateway.handshake_timeout", constants.DefaultHandshakeTimeout.String())
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to get handshake timeout: %w", err)
	}
	handshakeTimeout, err := time.ParseDuration(handshakeStr)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("invalid handshake timeout format: %w", err)
	}

	maxConnsPerUser, err := config.ConfigIntWithDefault("gateway.max_connections_per_user", constants.DefaultConnPerUser)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to get max connections per user: %w", err)
	}

	// Credential expiry enforcement is opt-in: legacy clients keep sockets
	// open across token refreshes
	enforceExpiryStr, err := config.ConfigStringWithDefault("gateway.enforce_token_expiry", "false")
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to get enforce_token_expiry: %w", err)
	}
	enforceExpiry := strings.EqualFold(strings.TrimSpace(enforceExpiryStr), "true")

	// Create the envelope crypto
	crypto, err := envelope.NewCrypto(encryptionSecret)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to initialize envelope crypto: %w", err)
	}

	// Create stores over the CRM collections
	principalStore := principal.NewMongoStore(mongo, dbName, gatewayLogger)
	ticketStore := ticket.NewMongoStore(mongo, dbName, gatewayLogger)

	// Ensure MongoDB indexes are created for optimal query performance
	indexCtx, indexCancel := util.NewTimeoutContext(constants.MongoIndexTimeout)
	defer indexCancel()
	// No else needed: optional operation (non-critical index creation)
	if err := principalStore.EnsureIndexes(indexCtx); err != nil {
		gatewayLogger.Warn("Failed to create principal indexes", "error", err)
		// Don't fail startup - indexes can be created manually if needed
	}
	// No else needed: optional operation (non-critical index creation)
	if err := ticketStore.EnsureIndexes(indexCtx); err != nil {
		gatewayLogger.Warn("Failed to create ticket indexes", "error", err)
	}

	// Create the channel hub, the event limiter, and the gateway
	hub := channel.NewHub(gatewayLogger)
	eventLimiter := ratelimit.NewEventLimiter(rateWindow, rateMax, sweepInterval, gatewayLogger)

	verifier := auth.NewTokenVerifier(jwtSecret)

	gw := gateway.New(verifier, principalStore, ticketStore, hub, crypto, eventLimiter, gatewayLogger, gateway.Options{
		MaxMessageSize:        maxMessageSize,
		HandshakeTimeout:      handshakeTimeout,
		MaxConnectionsPerUser: maxConnsPerUser,
		EnforceTokenExpiry:    enforceExpiry,
	})

	// HTTP endpoint limiter: keyed by client IP for public endpoints and by
	// principal id for admin endpoints, distinguished by the event name
	httpLimiter := ratelimit.NewEventLimiter(constants.DefaultRateWindow, constants.PublicEndpointRate, sweepInterval, gatewayLogger)

	// Configure allowed origins for WebSocket connections
	// SECURITY: When no origins are configured, ALL origins are accepted.
	// This is acceptable only in development. In production, always configure
	// allowed_origins to prevent cross-site WebSocket hijacking.
	allowedOriginsStr, err := config.ConfigStringWithDefault("gateway.allowed_origins", "")
	// No else needed: optional operation (configuration with fallback logging)
	if err == nil && allowedOriginsStr != "" {
		if containsPlaceholder(allowedOriginsStr) {
			return fmt.Errorf("gateway.allowed_origins contains placeholder value %q — set actual origins before deploying", allowedOriginsStr)
		}
		origins := strings.Split(allowedOriginsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		gw.SetAllowedOrigins(origins)
	} else {
		gatewayLogger.Warn("No allowed origins configured, allowing all origins (development mode)")
	}

	// Start background sweeps only after all validation is complete,
	// so we don't leak goroutines if Register() returns an error.
	eventLimiter.StartSweep()
	httpLimiter.StartSweep()

	// Store global references for graceful shutdown.
	// Stop any previously-registered instances to prevent goroutine leaks
	// when Register() is called multiple times (tests, hot-reload).
	shutdownMu.Lock()
	if globalEventLimiter != nil {
		globalEventLimiter.StopSweep()
	}
	if globalHTTPLimiter != nil {
		globalHTTPLimiter.StopSweep()
	}
	if globalGateway != nil {
		_ = globalGateway.Shutdown(context.Background())
	}
	globalGateway = gw
	globalEventLimiter = eventLimiter
	globalHTTPLimiter = httpLimiter
	globalLogger = gatewayLogger
	shutdownMu.Unlock()

	// Configure CORS middleware
	corsOriginsStr, err := config.ConfigStringWithDefault("gateway.cors_allowed_origins", "")
	// No else needed: optional operation (CORS configuration with fallback logging)
	if err == nil && corsOriginsStr != "" {
		if containsPlaceholder(corsOriginsStr) {
			return fmt.Errorf("gateway.cors_allowed_origins contains placeholder value %q — set actual origins before deploying", corsOriginsStr)
		}
		allowedOrigins := strings.Split(corsOriginsStr, ",")
		for i, origin := range allowedOrigins {
			allowedOrigins[i] = strings.TrimSpace(origin)
		}

		corsConfig := cors.Config{
			AllowOrigins:     allowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}

		r.Use(cors.New(corsConfig))

		gatewayLogger.Info("CORS middleware configured",
			"allowed_origins", allowedOrigins,
			"allow_credentials", true)
	} else {
		gatewayLogger.Warn("No CORS origins configured, CORS middleware not enabled")
	}

	// Configure trusted proxies to prevent X-Forwarded-For spoofing.
	// c.ClientIP() will only trust X-Forwarded-For from these networks.
	trustedProxiesStr, _ := config.ConfigStringWithDefault("gateway.trusted_proxies", constants.DefaultTrustedProxies)
	if trustedProxiesStr != "" {
		proxies := strings.Split(trustedProxiesStr, ",")
		for i, p := range proxies {
			proxies[i] = strings.TrimSpace(p)
		}
		if err := r.SetTrustedProxies(proxies); err != nil {
			gatewayLogger.Warn("Failed to set trusted proxies", "error", err)
		} else {
			gatewayLogger.Info("Trusted proxies configured", "proxies", proxies)
		}
	}

	// Apply security headers middleware
	r.Use(securityHeadersMiddleware())

	// Apply metrics middleware to record HTTP request duration
	r.Use(metricsMiddleware())

	gatewayLogger.Info("Using HTTP path prefix", "prefix", pathPrefix)

	// Register routes
	gatewayGroup := r.Group(pathPrefix)
	{
		// WebSocket endpoint - use Gin context adapter
		gatewayGroup.GET("/ws", func(c *gin.Context) {
			// If the credential is in a query param, move it to the
			// Authorization header and redact it from the URL so it never
			// appears in Gin access logs.
			if token := c.Query("token"); token != "" {
				if c.Request.Header.Get(constants.HeaderAuthorization) == "" {
					c.Request.Header.Set(constants.HeaderAuthorization, constants.BearerPrefix+token)
				}
				q := c.Request.URL.Query()
				q.Del("token")
				c.Request.URL.RawQuery = q.Encode()
			}
			gw.HandleWebSocket(c.Writer, c.Request)
		})

		// Admin HTTP endpoints
		adminGroup := gatewayGroup.Group("/admin")
		adminGroup.Use(adminAuthMiddleware(verifier, principalStore, gatewayLogger))
		adminGroup.Use(adminRateLimitMiddleware(httpLimiter, gatewayLogger))
		{
			adminGroup.GET("/channels", handleChannels(gw))
		}

		// Health check endpoints (rate limited to prevent abuse)
		gatewayGroup.GET("/healthz", publicRateLimitMiddleware(httpLimiter, gatewayLogger), handleHealthCheck)
		gatewayGroup.GET("/readyz", publicRateLimitMiddleware(httpLimiter, gatewayLogger), handleReadyCheck(mongo, dbName, gatewayLogger))

		// Prometheus metrics endpoint — restricted to configured networks
		metricsAllowedStr, _ := config.ConfigStringWithDefault("gateway.metrics_allowed_networks", constants.DefaultMetricsAllowedNetworks)
		metricsNets := parseNetworks(metricsAllowedStr, gatewayLogger)
		gatewayGroup.GET("/metrics/prometheus",
			metricsNetworkMiddleware(metricsNets, gatewayLogger),
			publicRateLimitMiddleware(httpLimiter, gatewayLogger),
			gin.WrapH(promhttp.Handler()),
		)
	}

	// Warn if MongoDB URI appears to have no authentication
	mongoURI, _ := config.ConfigStringWithDefault("database.uri", "")
	if mongoURI != "" && !strings.Contains(mongoURI, "@") {
		gatewayLogger.Warn("MongoDB URI does not contain authentication credentials — ensure auth is configured for production")
	}

	gatewayLogger.Info("Realtime gateway registered successfully",
		"websocket_endpoint", pathPrefix+"/ws",
		"admin_endpoints", pathPrefix+"/admin/*",
		"health_endpoints", pathPrefix+"/healthz, "+pathPrefix+"/readyz",
		"metrics_endpoint", pathPrefix+"/metrics/prometheus",
	)

	return nil
}

// Gateway returns the registered gateway instance so business code can
// publish events into channels. Returns nil before Register succeeds.
func Gateway() *gateway.Gateway {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	return globalGateway
}

// Shutdown gracefully shuts down the realtime gateway.
// It closes all active WebSocket connections and stops background sweeps.
// This function should be called when the application receives a SIGTERM or
// SIGINT signal. It respects the context deadline and will force shutdown if
// the deadline is exceeded.
func Shutdown(ctx context.Context) error {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()

	// No else needed: optional operation (logging during shutdown)
	if globalLogger != nil {
		globalLogger.Info("Starting graceful shutdown of realtime gateway")
	}

	// Stop rate limiter sweeps
	// No else needed: optional operation (cleanup stop)
	if globalEventLimiter != nil {
		globalEventLimiter.StopSweep()
	}
	// No else needed: optional operation (cleanup stop)
	if globalHTTPLimiter != nil {
		globalHTTPLimiter.StopSweep()
	}

	// Close all WebSocket connections with context deadline
	// No else needed: optional operation (gateway shutdown with error handling)
	if globalGateway != nil {
		// No else needed: early return pattern (guard clause)
		if err := globalGateway.Shutdown(ctx); err != nil {
			// No else needed: optional operation (error logging)
			if globalLogger != nil {
				globalLogger.Warn("Gateway shutdown error", "error", err)
			}
			return err
		}
	}

	// No else needed: optional operation (final logging)
	if globalLogger != nil {
		globalLogger.Info("Realtime gateway shutdown complete")
	}

	return nil
}

// securityHeadersMiddleware adds standard HTTP security headers to all responses.
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// metricsMiddleware records HTTP request duration for Prometheus monitoring
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.HTTPRequestDuration.With(prometheus.Labels{
			"endpoint": c.FullPath(),
			"method":   c.Request.Method,
		}).Observe(time.Since(start).Seconds())
	}
}

// publicRateLimitMiddleware creates a Gin middleware for rate limiting public
// endpoints (healthz, readyz, metrics) by client IP to prevent abuse.
func publicRateLimitMiddleware(limiter *ratelimit.EventLimiter, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Use Gin's ClientIP() which respects trusted proxies to prevent X-Forwarded-For spoofing
		clientIP := c.ClientIP()

		if !limiter.Allow(clientIP, "http.public") {
			retryAfter := limiter.RetryAfter(clientIP, "http.public")
			retryAfterSeconds := (retryAfter + constants.MillisecondsPerSecond - 1) / constants.MillisecondsPerSecond
			if retryAfterSeconds < constants.MinRetryAfterSeconds {
				retryAfterSeconds = constants.MinRetryAfterSeconds
			}
			c.Header(constants.HeaderRetryAfter, fmt.Sprintf("%d", retryAfterSeconds))

			c.JSON(constants.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": constants.ErrMsgRateLimitExceeded,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// adminAuthMiddleware creates a Gin middleware for admin endpoint authentication.
// CRM credentials only carry the principal id, so the profile check requires
// loading the principal.
func adminAuthMiddleware(verifier *auth.TokenVerifier, principals gateway.PrincipalStore, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Extract token from Authorization header
		authHeader := c.GetHeader(constants.HeaderAuthorization)
		token, err := util.ExtractBearerToken(authHeader)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			httperrors.RespondUnauthorized(c, httperrors.MsgInvalidAuthHeader)
			c.Abort()
			return
		}

		claims, err := verifier.Verify(token)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			// Log detailed error server-side
			logger.Warn("Credential verification failed",
				"error", err,
				"component", "auth")
			// Send generic error to client
			httperrors.RespondInvalidToken(c)
			c.Abort()
			return
		}

		ctx, cancel := util.NewTimeoutContext(constants.DefaultContextTimeout)
		defer cancel()

		p, err := principals.FindByID(ctx, claims.Subject)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			logger.Warn("Failed to resolve principal for admin endpoint",
				"principal_id", claims.Subject,
				"error", err,
				"component", "auth")
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		// No else needed: early return pattern (guard clause)
		if !p.IsAdmin() {
			logger.Warn("Insufficient permissions for admin endpoint",
				"principal_id", p.ID,
				"profile", p.Profile,
				"component", "auth")
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		// Store the principal in context
		c.Set("principal", p)
		c.Next()
	}
}

// adminRateLimitMiddleware creates a Gin middleware for admin endpoint rate limiting
func adminRateLimitMiddleware(limiter *ratelimit.EventLimiter, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get principal from context (set by adminAuthMiddleware)
		principalInterface, exists := c.Get("principal")
		// No else needed: early return pattern (guard clause - let adminAuthMiddleware handle missing principal)
		if !exists {
			c.Next()
			return
		}

		p, ok := principalInterface.(*principal.Principal)
		// No else needed: early return pattern (guard clause)
		if !ok {
			util.LogError(logger, "admin_rate_limit", "validate principal type", fmt.Errorf("invalid principal type in context"))
			httperrors.RespondInternalError(c)
			c.Abort()
			return
		}

		// Check rate limit
		// No else needed: early return pattern (guard clause)
		if !limiter.Allow(p.ID, "http.admin") {
			retryAfter := limiter.RetryAfter(p.ID, "http.admin")

			logger.Warn("Admin rate limit exceeded",
				"principal_id", p.ID,
				"endpoint", c.Request.URL.Path,
				"retry_after_ms", retryAfter,
				"component", "admin_rate_limit")

			// Convert milliseconds to seconds with ceiling to avoid 0
			retryAfterSeconds := (retryAfter + constants.MillisecondsPerSecond - 1) / constants.MillisecondsPerSecond
			// No else needed: optional operation (minimum retry after enforcement)
			if retryAfterSeconds < constants.MinRetryAfterSeconds {
				retryAfterSeconds = constants.MinRetryAfterSeconds
			}
			c.Header(constants.HeaderRetryAfter, fmt.Sprintf("%d", retryAfterSeconds))

			c.JSON(constants.StatusTooManyRequests, gin.H{
				"error":          "rate_limit_exceeded",
				"message":        constants.ErrMsgRateLimitExceeded,
				"retry_after_ms": retryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// handleChannels returns a handler exposing channel occupancy for operators.
func handleChannels(gw *gateway.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		occupancy := gw.Occupancy()
		c.JSON(constants.StatusOK, gin.H{
			"channels": occupancy,
			"count":    len(occupancy),
		})
	}
}

// handleHealthCheck returns a handler for liveness probe endpoint.
// This endpoint checks if the application is alive and should be restarted if it fails.
func handleHealthCheck(c *gin.Context) {
	// Basic liveness check - if we can respond, we're alive
	c.JSON(constants.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadyCheck returns a handler for readiness probe endpoint.
// This endpoint checks if the application is ready to serve traffic.
func handleReadyCheck(mongo *gomongo.Mongo, dbName string, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := make(map[string]interface{})
		allReady := true

		// Check MongoDB connection
		// No else needed: optional operation (MongoDB health check)
		if mongo == nil {
			checks["mongodb"] = map[string]interface{}{
				"status": "not ready",
				"reason": "MongoDB not initialized",
			}
			allReady = false
		} else {
			ctx, cancel := util.NewTimeoutContext(constants.HealthCheckTimeout)
			defer cancel()

			// Use Ping() to check MongoDB connectivity
			testColl := mongo.Coll(dbName, constants.CollectionUsers)
			err := testColl.Ping(ctx)
			// No else needed: optional operation (health check result recording)
			if err != nil {
				// Log detailed error server-side
				logger.Warn("MongoDB health check failed",
					"error", err,
					"component", "health")

				// Send generic error to client
				checks["mongodb"] = map[string]interface{}{
					"status": "not ready",
					"reason": "Database connectivity check failed",
				}
				allReady = false
			} else {
				checks["mongodb"] = map[string]interface{}{
					"status": "ready",
				}
			}
		}

		// Determine overall status
		status := "ready"
		statusCode := constants.StatusOK
		// No else needed: optional operation (status code adjustment based on health)
		if !allReady {
			status = "not ready"
			statusCode = constants.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		})
	}
}

// validateJWTSecret validates the JWT secret strength
// Returns error if secret is empty, too short, or contains weak patterns
func validateJWTSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	// Check minimum length (32 characters for strong security)
	if len(secret) < constants.MinJWTSecretLength {
		return fmt.Errorf(
			"JWT secret must be at least %d characters (got %d). "+
				"Generate a strong secret with: openssl rand -base64 32",
			constants.MinJWTSecretLength, len(secret))
	}

	// Check for common weak secrets
	if weak, pattern := util.ContainsWeakPattern(secret, constants.WeakSecrets); weak {
		return fmt.Errorf(
			"JWT secret appears to be weak (contains '%s'). "+
				"Use a cryptographically random secret generated with: openssl rand -base64 32",
			pattern)
	}

	return nil
}

// parseNetworks parses a comma-separated list of CIDR network strings.
func parseNetworks(networksStr string, logger *golog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range strings.Split(networksStr, ",") {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("Invalid CIDR in metrics_allowed_networks", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// metricsNetworkMiddleware restricts access to the metrics endpoint to configured networks.
func metricsNetworkMiddleware(allowedNets []*net.IPNet, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// If no networks configured, allow all (development mode)
		if len(allowedNets) == 0 {
			c.Next()
			return
		}

		clientIP := net.ParseIP(c.ClientIP())
		if clientIP == nil {
			logger.Warn("Could not parse client IP for metrics access", "ip", c.ClientIP())
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		for _, ipNet := range allowedNets {
			if ipNet.Contains(clientIP) {
				c.Next()
				return
			}
		}

		logger.Warn("Metrics access denied from unauthorized network",
			"client_ip", c.ClientIP(),
			"component", "metrics")
		httperrors.RespondForbidden(c)
		c.Abort()
	}
}

// containsPlaceholder checks if a configuration value still contains
// a deployment placeholder that should have been replaced.
func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	return strings.Contains(upper, "REPLACE_WITH") ||
		strings.Contains(upper, "PLACEHOLDER") ||
		strings.Contains(upper, "CHANGE-ME") ||
		strings.Contains(upper, "CHANGE_ME") ||
		strings.Contains(upper, "YOUR-")
}

// Package constants provides centralized constant definitions for the realtime gateway.
// This eliminates magic numbers and strings throughout the codebase.
package constants

import "time"

// HTTP Status Codes
const (
	StatusOK                 = 200
	StatusTooManyRequests    = 429
	StatusServiceUnavailable = 503
)

// Timeouts for various operations
const (
	DefaultContextTimeout   = 10 * time.Second // Standard database operations
	DefaultHandshakeTimeout = 10 * time.Second // WebSocket upgrade handshake deadline
	MongoIndexTimeout       = 30 * time.Second // MongoDB index creation
	HealthCheckTimeout      = 2 * time.Second  // Health check operations
	PresenceWriteTimeout    = 5 * time.Second  // Best-effort online-flag persistence
	TicketLookupTimeout     = 5 * time.Second  // Ticket authorization lookups
)

// Sizes and Limits
const (
	DefaultMaxMessageSize = 65536  // 64KB for inbound WebSocket frames
	MaxTicketIDLength     = 100    // Maximum accepted ticket ID length
	DefaultRateLimitMax   = 20     // Default events per window per principal per event name
	DefaultConnPerUser    = 10     // Default concurrent connections per principal
	PublicEndpointRate    = 60     // Requests per minute for public endpoints (healthz, readyz, metrics)
	DefaultAdminRateLimit = 20     // Default admin requests per minute
	MaxUsersTracked       = 100000 // Maximum distinct principals in rate limiter map
)

// HTTP Server Timeouts (for standalone server mode)
const (
	HTTPReadTimeout  = 15 * time.Second  // Maximum time to read the entire request
	HTTPWriteTimeout = 60 * time.Second  // Maximum time to write the response
	HTTPIdleTimeout  = 120 * time.Second // Maximum time to keep idle connections alive
)

// Durations for background operations
const (
	DefaultRateLimitWindow = 1 * time.Second  // Per-event rate limit window
	DefaultSweepInterval   = 60 * time.Second // Rate limiter entry sweep interval
	DefaultRateWindow      = 1 * time.Minute  // Admin/public HTTP rate limit window
)

// Profile names for authorization
const (
	ProfileAdmin = "admin"
	ProfileUser  = "user"
)

// Ticket status values accepted by joinTickets/leaveTickets
const (
	TicketStatusOpen    = "open"
	TicketStatusPending = "pending"
	TicketStatusClosed  = "closed"
)

// Client-originated event names
const (
	EventJoinChatBox       = "joinChatBox"
	EventLeaveChatBox      = "leaveChatBox"
	EventJoinNotification  = "joinNotification"
	EventLeaveNotification = "leaveNotification"
	EventJoinTickets       = "joinTickets"
	EventLeaveTickets      = "leaveTickets"
)

// Server-originated event names that are never encrypted
const (
	EventReady = "ready"
	EventError = "error"
)

// EncryptedEventPrefix marks an event whose payload travels as an
// encrypted envelope. The plaintext event name follows the prefix.
const EncryptedEventPrefix = "encrypted:"

// InternalEventPrefix marks transport-internal events that bypass
// outbound encryption.
const InternalEventPrefix = "gateway."

// Default Configuration Values
const (
	DefaultMongoURI   = "mongodb://localhost:27017"
	DefaultDatabase   = "delfinzap"
	DefaultPort       = 8080
	DefaultLogLevel   = "info"
	DefaultLogDir     = "logs"
	DefaultPathPrefix = "/realtime" // Default HTTP path prefix for all routes
)

// MongoDB collection names
const (
	CollectionUsers   = "users"
	CollectionQueues  = "queues"
	CollectionTickets = "tickets"
)

// MongoDB Field Names (BSON tags)
const (
	MongoFieldID        = "_id"
	MongoFieldCompanyID = "companyId"
	MongoFieldProfile   = "profile"
	MongoFieldQueueIDs  = "queueIds"
	MongoFieldAllTicket = "allTicket"
	MongoFieldOnline    = "online"
	MongoFieldUserID    = "userId"
	MongoFieldStatus    = "status"
)

// MongoDB Index Names
const (
	IndexCompanyID     = "idx_company_id"
	IndexOnline        = "idx_online"
	IndexTicketCompany = "idx_ticket_company"
)

// AllTicket flag values as stored by the CRM
const (
	AllTicketEnabled  = "enabled"
	AllTicketDisabled = "disabled"
)

// HTTP Headers
const (
	HeaderAuthorization = "Authorization"
	HeaderRetryAfter    = "Retry-After"
	BearerPrefix        = "Bearer "
)

// Error Messages
const (
	ErrMsgInvalidAuthHeader = "Invalid or missing Authorization header"
	ErrMsgInvalidToken      = "Invalid or expired token"
	ErrMsgForbidden         = "Insufficient permissions"
	ErrMsgInternalError     = "Internal server error"
	ErrMsgRateLimitExceeded = "Too many requests. Please try again later."
)

// Weak Secrets for validation (security check)
var WeakSecrets = []string{
	"secret", "test", "test123", "password", "admin",
	"changeme", "default", "example", "demo", "12345",
	"placeholder",
}

// Minimum Security Requirements
const (
	MinJWTSecretLength = 32 // Minimum length for JWT secret (256 bits)
)

// DefaultCryptoSecret is the development-only fallback for the channel
// encryption secret. Release mode refuses to start with it.
const DefaultCryptoSecret = "delfinzap-crypto-secret-key"

// Retry After Calculation
const (
	MillisecondsPerSecond = 1000
	MinRetryAfterSeconds  = 1 // Minimum retry-after value in seconds
)

// Network configuration defaults
const (
	DefaultTrustedProxies         = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"
	DefaultMetricsAllowedNetworks = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8"
)

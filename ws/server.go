package ws

import (
	"net/http"

	"github.com/luciancaetano/kephasrpc"
	"github.com/luciancaetano/kephasrpc/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnClientDisconnectFn
type ServerConfig = *websocket.ServerConfig

// DefaultPath is the HTTP path the server upgrades unless configured otherwise.
const DefaultPath = websocket.DefaultPath

// New creates a new WebSocket JSON-RPC server.
//
// Example:
//
//	server := ws.New(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(),
//	    func(client kephasrpc.Client) {
//	        log.Printf("Client connected: %s", client.ID())
//	    }, nil))
func New(cfg ServerConfig) kephasrpc.Server {
	return websocket.New(cfg)
}

// NewConfig builds a configuration with the default path, heartbeat and
// exception handler. Set the remaining ServerConfig fields directly.
//
// Parameters:
//   - addr: The server address (e.g., ":8080" or "localhost:8080")
//   - rateLimitConfig: Rate limiting configuration. Use DefaultRateLimitConfig() or NoRateLimit()
//   - checkOrigin: Function to validate WebSocket origins. Use AllOrigins() to allow all (dev only)
//   - onConnect: Optional callback called when a client connects, before its
//     first message is read. Can be nil.
//   - onDisconnect: Optional callback called once a client is torn down. Can be nil.
func NewConfig(addr string, rateLimitConfig *RateLimitConfig, checkOrigin CheckOriginFn, onConnect OnConnectFn, onDisconnect OnDisconnectFn) ServerConfig {
	return &websocket.ServerConfig{
		Addr:               addr,
		RateLimitConfig:    rateLimitConfig,
		CheckOrigin:        checkOrigin,
		OnConnect:          onConnect,
		OnClientDisconnect: onDisconnect,
	}
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

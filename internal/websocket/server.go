package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephasrpc"
	"github.com/luciancaetano/kephasrpc/internal/jsonrpc"
	"github.com/luciancaetano/kephasrpc/internal/logging"
	"github.com/luciancaetano/kephasrpc/internal/protocol"
	"github.com/luciancaetano/kephasrpc/internal/registry"
)

// DefaultPath is the HTTP path upgraded to websocket when none is configured.
const DefaultPath = "/ws"

var _ kephasrpc.Server = (*Server)(nil)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
// Use this to implement CORS policies for your WebSocket server.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is a callback function that is called when a new client connects.
// It is called after the WebSocket handshake completes and before the message
// reading loop starts. This is the ideal place to:
//   - Track connected clients
//   - Send welcome messages
//   - Perform authentication or authorization
//   - Initialize client-specific state
//
// Note: This function is called synchronously during connection setup.
// Avoid long-running operations that could block new connections.
type OnConnectFn = func(client kephasrpc.Client)

// OnClientDisconnectFn is called once a client has been torn down and its
// pending calls rejected. voluntary is true when the peer closed the
// connection with a close frame, false for network failures and
// server-initiated disconnects.
type OnClientDisconnectFn = func(client kephasrpc.Client, voluntary bool)

// ServerConfig configures a Server. Only Addr is required.
type ServerConfig struct {
	Addr string
	// Path is the upgraded HTTP path, DefaultPath when empty.
	Path               string
	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn
	// HeartbeatDelay is the ping period. Zero means
	// jsonrpc.DefaultHeartbeatDelay, negative disables pings.
	HeartbeatDelay time.Duration
	// ReadTimeout is how long a connection may stay silent (pongs included).
	// Zero means twice the heartbeat delay, or no timeout without heartbeats.
	ReadTimeout time.Duration
	// ExceptionHandler receives dispatch failures. Nil logs them.
	ExceptionHandler kephasrpc.ExceptionHandler
	// SyncHandlers runs handlers on the connection's read goroutine.
	SyncHandlers bool
}

// RateLimitConfig defines rate limiting configuration for clients
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a client can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// Server implements kephasrpc.Server over websocket.
//
// Domains live in a registry shared by every run of the server; the client
// manager and dispatcher are created on each Start and disposed on Stop.
type Server struct {
	addr            string
	path            string
	rateLimitConfig *RateLimitConfig
	heartbeat       time.Duration
	readTimeout     time.Duration
	syncHandlers    bool
	registry        *registry.Registry
	handler         kephasrpc.ExceptionHandler
	log             zerolog.Logger
	upgrader        websocket.Upgrader
	onConnect       OnConnectFn
	onDisconnect    OnClientDisconnectFn

	mu       sync.RWMutex
	running  bool
	rpc      *jsonrpc.Server
	server   *http.Server
	listener net.Listener
	conns    sync.WaitGroup
}

// New creates a new WebSocket server instance with the specified configuration.
//
// If cfg.RateLimitConfig is nil, DefaultRateLimitConfig() is used. Rate
// limiting is applied per-client using a token bucket algorithm.
//
// Example:
//
//	server := New(&ServerConfig{
//	    Addr:        ":8080",
//	    CheckOrigin: func(r *http.Request) bool { return true },
//	    OnConnect: func(client kephasrpc.Client) {
//	        log.Printf("Client connected: %s", client.ID())
//	    },
//	})
func New(cfg *ServerConfig) *Server {
	rateLimit := cfg.RateLimitConfig
	if rateLimit == nil {
		rateLimit = DefaultRateLimitConfig()
	}
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}

	log := logging.Logger().With().Str("component", "websocket").Logger()
	handler := cfg.ExceptionHandler
	if handler == nil {
		handler = logging.ExceptionHandler(log)
	}

	return &Server{
		addr:            cfg.Addr,
		path:            path,
		rateLimitConfig: rateLimit,
		heartbeat:       cfg.HeartbeatDelay,
		readTimeout:     readTimeout(cfg.ReadTimeout, cfg.HeartbeatDelay),
		syncHandlers:    cfg.SyncHandlers,
		registry:        registry.New(),
		handler:         handler,
		log:             log,
		onConnect:       cfg.OnConnect,
		onDisconnect:    cfg.OnClientDisconnect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

func readTimeout(configured, heartbeat time.Duration) time.Duration {
	switch {
	case configured != 0:
		return configured
	case heartbeat < 0:
		return 0
	case heartbeat == 0:
		return 2 * jsonrpc.DefaultHeartbeatDelay
	default:
		return 2 * heartbeat
	}
}

// Start binds the address and starts accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return kephasrpc.ErrServerAlreadyRunning
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	s.rpc = jsonrpc.NewServer(jsonrpc.ServerConfig{
		Registry:         s.registry,
		ExceptionHandler: s.handler,
		SyncHandlers:     s.syncHandlers,
		Manager: jsonrpc.ManagerConfig{
			HeartbeatDelay: s.heartbeat,
			OnConnect:      s.onConnect,
			OnDisconnect:   s.clientGone,
		},
	})

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.listener = listener
	s.running = true

	go func(server *http.Server) {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Str("addr", listener.Addr().String()).Msg("websocket server stopped")
		}
	}(s.server)

	s.log.Info().Str("addr", listener.Addr().String()).Str("path", s.path).Msg("websocket server started")
	return nil
}

// Stop disconnects every client, rejecting their pending calls, and shuts the
// listener down. Stopping a stopped server does nothing.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	rpc, server := s.rpc, s.server
	s.mu.Unlock()

	err := server.Shutdown(ctx)
	rpc.Dispose(ctx)
	s.conns.Wait()

	s.log.Info().Msg("websocket server stopped")
	return err
}

// Addr returns the bound address while the server runs, or the configured one.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.running && s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Path returns the upgraded HTTP path.
func (s *Server) Path() string {
	return s.path
}

// RegisterDomain registers a lazily resolved domain. Domains survive restarts.
func (s *Server) RegisterDomain(name string, supplier kephasrpc.DomainSupplier, overridable bool) error {
	return s.registry.Register(name, supplier, overridable)
}

// Broadcast sends a fire-and-forget call to every connected client.
func (s *Server) Broadcast(domain, command string, params ...any) error {
	rpc, err := s.current()
	if err != nil {
		return err
	}
	return rpc.Broadcast(domain, command, params...)
}

// BroadcastRaw is Broadcast with an already encoded last parameter.
func (s *Server) BroadcastRaw(domain, command string, rawTail kephasrpc.RawJSON, params ...any) error {
	rpc, err := s.current()
	if err != nil {
		return err
	}
	return rpc.BroadcastRaw(domain, command, rawTail, params...)
}

// BroadcastCall sends a call to every connected client.
func (s *Server) BroadcastCall(domain, command string, params ...any) ([]kephasrpc.Promise, error) {
	rpc, err := s.current()
	if err != nil {
		return nil, err
	}
	return rpc.BroadcastCall(domain, command, params...)
}

// ClientCount returns the number of live clients, zero when stopped.
func (s *Server) ClientCount() int {
	rpc, err := s.current()
	if err != nil {
		return 0
	}
	return rpc.ClientCount()
}

// ForEachClient calls fn for every live client until fn returns false.
func (s *Server) ForEachClient(fn func(client kephasrpc.Client) bool) {
	rpc, err := s.current()
	if err != nil {
		return
	}
	rpc.ForEachClient(fn)
}

func (s *Server) current() (*jsonrpc.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return nil, kephasrpc.ErrServerNotRunning
	}
	return s.rpc, nil
}

// handleWebSocket handles incoming WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	rpc := s.rpc
	s.conns.Add(1)
	s.mu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the request
		s.conns.Done()
		s.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	transport := NewConn(conn, r.RemoteAddr, s.rateLimitConfig)
	client, err := rpc.Connect(transport)
	if err != nil {
		transport.CloseWithCode(context.Background(), websocket.CloseGoingAway, "server is shutting down")
		s.conns.Done()
		return
	}

	go s.handleClient(rpc, transport, client)
}

// handleClient reads messages of one client until the connection ends
func (s *Server) handleClient(rpc *jsonrpc.Server, conn *Conn, client *jsonrpc.Client) {
	log := s.log.With().Str("client_id", client.ID()).Str("remote_addr", conn.RemoteAddr()).Logger()
	defer func() {
		rpc.Disconnect(context.Background(), client, true)
		s.conns.Done()
	}()

	conn.conn.SetReadLimit(protocol.MaxMessageSize)
	s.extendReadDeadline(conn)
	conn.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline(conn)
		return nil
	})

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				log.Warn().Int("limit", protocol.MaxMessageSize).Msg("message too large")
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				conn.peerClosed.Store(true)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived):
				log.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}

		s.extendReadDeadline(conn)

		if !conn.Allow() {
			log.Warn().Msg("rate limit exceeded")
			conn.CloseWithCode(context.Background(), websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		rpc.MessageReceived(client, data)
	}
}

func (s *Server) extendReadDeadline(conn *Conn) {
	if s.readTimeout > 0 {
		conn.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
}

// clientGone forwards a finished disconnect to the user callback
func (s *Server) clientGone(client kephasrpc.Client) {
	voluntary := false
	if c, ok := client.(*jsonrpc.Client); ok {
		if conn, ok := c.Transport().(*Conn); ok {
			voluntary = conn.PeerClosed()
		}
	}
	s.log.Debug().Str("client_id", client.ID()).Bool("voluntary", voluntary).Msg("client disconnected")
	if s.onDisconnect != nil {
		s.onDisconnect(client, voluntary)
	}
}

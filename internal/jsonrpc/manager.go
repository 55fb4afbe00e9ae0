package jsonrpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luciancaetano/kephasrpc"
)

// DefaultHeartbeatDelay is the heartbeat period used when none is configured.
const DefaultHeartbeatDelay = 30 * time.Second

// OnConnectFn is called after a client joins the live set.
type OnConnectFn = func(client kephasrpc.Client)

// OnDisconnectFn is called once a client has been fully torn down: it is out
// of the live set, its transport is closed if requested and its pending calls
// are rejected.
type OnDisconnectFn = func(client kephasrpc.Client)

// ManagerConfig configures a ClientManager.
type ManagerConfig struct {
	// HeartbeatDelay is the period of the heartbeat sweep. Zero means
	// DefaultHeartbeatDelay; a negative value disables heartbeats.
	HeartbeatDelay   time.Duration
	ExceptionHandler kephasrpc.ExceptionHandler
	OnConnect        OnConnectFn
	OnDisconnect     OnDisconnectFn
}

// ClientManager owns the set of live clients.
type ClientManager struct {
	mu       sync.Mutex
	clients  map[*Client]struct{}
	disposed bool

	handler      kephasrpc.ExceptionHandler
	onConnect    OnConnectFn
	onDisconnect OnDisconnectFn

	stop        chan struct{}
	done        chan struct{}
	disposeOnce sync.Once
}

// NewClientManager creates a manager and starts its heartbeat sweep.
func NewClientManager(cfg ManagerConfig) *ClientManager {
	handler := cfg.ExceptionHandler
	if handler == nil {
		handler = kephasrpc.ExceptionHandlerFunc(func(error) {})
	}
	m := &ClientManager{
		clients:      make(map[*Client]struct{}),
		handler:      handler,
		onConnect:    cfg.OnConnect,
		onDisconnect: cfg.OnDisconnect,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	delay := cfg.HeartbeatDelay
	if delay == 0 {
		delay = DefaultHeartbeatDelay
	}
	if delay > 0 {
		go m.heartbeatLoop(delay)
	} else {
		close(m.done)
	}
	return m
}

// AddClient adds client to the live set and notifies the connect listener.
// A client can belong to one manager only, and a disposed manager accepts
// no clients.
func (m *ClientManager) AddClient(client *Client) error {
	if !client.owner.CompareAndSwap(nil, m) {
		if client.owner.Load() == m {
			return nil
		}
		return fmt.Errorf("%w: %s", kephasrpc.ErrClientOwned, client.ID())
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		client.owner.Store(nil)
		return kephasrpc.ErrServerNotRunning
	}
	m.clients[client] = struct{}{}
	m.mu.Unlock()

	if b, ok := client.transport.(kephasrpc.Binder); ok {
		b.Bind(client)
	}
	if m.onConnect != nil {
		m.onConnect(client)
	}
	return nil
}

// DisconnectClient tears client down. It returns false if the client is not
// in the live set, so a second disconnect does nothing.
func (m *ClientManager) DisconnectClient(ctx context.Context, client *Client, closeTransport bool) bool {
	m.mu.Lock()
	if _, ok := m.clients[client]; !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.clients, client)
	m.mu.Unlock()

	if b, ok := client.transport.(kephasrpc.Binder); ok {
		b.Unbind()
	}
	client.markClosed()
	if closeTransport {
		if err := client.transport.Close(ctx); err != nil {
			m.handler.Handle(fmt.Errorf("close client %s: %w", client.ID(), err))
		}
	}
	client.RejectAsyncResults(m.handler)
	client.owner.Store(nil)

	if m.onDisconnect != nil {
		m.onDisconnect(client)
	}
	return true
}

// Send writes msg to every live client and returns one promise per client.
//
// The first client receives msg itself and every other client an independent
// Duplicate, so no two transports ever share a buffer.
func (m *ClientManager) Send(id int32, msg kephasrpc.Message) []kephasrpc.Promise {
	clients := m.snapshot()
	results := make([]kephasrpc.Promise, len(clients))
	for i, client := range clients {
		part := msg
		if i > 0 {
			part = msg.Duplicate()
		}
		results[i] = client.SendWithID(id, part)
	}
	return results
}

// ForEachClient calls fn for every live client until fn returns false. The
// lock is not held while fn runs.
func (m *ClientManager) ForEachClient(fn func(client *Client) bool) {
	for _, client := range m.snapshot() {
		if !fn(client) {
			return
		}
	}
}

// ClientCount returns the number of live clients.
func (m *ClientManager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Dispose stops the heartbeat sweep and disconnects every client, closing
// its transport. Calling Dispose again does nothing.
func (m *ClientManager) Dispose(ctx context.Context) {
	m.disposeOnce.Do(func() {
		m.mu.Lock()
		m.disposed = true
		m.mu.Unlock()

		close(m.stop)
		<-m.done
		for _, client := range m.snapshot() {
			m.DisconnectClient(ctx, client, true)
		}
	})
}

func (m *ClientManager) snapshot() []*Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	clients := make([]*Client, 0, len(m.clients))
	for client := range m.clients {
		clients = append(clients, client)
	}
	return clients
}

// heartbeatLoop pings every client with an active transport. Inactive ones
// are skipped; removing them is the disconnect path's job.
func (m *ClientManager) heartbeatLoop(delay time.Duration) {
	ticker := time.NewTicker(delay)
	defer func() {
		ticker.Stop()
		close(m.done)
	}()

	for {
		select {
		case <-ticker.C:
			m.heartbeat()
		case <-m.stop:
			return
		}
	}
}

func (m *ClientManager) heartbeat() {
	for _, client := range m.snapshot() {
		if !client.transport.IsActive() {
			continue
		}
		if err := client.SendHeartbeat(); err != nil {
			m.handler.Handle(fmt.Errorf("heartbeat client %s: %w", client.ID(), err))
		}
	}
}

package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephasrpc"
)

const (
	writeWait  = 10 * time.Second
	closeWait  = time.Second
	sendBuffer = 256
)

var (
	_ kephasrpc.Transport = (*Conn)(nil)
	_ kephasrpc.Binder    = (*Conn)(nil)
)

type outbound struct {
	msg  kephasrpc.Message
	done func(err error)
}

// Conn implements kephasrpc.Transport over one websocket connection.
//
// Writes are queued and sent in order by a single write pump; each one
// reports its outcome through its completion callback.
type Conn struct {
	conn        *websocket.Conn
	remoteAddr  string
	ctx         context.Context
	cancel      context.CancelFunc
	sendCh      chan outbound
	pumpDone    chan struct{}
	rateLimiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
	client kephasrpc.Client

	closeOnce  sync.Once
	closeErr   error
	peerClosed atomic.Bool
}

// NewConn wraps conn and starts its write pump. A nil or disabled
// rateLimitConfig turns inbound rate limiting off.
func NewConn(conn *websocket.Conn, remoteAddr string, rateLimitConfig *RateLimitConfig) *Conn {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if rateLimitConfig != nil && rateLimitConfig.Enabled {
		limiter = rate.NewLimiter(rateLimitConfig.MessagesPerSecond, rateLimitConfig.Burst)
	}

	c := &Conn{
		conn:        conn,
		remoteAddr:  remoteAddr,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan outbound, sendBuffer),
		pumpDone:    make(chan struct{}),
		rateLimiter: limiter,
	}

	go c.writePump()

	return c
}

// Write queues msg. onComplete receives the result of the socket write, or
// kephasrpc.ErrConnectionClosed when the connection closes first.
func (c *Conn) Write(msg kephasrpc.Message, onComplete func(err error)) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		complete(onComplete, kephasrpc.ErrConnectionClosed)
		return
	}

	// Keep the lock while queueing so the pump cannot drain past this write
	select {
	case c.sendCh <- outbound{msg: msg, done: onComplete}:
		c.mu.RUnlock()
	case <-c.ctx.Done():
		c.mu.RUnlock()
		complete(onComplete, kephasrpc.ErrConnectionClosed)
	}
}

// Heartbeat sends a ping control frame.
func (c *Conn) Heartbeat() error {
	if !c.IsActive() {
		return kephasrpc.ErrConnectionClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// IsActive returns true until the connection starts closing
func (c *Conn) IsActive() bool {
	return c.ctx.Err() == nil
}

// RemoteAddr returns the peer's network address
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Bind records the client that owns the connection.
func (c *Conn) Bind(client kephasrpc.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = client
}

// Unbind forgets the owning client.
func (c *Conn) Unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = nil
}

// Client returns the bound client, nil when unbound.
func (c *Conn) Client() kephasrpc.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// Close closes the connection with a normal closure
func (c *Conn) Close(ctx context.Context) error {
	return c.CloseWithCode(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the connection with a close code and optional reason.
// Queued writes that were not sent yet fail with kephasrpc.ErrConnectionClosed.
func (c *Conn) CloseWithCode(ctx context.Context, code int, reason string) error {
	c.closeOnce.Do(func() {
		c.cancel()
		select {
		case <-c.pumpDone:
		case <-ctx.Done():
		}

		message := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeWait))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Allow reports whether one more inbound message fits the rate limit.
func (c *Conn) Allow() bool {
	if c.rateLimiter == nil {
		return true
	}
	return c.rateLimiter.Allow()
}

// PeerClosed reports whether the peer ended the connection with a close frame.
func (c *Conn) PeerClosed() bool {
	return c.peerClosed.Load()
}

// writePump sends queued messages until the connection closes or a write fails
func (c *Conn) writePump() {
	defer c.drain()

	for {
		select {
		case out := <-c.sendCh:
			err := c.writeMessage(out.msg)
			complete(out.done, err)
			if err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) writeMessage(msg kephasrpc.Message) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err := msg.WriteTo(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// drain runs once the pump stops. The context is already cancelled, so no
// Write can still hold the read lock while blocked on a full queue.
func (c *Conn) drain() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	close(c.pumpDone)

	for {
		select {
		case out := <-c.sendCh:
			complete(out.done, kephasrpc.ErrConnectionClosed)
		default:
			return
		}
	}
}

func complete(fn func(error), err error) {
	if fn != nil {
		fn(err)
	}
}

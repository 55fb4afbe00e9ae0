package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/luciancaetano/kephasrpc"
	"github.com/luciancaetano/kephasrpc/internal/pending"
	"github.com/luciancaetano/kephasrpc/internal/protocol"
)

var _ kephasrpc.Client = (*Client)(nil)

// Client implements kephasrpc.Client on top of a Transport.
type Client struct {
	id        string
	transport kephasrpc.Transport
	calls     *pending.Table
	ids       *pending.Sequence
	handler   kephasrpc.ExceptionHandler
	values    sync.Map

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	owner  atomic.Pointer[ClientManager]
}

// NewClient wraps transport. Message ids come from ids, which is shared by
// every client of a server; failures without a caller go to handler.
func NewClient(transport kephasrpc.Transport, ids *pending.Sequence, handler kephasrpc.ExceptionHandler) *Client {
	if ids == nil {
		ids = new(pending.Sequence)
	}
	if handler == nil {
		handler = kephasrpc.ExceptionHandlerFunc(func(error) {})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:        uuid.New().String(),
		transport: transport,
		calls:     pending.NewTable(),
		ids:       ids,
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ID returns a unique identifier for the connected client
func (c *Client) ID() string {
	return c.id
}

// RemoteAddr returns the client's remote network address
func (c *Client) RemoteAddr() string {
	return c.transport.RemoteAddr()
}

// Context returns the client's lifecycle context
func (c *Client) Context() context.Context {
	return c.ctx
}

// Transport returns the transport the client writes to.
func (c *Client) Transport() kephasrpc.Transport {
	return c.transport
}

// IsAlive returns true if the client is connected and its transport active
func (c *Client) IsAlive() bool {
	return !c.closed.Load() && c.transport.IsActive()
}

// Send writes msg and reports the write outcome to onComplete.
func (c *Client) Send(msg kephasrpc.Message, onComplete func(err error)) {
	if c.closed.Load() {
		if onComplete != nil {
			onComplete(kephasrpc.ErrConnectionClosed)
		}
		return
	}
	c.transport.Write(msg, onComplete)
}

// SendWithID writes msg and returns its promise.
//
// A call with an id waits in the pending-call table for the response; a
// failed write rejects it. With kephasrpc.NoID nothing is registered and the
// promise completes with the write itself.
func (c *Client) SendWithID(id int32, msg kephasrpc.Message) kephasrpc.Promise {
	if id == kephasrpc.NoID {
		p := pending.NewPromise()
		c.Send(msg, func(err error) {
			if err != nil {
				p.Reject(err)
				return
			}
			p.Resolve(nil)
		})
		return p
	}

	p := c.calls.Register(id)
	c.Send(msg, func(err error) {
		if err == nil {
			return
		}
		if rerr := c.calls.Reject(id, err); rerr != nil && !errors.Is(rerr, pending.ErrUnknownCall) {
			c.handler.Handle(rerr)
		}
	})
	return p
}

// Call sends domain.command with params and returns the promise of its result.
func (c *Client) Call(domain, command string, params ...any) kephasrpc.Promise {
	id := c.ids.Next()
	msg, err := protocol.EncodeCall(id, domain, command, nil, params...)
	if err != nil {
		return pending.Rejected(err)
	}
	return c.SendWithID(id, msg)
}

// Notify sends domain.command with params, expecting no response.
func (c *Client) Notify(domain, command string, params ...any) error {
	msg, err := protocol.EncodeCall(kephasrpc.NoID, domain, command, nil, params...)
	if err != nil {
		return err
	}
	if c.closed.Load() {
		return kephasrpc.ErrConnectionClosed
	}
	c.Send(msg, c.reportWrite("notify "+domain+"."+command))
	return nil
}

// Respond answers the call messageID with result.
func (c *Client) Respond(messageID int32, result any) error {
	msg, err := protocol.EncodeResponse(messageID, result)
	if err != nil {
		return err
	}
	c.Send(msg, c.reportWrite("respond"))
	return nil
}

// RespondError answers the call messageID with an error envelope.
func (c *Client) RespondError(messageID int32, message string) error {
	msg, err := protocol.EncodeError(messageID, message)
	if err != nil {
		return err
	}
	c.Send(msg, c.reportWrite("respond error"))
	return nil
}

func (c *Client) reportWrite(what string) func(error) {
	return func(err error) {
		if err != nil {
			c.handler.Handle(fmt.Errorf("client %s: %s: %w", c.id, what, err))
		}
	}
}

// SendHeartbeat sends a keepalive through the transport.
func (c *Client) SendHeartbeat() error {
	return c.transport.Heartbeat()
}

// RejectAsyncResults rejects every outstanding call with kephasrpc.ErrRejected.
func (c *Client) RejectAsyncResults(handler kephasrpc.ExceptionHandler) {
	c.calls.RejectAll(kephasrpc.ErrRejected, handler.Handle)
}

// PendingCalls returns the number of calls waiting for a response.
func (c *Client) PendingCalls() int {
	return c.calls.Len()
}

// Value returns the user data stored under key.
func (c *Client) Value(key any) (any, bool) {
	return c.values.Load(key)
}

// SetValue stores user data under key.
func (c *Client) SetValue(key, value any) {
	c.values.Store(key, value)
}

// DeleteValue removes the user data stored under key.
func (c *Client) DeleteValue(key any) {
	c.values.Delete(key)
}

// markClosed stops further writes and cancels the client context.
func (c *Client) markClosed() {
	c.closed.Store(true)
	c.cancel()
}

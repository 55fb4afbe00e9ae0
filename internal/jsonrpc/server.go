package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/luciancaetano/kephasrpc"
	"github.com/luciancaetano/kephasrpc/internal/pending"
	"github.com/luciancaetano/kephasrpc/internal/protocol"
	"github.com/luciancaetano/kephasrpc/internal/registry"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Registry holds the domains. A new empty registry is used when nil.
	Registry         *registry.Registry
	ExceptionHandler kephasrpc.ExceptionHandler
	Manager          ManagerConfig
	// SyncHandlers runs calls on the goroutine that delivered the message
	// instead of one goroutine per call.
	SyncHandlers bool
}

// Server routes inbound messages and issues outbound calls for every client
// of one ClientManager.
type Server struct {
	registry     *registry.Registry
	manager      *ClientManager
	handler      kephasrpc.ExceptionHandler
	ids          pending.Sequence
	syncDispatch bool
	inflight     sync.WaitGroup
}

// NewServer creates a server and its client manager.
func NewServer(cfg ServerConfig) *Server {
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}
	handler := cfg.ExceptionHandler
	if handler == nil {
		handler = kephasrpc.ExceptionHandlerFunc(func(error) {})
	}
	mcfg := cfg.Manager
	if mcfg.ExceptionHandler == nil {
		mcfg.ExceptionHandler = handler
	}
	return &Server{
		registry:     reg,
		manager:      NewClientManager(mcfg),
		handler:      handler,
		syncDispatch: cfg.SyncHandlers,
	}
}

// Registry returns the domain registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Manager returns the client manager.
func (s *Server) Manager() *ClientManager {
	return s.manager
}

// RegisterDomain registers a domain, see registry.Registry.Register.
func (s *Server) RegisterDomain(name string, supplier kephasrpc.DomainSupplier, overridable bool) error {
	return s.registry.Register(name, supplier, overridable)
}

// Connect creates the client of transport and adds it to the live set.
func (s *Server) Connect(transport kephasrpc.Transport) (*Client, error) {
	client := NewClient(transport, &s.ids, s.handler)
	if err := s.manager.AddClient(client); err != nil {
		return nil, err
	}
	return client, nil
}

// Disconnect tears client down, see ClientManager.DisconnectClient.
func (s *Server) Disconnect(ctx context.Context, client *Client, closeTransport bool) bool {
	return s.manager.DisconnectClient(ctx, client, closeTransport)
}

// MessageReceived handles one inbound message of client.
//
// Responses and errors complete the matching pending call. Calls are
// dispatched to their domain. Nothing here is returned to the caller: every
// failure goes to the exception handler and the message is dropped.
func (s *Server) MessageReceived(client *Client, data []byte) {
	if client.closed.Load() {
		return
	}
	env, err := protocol.Decode(data)
	if err != nil {
		s.handler.Handle(fmt.Errorf("client %s: %w", client.ID(), err))
		return
	}

	switch env.Kind {
	case protocol.KindResponse:
		if err := client.calls.Resolve(env.ID, env.Result); err != nil {
			s.handler.Handle(fmt.Errorf("client %s: response: %w", client.ID(), err))
		}
	case protocol.KindError:
		if err := client.calls.Reject(env.ID, &kephasrpc.RemoteError{Message: env.Message}); err != nil {
			s.handler.Handle(fmt.Errorf("client %s: error response: %w", client.ID(), err))
		}
	case protocol.KindCall:
		domain, err := s.registry.Resolve(env.Domain)
		if err != nil {
			s.handler.Handle(fmt.Errorf("client %s: %w", client.ID(), err))
			return
		}
		if s.syncDispatch {
			s.dispatch(client, domain, env)
			return
		}
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.dispatch(client, domain, env)
		}()
	}
}

func (s *Server) dispatch(client *Client, domain *registry.Domain, env *protocol.Envelope) {
	ctx := client.Context()

	if domain.Invocator != nil {
		if err := invoke(ctx, domain.Invocator, client, env); err != nil {
			s.handler.Handle(&kephasrpc.HandlerError{Domain: env.Domain, Command: env.Command, Err: err})
		}
		return
	}

	fn, ok := domain.Commands[env.Command]
	if !ok || fn == nil {
		err := &kephasrpc.HandlerError{Domain: env.Domain, Command: env.Command, Err: kephasrpc.ErrMethodNotFound}
		s.handler.Handle(err)
		s.respondError(client, env, err)
		return
	}

	params, err := kephasrpc.ParseParams(env.Params)
	var result any
	if err == nil {
		result, err = call(ctx, fn, client, params)
	}
	if err != nil {
		herr := &kephasrpc.HandlerError{Domain: env.Domain, Command: env.Command, Err: err}
		if env.ID == kephasrpc.NoID {
			s.handler.Handle(herr)
			return
		}
		s.respondError(client, env, herr)
		return
	}

	if env.ID == kephasrpc.NoID {
		return
	}
	if err := client.Respond(env.ID, result); err != nil {
		herr := &kephasrpc.HandlerError{Domain: env.Domain, Command: env.Command, Err: fmt.Errorf("encode result: %w", err)}
		s.handler.Handle(herr)
		s.respondError(client, env, herr)
	}
}

func (s *Server) respondError(client *Client, env *protocol.Envelope, herr *kephasrpc.HandlerError) {
	if env.ID == kephasrpc.NoID {
		return
	}
	if err := client.RespondError(env.ID, herr.Err.Error()); err != nil {
		s.handler.Handle(err)
	}
}

func call(ctx context.Context, fn kephasrpc.HandlerFunc, client *Client, params kephasrpc.Params) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn(ctx, client, params)
}

func invoke(ctx context.Context, inv kephasrpc.Invocator, client *Client, env *protocol.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invocator panicked: %v", r)
		}
	}()
	return inv.Invoke(ctx, client, env.ID, env.Command, env.Params)
}

// Call sends domain.command to one client.
func (s *Server) Call(client *Client, domain, command string, params ...any) kephasrpc.Promise {
	return client.Call(domain, command, params...)
}

// Broadcast sends a fire-and-forget call to every live client.
func (s *Server) Broadcast(domain, command string, params ...any) error {
	return s.BroadcastRaw(domain, command, nil, params...)
}

// BroadcastRaw is Broadcast with a pre-encoded last parameter.
func (s *Server) BroadcastRaw(domain, command string, rawTail kephasrpc.RawJSON, params ...any) error {
	msg, err := protocol.EncodeCall(kephasrpc.NoID, domain, command, rawTail, params...)
	if err != nil {
		return err
	}
	for _, p := range s.manager.Send(kephasrpc.NoID, msg) {
		p.OnComplete(func(_ []byte, err error) {
			if err != nil && !errors.Is(err, kephasrpc.ErrConnectionClosed) {
				s.handler.Handle(fmt.Errorf("broadcast %s.%s: %w", domain, command, err))
			}
		})
	}
	return nil
}

// BroadcastCall sends one call to every live client. All clients share the
// same message id; each tracks it in its own pending-call table.
func (s *Server) BroadcastCall(domain, command string, params ...any) ([]kephasrpc.Promise, error) {
	id := s.ids.Next()
	msg, err := protocol.EncodeCall(id, domain, command, nil, params...)
	if err != nil {
		return nil, err
	}
	return s.manager.Send(id, msg), nil
}

// ClientCount returns the number of live clients.
func (s *Server) ClientCount() int {
	return s.manager.ClientCount()
}

// ForEachClient calls fn for every live client until fn returns false.
func (s *Server) ForEachClient(fn func(client kephasrpc.Client) bool) {
	s.manager.ForEachClient(func(c *Client) bool {
		return fn(c)
	})
}

// Dispose disconnects every client and waits for running handlers.
func (s *Server) Dispose(ctx context.Context) {
	s.manager.Dispose(ctx)
	s.inflight.Wait()
}

package kephasrpc

import "context"

// Server defines a JSON-RPC server that keeps one Client per live connection.
//
// Messages are flat JSON arrays (see the package documentation for the wire
// format). Inbound calls are routed to registered domains, inbound responses
// complete the promises returned by Client.Call.
//
// Example usage:
//
//	import "github.com/luciancaetano/kephasrpc/ws"
//
//	server := ws.New(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), nil, nil))
//
//	server.RegisterDomain("math", func() any {
//	    return kephasrpc.Commands{
//	        "add": func(ctx context.Context, client kephasrpc.Client, params kephasrpc.Params) (any, error) {
//	            a, _ := params.Int(0)
//	            b, _ := params.Int(1)
//	            return a + b, nil
//	        },
//	    }
//	}, false)
//
//	server.Start(ctx)
type Server interface {
	// Start starts the server and begins accepting connections.
	// Returns an error if the server is already running or if the address
	// cannot be bound.
	Start(ctx context.Context) error

	// Stop disconnects every client, rejects their pending calls and shuts
	// the listener down.
	Stop(ctx context.Context) error

	// RegisterDomain registers a lazily resolved domain under name.
	//
	// The supplier is called at most once, on the first message addressed to
	// the domain, and must return either Commands or an Invocator.
	//
	// Registering a name twice fails with ErrDomainExists unless overridable
	// is set on the later registration, in which case the call is a no-op and
	// the first registration stays authoritative.
	RegisterDomain(name string, supplier DomainSupplier, overridable bool) error

	// Broadcast sends a fire-and-forget call to every connected client.
	Broadcast(domain, command string, params ...any) error

	// BroadcastRaw is like Broadcast but appends rawTail, an already encoded
	// JSON value, as the last parameter without re-encoding or copying it.
	BroadcastRaw(domain, command string, rawTail RawJSON, params ...any) error

	// BroadcastCall sends a call expecting a response to every connected
	// client and returns one promise per client.
	BroadcastCall(domain, command string, params ...any) ([]Promise, error)

	// ClientCount returns the number of live clients.
	ClientCount() int

	// ForEachClient calls fn for every live client until fn returns false.
	ForEachClient(fn func(client Client) bool)
}

// Client represents one live connection.
//
// Each client has a unique identifier, a pending-call table for the calls it
// has issued and a set of user-data slots. Its context is cancelled when the
// connection is torn down.
type Client interface {
	// ID returns a unique identifier for the connected client.
	ID() string

	// RemoteAddr returns the client's remote network address.
	RemoteAddr() string

	// Context returns the client's lifecycle context, cancelled on disconnect.
	Context() context.Context

	// IsAlive reports whether the client is connected and its transport active.
	IsAlive() bool

	// Call sends a call and returns a promise completed with the raw JSON
	// result, rejected with a *RemoteError when the peer answers with an
	// error, or with ErrRejected when the client disconnects first.
	Call(domain, command string, params ...any) Promise

	// Notify sends a call that expects no response.
	Notify(domain, command string, params ...any) error

	// Respond answers the inbound call messageID with result.
	Respond(messageID int32, result any) error

	// RespondError answers the inbound call messageID with an error envelope.
	RespondError(messageID int32, message string) error

	// Value returns the user data stored under key.
	Value(key any) (any, bool)

	// SetValue stores user data under key for the lifetime of the client.
	SetValue(key, value any)
}

// Promise is a single-assignment completion handle for one outstanding call.
type Promise interface {
	// Done is closed once the promise completes.
	Done() <-chan struct{}

	// Result blocks until the promise completes.
	Result() ([]byte, error)

	// Await blocks until the promise completes or ctx is done. A done context
	// does not cancel the call itself.
	Await(ctx context.Context) ([]byte, error)

	// OnComplete registers fn to run once the promise completes. If the
	// promise is already complete fn runs immediately.
	OnComplete(fn func(value []byte, err error))
}

// Transport is the send side of one connection.
type Transport interface {
	// Write queues msg and reports the outcome of the write through
	// onComplete, which may be nil. Writes are delivered in call order.
	Write(msg Message, onComplete func(err error))

	// Heartbeat sends a keepalive to the peer.
	Heartbeat() error

	// IsActive reports whether the connection can still carry writes.
	IsActive() bool

	// RemoteAddr returns the peer address.
	RemoteAddr() string

	// Close closes the connection.
	Close(ctx context.Context) error
}

// Binder is implemented by transports that keep a reference to the Client
// that owns them. The client manager binds on add and unbinds on disconnect.
type Binder interface {
	Bind(client Client)
	Unbind()
}

// HandlerFunc handles one command of a domain. When the call carried an id
// the returned value is sent back as the response, and a returned error is
// sent back as an error envelope.
type HandlerFunc func(ctx context.Context, client Client, params Params) (any, error)

// Commands is a domain made of named command handlers.
type Commands map[string]HandlerFunc

// Invocator is a domain that handles its own parameter decoding. It receives
// the raw parameter array exactly as it arrived and is responsible for
// answering messageID (NoID for fire-and-forget calls) itself.
type Invocator interface {
	Invoke(ctx context.Context, client Client, messageID int32, command string, rawParams []byte) error
}

// InvocatorFunc adapts a function to the Invocator interface.
type InvocatorFunc func(ctx context.Context, client Client, messageID int32, command string, rawParams []byte) error

// Invoke calls f.
func (f InvocatorFunc) Invoke(ctx context.Context, client Client, messageID int32, command string, rawParams []byte) error {
	return f(ctx, client, messageID, command, rawParams)
}

// DomainSupplier computes a domain on first use. It returns Commands or an
// Invocator and must be safe to call more than once.
type DomainSupplier func() any

// ExceptionHandler receives the failures that have no caller to report to:
// undecodable messages, unknown domains, failed handlers, failed heartbeats.
// Handle must not panic.
type ExceptionHandler interface {
	Handle(err error)
}

// ExceptionHandlerFunc adapts a function to the ExceptionHandler interface.
type ExceptionHandlerFunc func(err error)

// Handle calls f.
func (f ExceptionHandlerFunc) Handle(err error) {
	f(err)
}

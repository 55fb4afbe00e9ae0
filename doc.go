// Package kephasrpc provides a connection-scoped JSON-RPC layer for WebSocket servers.
//
// Each live connection is a Client. A client manager tracks every live Client,
// heartbeats them on one shared timer and broadcasts to them. Calls sent to a
// client return a Promise that is completed by the matching response, rejected
// by the matching error, or rejected with ErrRejected when the client
// disconnects first.
//
// # Wire Format
//
// Every message is a flat JSON array:
//
//	[id, domain, command, [param, ...]]   call expecting a response
//	[domain, command, [param, ...]]       fire-and-forget call
//	[id, "r", result]                     response
//	[id, "e", message]                    error
//
// Ids are non-negative 32-bit integers drawn from one counter per server. The
// counter wraps to 0 after math.MaxInt32; a call still outstanding after a full
// wrap would collide with a new call of the same id.
//
// # Domains
//
// Commands are grouped into domains resolved on first use:
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
// With that registration the message [7,"math","add",[2,3]] is answered with
// [7,"r",5]. A domain may instead be an Invocator, which receives the raw
// parameter array untouched and answers on its own.
//
// Messages addressed to an unknown domain are dropped and reported to the
// ExceptionHandler. Unknown commands are reported too and, when the call
// carried an id, answered with an error envelope.
//
// # Raw Payloads
//
// Large pre-serialized payloads can be sent as RawJSON through BroadcastRaw.
// They are appended as their own buffer segment and streamed into the
// WebSocket frame without being copied or re-encoded.
//
// # Important
//
//   - Handlers execute in goroutines unless SyncHandlers is set (no execution order guarantee)
//   - DO NOT modify a Message after sending it (broadcast recipients after the first get a Duplicate)
//   - Configure CheckOriginFn in production (never use ws.AllOrigins() in production)
package kephasrpc

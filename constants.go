package kephasrpc

import (
	"errors"
	"fmt"
)

// NoID marks a call that expects no response. Its envelope carries no id.
const NoID int32 = -1

// Response markers, sent in place of the domain name.
const (
	MarkerResponse = "r"
	MarkerError    = "e"
)

// Standard errors
var (
	// ErrRejected completes every call still pending when its client disconnects.
	ErrRejected = errors.New("rejected")

	// Protocol errors
	ErrInvalidMessage = errors.New("invalid message format")
	ErrInvalidParams  = errors.New("invalid params")
	ErrDomainNotFound = errors.New("domain not found")
	ErrMethodNotFound = errors.New("method not found")

	// Registration errors
	ErrDomainExists  = errors.New("domain already registered")
	ErrInvalidDomain = errors.New("invalid domain")

	// Connection errors
	ErrConnectionClosed     = errors.New("client connection is closed")
	ErrClientOwned          = errors.New("client belongs to another manager")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerNotRunning     = errors.New("server not running")
)

// RemoteError is the failure a peer reported through an error envelope.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}

// HandlerError is a failure while dispatching a call to domain.command.
type HandlerError struct {
	Domain  string
	Command string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Domain, e.Command, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

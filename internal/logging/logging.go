package logging

import (
	"errors"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/kephasrpc"
)

var logger atomic.Pointer[zerolog.Logger]

func init() {
	l := New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, zerolog.InfoLevel)
	logger.Store(&l)
}

// New returns a timestamped logger writing to w.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Logger returns the package logger.
func Logger() zerolog.Logger {
	return *logger.Load()
}

// SetLogger replaces the package logger.
func SetLogger(l zerolog.Logger) {
	logger.Store(&l)
}

// SetLevel changes the level of the package logger. An empty level is ignored.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	SetLogger(Logger().Level(lvl))
	return nil
}

// ExceptionHandler returns an ExceptionHandler that logs every failure on l.
// Unknown domains and undecodable messages are peer mistakes and logged at
// warn level; everything else is an error.
func ExceptionHandler(l zerolog.Logger) kephasrpc.ExceptionHandler {
	return kephasrpc.ExceptionHandlerFunc(func(err error) {
		if err == nil {
			return
		}
		ev := l.Error()
		if errors.Is(err, kephasrpc.ErrDomainNotFound) || errors.Is(err, kephasrpc.ErrInvalidMessage) {
			ev = l.Warn()
		}
		var herr *kephasrpc.HandlerError
		if errors.As(err, &herr) {
			ev = ev.Str("domain", herr.Domain).Str("command", herr.Command)
		}
		ev.Err(err).Msg("jsonrpc failure")
	})
}

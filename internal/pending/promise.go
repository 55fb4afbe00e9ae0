package pending

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrAlreadyCompleted is returned when a promise is completed twice.
	ErrAlreadyCompleted = errors.New("promise already completed")

	// ErrUnknownCall is returned for an id that has no outstanding call.
	ErrUnknownCall = errors.New("no outstanding call with this id")

	// ErrIDReused rejects a call whose id was handed out again while it was
	// still outstanding (counter wraparound).
	ErrIDReused = errors.New("message id reused while call outstanding")
)

// Promise is a single-assignment result of one call.
type Promise struct {
	done chan struct{}

	mu        sync.Mutex
	completed bool
	value     []byte
	err       error
	callbacks []func([]byte, error)
}

// NewPromise returns a pending promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Rejected returns a promise already rejected with err.
func Rejected(err error) *Promise {
	p := NewPromise()
	p.Reject(err)
	return p
}

// Resolve completes the promise with value.
func (p *Promise) Resolve(value []byte) error {
	return p.complete(value, nil)
}

// Reject completes the promise with err.
func (p *Promise) Reject(err error) error {
	if err == nil {
		err = errors.New("rejected with nil error")
	}
	return p.complete(nil, err)
}

// complete returns ErrAlreadyCompleted on a second completion, or the panics
// raised by completion callbacks. The promise is complete either way.
func (p *Promise) complete(value []byte, err error) error {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return ErrAlreadyCompleted
	}
	p.completed = true
	p.value = value
	p.err = err
	callbacks := p.callbacks
	p.callbacks = nil
	close(p.done)
	p.mu.Unlock()

	var failures error
	for _, fn := range callbacks {
		failures = errors.Join(failures, runCallback(fn, value, err))
	}
	return failures
}

func runCallback(fn func([]byte, error), value []byte, err error) (failure error) {
	defer func() {
		if r := recover(); r != nil {
			failure = fmt.Errorf("promise callback panicked: %v", r)
		}
	}()
	fn(value, err)
	return nil
}

// Done is closed once the promise completes.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Result blocks until the promise completes.
func (p *Promise) Result() ([]byte, error) {
	<-p.done
	return p.value, p.err
}

// Await blocks until the promise completes or ctx is done.
func (p *Promise) Await(ctx context.Context) ([]byte, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnComplete registers fn to run on completion, immediately if already complete.
func (p *Promise) OnComplete(fn func(value []byte, err error)) {
	p.mu.Lock()
	if !p.completed {
		p.callbacks = append(p.callbacks, fn)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	fn(p.value, p.err)
}

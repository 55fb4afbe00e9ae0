package pending

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// Table maps message ids to the promises of one client's outstanding calls.
type Table struct {
	mu    sync.Mutex
	calls map[int32]*Promise
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{calls: make(map[int32]*Promise)}
}

// Register creates the promise for id. If id is still outstanding (the
// counter wrapped around) the older call is rejected with ErrIDReused.
func (t *Table) Register(id int32) *Promise {
	p := NewPromise()
	t.mu.Lock()
	prev := t.calls[id]
	t.calls[id] = p
	t.mu.Unlock()

	if prev != nil {
		prev.Reject(fmt.Errorf("%w: %d", ErrIDReused, id))
	}
	return p
}

func (t *Table) take(id int32) *Promise {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.calls[id]
	delete(t.calls, id)
	return p
}

// Resolve completes and removes the call id.
func (t *Table) Resolve(id int32, value []byte) error {
	p := t.take(id)
	if p == nil {
		return fmt.Errorf("%w: %d", ErrUnknownCall, id)
	}
	return p.Resolve(value)
}

// Reject fails and removes the call id.
func (t *Table) Reject(id int32, err error) error {
	p := t.take(id)
	if p == nil {
		return fmt.Errorf("%w: %d", ErrUnknownCall, id)
	}
	return p.Reject(err)
}

// RejectAll rejects every outstanding call with err and empties the table.
// A failure on one call is passed to onFailure and does not stop the sweep.
func (t *Table) RejectAll(err error, onFailure func(error)) {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[int32]*Promise)
	t.mu.Unlock()

	for id, p := range calls {
		if failure := p.Reject(err); failure != nil && onFailure != nil {
			onFailure(fmt.Errorf("reject call %d: %w", id, failure))
		}
	}
}

// Len returns the number of outstanding calls.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Sequence hands out message ids. Ids are non-negative and wrap to 0 after
// math.MaxInt32; the zero value starts at 0.
type Sequence struct {
	next atomic.Uint32
}

// Next returns the next id.
func (s *Sequence) Next() int32 {
	return int32((s.next.Add(1) - 1) & math.MaxInt32)
}

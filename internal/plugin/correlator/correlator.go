// Package correlator issues call identifiers and tracks outstanding calls so
// asynchronous responses can be matched back to the request that caused them.
package correlator

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiorg/kiorg/pkg/plugin"
)

// Sequence hands out call ids. One sequence is shared by every plugin
// process of a registry so ids are unique across the whole host.
type Sequence struct {
	last atomic.Uint64
}

// Next returns a fresh, never zero, call id.
func (s *Sequence) Next() plugin.CallID {
	return plugin.CallID(s.last.Add(1))
}

// Kind is the command kind a call was issued for.
type Kind string

const (
	KindHello   Kind = "hello"
	KindPreview Kind = "preview"
)

// Call is one outstanding request.
type Call struct {
	ID       plugin.CallID
	Kind     Kind
	Path     string
	IssuedAt time.Time
}

// Table is the outstanding-calls map of one plugin process.
// It is safe for concurrent use.
type Table struct {
	seq *Sequence
	now func() time.Time

	mu      sync.Mutex
	pending map[plugin.CallID]Call
}

// NewTable creates a table drawing ids from seq. A nil seq gives the table
// a private sequence.
func NewTable(seq *Sequence) *Table {
	if seq == nil {
		seq = &Sequence{}
	}
	return &Table{
		seq:     seq,
		now:     time.Now,
		pending: make(map[plugin.CallID]Call),
	}
}

// Issue allocates an id that is not outstanding in this table and records the call.
func (t *Table) Issue(kind Kind, path string) Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.seq.Next()
	for {
		if _, busy := t.pending[id]; !busy {
			break
		}
		id = t.seq.Next()
	}

	call := Call{ID: id, Kind: kind, Path: path, IssuedAt: t.now()}
	t.pending[id] = call
	return call
}

// Resolve retires id and returns its call. ok is false if the id was never
// issued or has already been retired.
func (t *Table) Resolve(id plugin.CallID) (call Call, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok = t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return call, ok
}

// Cancel retires id without a response. A late response for it will no
// longer resolve.
func (t *Table) Cancel(id plugin.CallID) bool {
	_, ok := t.Resolve(id)
	return ok
}

// Lookup returns the call for id without retiring it.
func (t *Table) Lookup(id plugin.CallID) (Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.pending[id]
	return call, ok
}

// Len returns the number of outstanding calls.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.pending)
}

// Outstanding returns the outstanding calls ordered by id.
func (t *Table) Outstanding() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	return sortedCalls(t.pending)
}

// Drain retires every outstanding call and returns them ordered by id.
func (t *Table) Drain() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	calls := sortedCalls(t.pending)
	clear(t.pending)
	return calls
}

func sortedCalls(m map[plugin.CallID]Call) []Call {
	calls := make([]Call, 0, len(m))
	for _, c := range m {
		calls = append(calls, c)
	}
	slices.SortFunc(calls, func(a, b Call) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return calls
}

package ledger

import (
	"fmt"
	"sync"

	"github.com/danmuck/groupwire/internal/protocol"
)

var ErrDuplicateID = fmt.Errorf("%w: duplicate transaction id", protocol.ErrBadParameter)

// Ledger holds pending requests in send order.
type Ledger struct {
	mu      sync.Mutex
	pending []*Request
}

func New() *Ledger {
	return &Ledger{}
}

// Add takes a reference on req and appends it. A second request with the
// same id is rejected.
func (l *Ledger) Add(req *Request) error {
	if req == nil {
		return protocol.ErrBadParameter
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.findLocked(req.ID) != nil {
		return fmt.Errorf("%w: id=%d", ErrDuplicateID, req.ID)
	}
	req.AddRef()
	l.pending = append(l.pending, req)
	return nil
}

// Remove unlinks req and drops the ledger's reference. It reports whether
// req was pending.
func (l *Ledger) Remove(req *Request) bool {
	if req == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, p := range l.pending {
		if p == req {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			req.Release()
			return true
		}
	}
	return false
}

// Find returns the pending request with id, or nil.
func (l *Ledger) Find(id int) *Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.findLocked(id)
}

func (l *Ledger) findLocked(id int) *Request {
	for _, p := range l.pending {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Snapshot returns the pending requests in send order.
func (l *Ledger) Snapshot() []*Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Request, len(l.pending))
	copy(out, l.pending)
	return out
}

// Drain empties the ledger without invoking any callbacks and returns what
// was pending.
func (l *Ledger) Drain() []*Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.pending
	l.pending = nil
	for _, req := range out {
		req.Release()
	}
	return out
}

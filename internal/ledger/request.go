package ledger

import (
	"time"

	"github.com/danmuck/groupwire/internal/protocol"
)

// Callback receives the result of a completed request.
type Callback func(code protocol.Code, data, userData any)

// Request is one client call awaiting its response.
type Request struct {
	ID       int
	Verb     string
	Callback Callback
	// Data is populated by the response handler before Callback fires.
	Data any
	// UserData is handed back to Callback untouched.
	UserData any
	// Subject is the local object the verb acts on.
	Subject any
	Code    protocol.Code
	SentAt  time.Time

	refs int
}

// NewRequest returns a request holding one reference for its creator.
func NewRequest(id int, verb string) *Request {
	return &Request{ID: id, Verb: verb, SentAt: time.Now(), refs: 1}
}

func (r *Request) AddRef() {
	r.refs++
}

// Release drops one reference and returns how many remain.
func (r *Request) Release() int {
	if r.refs > 0 {
		r.refs--
	}
	return r.refs
}

func (r *Request) Refs() int {
	return r.refs
}

// Complete records code and invokes the callback, if any.
func (r *Request) Complete(code protocol.Code) {
	r.Code = code
	if r.Callback != nil {
		r.Callback(code, r.Data, r.UserData)
	}
}

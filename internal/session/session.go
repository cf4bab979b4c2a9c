package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/groupwire/internal/conference"
	"github.com/danmuck/groupwire/internal/contacts"
	"github.com/danmuck/groupwire/internal/ledger"
	logs "github.com/danmuck/groupwire/internal/logging"
	"github.com/danmuck/groupwire/internal/observability"
	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/protocol/field"
	"github.com/danmuck/groupwire/internal/protocol/schema"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("state_%d", int(s))
}

var (
	// ErrLoggedInElsewhere reports a user-disconnect event: the account
	// signed in from another workstation.
	ErrLoggedInElsewhere = errors.New("session: logged in at another workstation")
	// ErrServerShutdown reports a server-disconnect event.
	ErrServerShutdown = errors.New("session: server closed the session")
	ErrClosed         = fmt.Errorf("%w: session closed", protocol.ErrTCPWrite)
)

// Conn is the transport surface a session needs. *transport.Conn
// satisfies it.
type Conn interface {
	SendRequest(verb string, fields field.List) (*ledger.Request, error)
	Peek4() ([]byte, error)
	ReadHeader() error
	ReadFields(max int) (field.List, error)
	ReadEventType() (uint32, error)
	Close() error
}

// ResponseFunc receives the outcome of a verb. data is the verb-specific
// response object; userData is what the caller passed in.
type ResponseFunc func(s *Session, code protocol.Code, data, userData any)

// EventFunc receives server events after session-level processing.
type EventFunc func(s *Session, ev *Event)

// DisconnectFunc is called once when a disconnecting error tears the session
// down.
type DisconnectFunc func(s *Session, err error)

type Session struct {
	conn   Conn
	userID string
	state  State

	ledger      *ledger.Ledger
	conferences conference.List
	contactList *contacts.List
	directory   *contacts.Directory

	record *contacts.UserRecord
	fields field.List

	onEvent      EventFunc
	onDisconnect DisconnectFunc

	queue       []*queuedEvent
	confCounter int
	noReconnect bool
	closed      bool
	reported    bool
}

// New returns a session over conn in the Connecting state.
func New(conn Conn, userID string, onEvent EventFunc) *Session {
	logs.Debugf("session.New user=%s", userID)
	return &Session{
		conn:      conn,
		userID:    userID,
		state:     StateConnecting,
		ledger:    ledger.New(),
		directory: contacts.NewDirectory(),
		onEvent:   onEvent,
	}
}

// SetDisconnectFunc installs the disconnect notification.
func (s *Session) SetDisconnectFunc(fn DisconnectFunc) {
	s.onDisconnect = fn
}

// MarkConnected records that the transport is up and login may proceed.
func (s *Session) MarkConnected() {
	if s.state == StateConnecting {
		s.state = StateAuthenticating
	}
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) UserID() string {
	return s.userID
}

// UserRecord is the signed-in user's record, set by a successful login.
func (s *Session) UserRecord() *contacts.UserRecord {
	return s.record
}

// LoginFields returns a copy of the fields of the login response.
func (s *Session) LoginFields() field.List {
	return s.fields.Copy()
}

// Contacts is the contact-list mirror, nil until login succeeds.
func (s *Session) Contacts() *contacts.List {
	return s.contactList
}

func (s *Session) Directory() *contacts.Directory {
	return s.directory
}

func (s *Session) Conferences() *conference.List {
	return &s.conferences
}

// Pending reports the number of requests awaiting a response.
func (s *Session) Pending() int {
	return s.ledger.Len()
}

// PendingRequests returns a snapshot of the ledger.
func (s *Session) PendingRequests() []*ledger.Request {
	return s.ledger.Snapshot()
}

// NoReconnect reports whether the server asked this client not to come
// back, which happens when the account signs in elsewhere.
func (s *Session) NoReconnect() bool {
	return s.noReconnect
}

// NextConferenceName returns a fresh title for a conference window.
func (s *Session) NextConferenceName() string {
	s.confCounter++
	return conference.Name(s.confCounter)
}

// FindUserRecord looks up a cached record by dn or display id.
func (s *Session) FindUserRecord(name string) *contacts.UserRecord {
	return s.directory.FindRecord(name)
}

// FindContact looks up a contact by dn or display id.
func (s *Session) FindContact(name string) *contacts.Contact {
	return s.directory.FindContact(name)
}

// Close tears the session down without reporting a disconnect. Pending
// callbacks are dropped.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.reported = true
	return s.teardown()
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	return s.closed
}

// Abort reports a transport failure the host observed outside
// ProcessNewData, such as a failed readiness wait. Disconnecting errors tear
// the session down and are reported once.
func (s *Session) Abort(err error) error {
	if err == nil || s.closed {
		return err
	}
	return s.failIfDisconnect(err)
}

// fail tears the session down for a disconnecting error and reports it
// once. It returns err unchanged.
func (s *Session) fail(err error) error {
	if s.reported {
		logs.Debugf("session.fail already reported err=%v", err)
		return err
	}
	s.reported = true
	logs.Errf("session.fail user=%s err=%v", s.userID, err)
	observability.RecordDisconnect(disconnectReason(err))
	if cerr := s.teardown(); cerr != nil {
		logs.Warnf("session.fail close err=%v", cerr)
	}
	if s.onDisconnect != nil {
		s.onDisconnect(s, err)
	}
	return err
}

func (s *Session) teardown() error {
	s.closed = true
	s.state = StateDisconnected
	dropped := s.ledger.Drain()
	if len(dropped) > 0 {
		logs.Debugf("session.teardown dropped pending=%d", len(dropped))
	}
	for _, c := range s.conferences.All() {
		s.releaseHandle(c)
	}
	s.conferences.Clear()
	s.contactList = nil
	s.directory.Clear()
	s.queue = nil
	return s.conn.Close()
}

func (s *Session) releaseHandle(c *conference.Conference) {
	c.SetHandle(nil)
}

func disconnectReason(err error) string {
	switch {
	case errors.Is(err, ErrLoggedInElsewhere):
		return "user_disconnect"
	case errors.Is(err, ErrServerShutdown):
		return "server_disconnect"
	case errors.Is(err, protocol.ErrTCPWrite):
		return "tcp_write"
	case errors.Is(err, protocol.ErrTCPRead):
		return "tcp_read"
	case errors.Is(err, protocol.ErrProtocol):
		return "protocol"
	}
	return "other"
}

// send writes a request and registers it in the ledger. subject becomes the
// initial response data; handlers may replace it.
func (s *Session) send(
	verb string,
	fields field.List,
	subject any,
	cb ResponseFunc,
	userData any,
) (*ledger.Request, error) {
	if s.closed {
		return nil, ErrClosed
	}
	req, err := s.conn.SendRequest(verb, fields)
	if err != nil {
		if protocol.IsDisconnect(err) {
			return nil, s.fail(err)
		}
		return nil, err
	}
	req.Subject = subject
	req.Data = subject
	req.UserData = userData
	if cb != nil {
		req.Callback = func(code protocol.Code, data, userData any) {
			cb(s, code, data, userData)
		}
	}
	if err := s.ledger.Add(req); err != nil {
		return nil, err
	}
	// The ledger now holds the only reference.
	req.Release()
	observability.RecordRequest(verb)
	logs.Debugf("session.send verb=%s txn=%d pending=%d", verb, req.ID, s.ledger.Len())
	return req, nil
}

func badParameter(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{protocol.ErrBadParameter}, args...)...)
}

func now() time.Time {
	return time.Now()
}

// queuedEvent holds an event in arrival order until its user record lookup
// finishes.
type queuedEvent struct {
	ev    *Event
	ready bool
}

func (s *Session) enqueue(ev *Event, ready bool) *queuedEvent {
	qe := &queuedEvent{ev: ev, ready: ready}
	s.queue = append(s.queue, qe)
	return qe
}

// flush delivers queued events from the head while they are ready.
func (s *Session) flush() {
	for len(s.queue) > 0 && s.queue[0].ready {
		ev := s.queue[0].ev
		s.queue = s.queue[1:]
		if s.onEvent != nil {
			s.onEvent(s, ev)
		}
		if s.closed {
			return
		}
	}
}

// indexChanges keeps the directory in step with the contact mirror.
func (s *Session) indexChanges(changes []contacts.Change) {
	for _, ch := range changes {
		if ch.Contact == nil {
			continue
		}
		switch ch.Kind {
		case contacts.ChangeAdded, contacts.ChangeUpdated:
			s.directory.AddContact(ch.Contact)
			if ch.Contact.User == nil {
				ch.Contact.User = s.directory.FindRecord(ch.Contact.DN)
			}
		case contacts.ChangeRemoved:
			s.directory.RemoveContact(ch.Contact)
		}
	}
}

func (s *Session) linkContacts(u *contacts.UserRecord) {
	if s.contactList == nil || u == nil {
		return
	}
	for _, c := range s.contactList.FindContacts(u.DN) {
		c.User = u
	}
}

func (s *Session) ownDN() string {
	if s.record != nil {
		return s.record.DN
	}
	return s.fields.Text(schema.TagDN)
}

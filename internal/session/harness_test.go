package session

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/danmuck/groupwire/internal/contacts"
	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/protocol/field"
	"github.com/danmuck/groupwire/internal/protocol/frame"
	"github.com/danmuck/groupwire/internal/protocol/schema"
	"github.com/danmuck/groupwire/internal/transport"
)

const (
	aliceDN = "cn=alice,ou=eng,o=corp"
	bobDN   = "cn=bob,o=corp"
	carolDN = "cn=carol,o=corp"
	daveDN  = "cn=dave,o=corp"
)

// wire is an in-memory channel: the client writes requests into sent and
// reads frames queued in inbox.
type wire struct {
	inbox  bytes.Buffer
	sent   bytes.Buffer
	closed bool
}

func (w *wire) Read(p []byte) (int, error) {
	if w.inbox.Len() == 0 {
		return 0, io.EOF
	}
	return w.inbox.Read(p)
}

func (w *wire) Write(p []byte) (int, error) {
	return w.sent.Write(p)
}

func (w *wire) Close() error {
	w.closed = true
	return nil
}

// fakeServer scripts the server side of a session.
type fakeServer struct {
	t    *testing.T
	wire *wire
	conn *transport.Conn
	r    *bufio.Reader
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	w := &wire{}
	cfg := transport.DefaultConfig()
	cfg.Address = "gw.example.com"
	cfg.Port = 8300
	cfg.RetryDelay = time.Millisecond
	return &fakeServer{t: t, wire: w, conn: transport.NewConn(w, nil, cfg), r: bufio.NewReader(&w.sent)}
}

// next reads the next request the client wrote.
func (f *fakeServer) next() frame.Request {
	f.t.Helper()
	req, err := frame.ReadRequest(f.r, frame.DefaultLimits())
	if err != nil {
		f.t.Fatalf("read request: %v", err)
	}
	return req
}

// idle reports whether the client has written nothing unread.
func (f *fakeServer) idle() bool {
	return f.wire.sent.Len() == 0 && f.r.Buffered() == 0
}

func txnOf(t *testing.T, req frame.Request) string {
	t.Helper()
	tx := req.Fields.Text(schema.TagTransactionID)
	if tx == "" {
		t.Fatalf("request %s has no transaction id", req.Verb)
	}
	return tx
}

// reply queues a 200 response for req carrying code and extra fields.
func (f *fakeServer) reply(req frame.Request, code protocol.Code, extra ...field.Field) {
	f.t.Helper()
	fields := field.List{
		field.String(schema.TagTransactionID, txnOf(f.t, req)),
		field.String(schema.TagResultCode, strconv.FormatUint(uint64(code), 10)),
	}
	fields = append(fields, extra...)
	if err := frame.WriteResponse(&f.wire.inbox, frame.StatusOK, fields); err != nil {
		f.t.Fatalf("write response: %v", err)
	}
}

func (f *fakeServer) event(t schema.EventType, fields ...field.Field) {
	f.t.Helper()
	if err := frame.WriteEvent(&f.wire.inbox, uint32(t), field.List(fields)); err != nil {
		f.t.Fatalf("write event: %v", err)
	}
}

func (f *fakeServer) raw(s string) {
	f.wire.inbox.WriteString(s)
}

func contactItem(m field.Method, id, parent, dn, name string) field.Field {
	return field.Array(schema.TagContact,
		field.String(schema.TagObjectID, id),
		field.String(schema.TagParentID, parent),
		field.String(schema.TagSequence, "0"),
		field.DN(schema.TagDN, dn),
		field.String(schema.TagDisplayName, name),
	).With(m)
}

func folderItem(m field.Method, id, name string) field.Field {
	return field.Array(schema.TagFolder,
		field.String(schema.TagObjectID, id),
		field.String(schema.TagParentID, "0"),
		field.String(schema.TagSequence, "1"),
		field.String(schema.TagDisplayName, name),
	).With(m)
}

func loginReply() []field.Field {
	return []field.Field{
		field.DN(schema.TagDN, aliceDN),
		field.String(schema.TagUserID, "alice"),
		field.String(schema.TagFullName, "Alice Example"),
		field.Array(schema.TagContactList,
			folderItem(field.MethodValid, "5", "Friends"),
			contactItem(field.MethodValid, "11", "5", bobDN, "Bob"),
		),
	}
}

func details(dn, userID string) field.Field {
	return field.Array(schema.TagResults,
		field.DN(schema.TagDN, dn),
		field.String(schema.TagUserID, userID),
	)
}

func conv(guid string) field.Field {
	return field.Array(schema.TagConversation, field.String(schema.TagObjectID, guid))
}

// recorder captures callback invocations.
type recorder struct {
	calls []call
}

type call struct {
	code     protocol.Code
	data     any
	userData any
}

func (r *recorder) fn(_ *Session, code protocol.Code, data, userData any) {
	r.calls = append(r.calls, call{code: code, data: data, userData: userData})
}

// events captures delivered events.
type events struct {
	got []*Event
}

func (e *events) fn(_ *Session, ev *Event) {
	e.got = append(e.got, ev)
}

// process drains one frame and fails the test on error.
func process(t *testing.T, s *Session) {
	t.Helper()
	if err := s.ProcessNewData(); err != nil {
		t.Fatalf("process: %v", err)
	}
}

// loggedIn returns a Ready session for alice whose record for bob is
// cached.
func loggedIn(t *testing.T) (*Session, *fakeServer, *events) {
	t.Helper()
	srv := newFakeServer(t)
	evs := &events{}
	s := New(srv.conn, "alice", evs.fn)
	s.MarkConnected()
	if _, err := s.Login("secret", "", "groupwire/test", nil, nil); err != nil {
		t.Fatalf("login: %v", err)
	}
	srv.reply(srv.next(), protocol.OK, loginReply()...)
	process(t, s)
	if s.State() != StateReady {
		t.Fatalf("state=%s want ready", s.State())
	}
	if _, err := s.GetDetails(bobDN, nil, nil); err != nil {
		t.Fatalf("get details: %v", err)
	}
	srv.reply(srv.next(), protocol.OK, details(bobDN, "bob"))
	process(t, s)
	return s, srv, evs
}

func record(dn string) *contacts.UserRecord {
	return &contacts.UserRecord{DN: dn, DisplayID: contacts.TypedToDotted(dn)}
}

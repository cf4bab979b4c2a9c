// Package peer is an in-process GroupWise-style server. It speaks the same
// wire format as internal/transport and exists to exercise the client end to
// end.
package peer

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/groupwire/internal/auth"
	logs "github.com/danmuck/groupwire/internal/logging"
	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/protocol/field"
	"github.com/danmuck/groupwire/internal/protocol/frame"
	"github.com/danmuck/groupwire/internal/protocol/schema"
)

// tlsRecordHandshake is the first byte of a TLS client hello.
const tlsRecordHandshake = 0x16

// User is one account the peer serves.
type User struct {
	UserID   string
	DN       string
	FullName string
	// ContactList is returned in the login response.
	ContactList field.List
}

func (u User) detailFields() field.List {
	return field.List{
		field.DN(schema.TagDN, u.DN),
		field.String(schema.TagUserID, u.UserID),
		field.String(schema.TagFullName, u.FullName),
		field.String(schema.TagStatus, strconv.Itoa(int(schema.StatusAvailable))),
	}
}

type Config struct {
	Validator auth.Validator
	Users     []User
	// TLS, when set, lets clients upgrade on the same listener.
	TLS *tls.Config
	// RedirectPlaintext answers plaintext logins with 301 so the client
	// reconnects over TLS.
	RedirectPlaintext bool
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// Reply is what a handler answers. Status 0 means 200.
type Reply struct {
	Status int
	Code   protocol.Code
	Fields field.List
	// Close ends the connection after the reply is written.
	Close bool
}

// Handler answers one request.
type Handler func(c *Conn, req frame.Request) Reply

type Server struct {
	cfg Config

	mu          sync.Mutex
	handlers    map[string]Handler
	conns       map[*Conn]struct{}
	conferences map[string][]string
	requests    []frame.Request

	active atomic.Int64
}

func New(cfg Config) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:         cfg,
		handlers:    make(map[string]Handler),
		conns:       make(map[*Conn]struct{}),
		conferences: make(map[string][]string),
	}
	s.handlers[schema.VerbLogin] = s.handleLogin
	s.handlers[schema.VerbLogout] = handleLogout
	s.handlers[schema.VerbGetDetails] = s.handleGetDetails
	s.handlers[schema.VerbCreateConf] = s.handleCreateConf
	s.handlers[schema.VerbJoinConf] = s.handleJoinConf
	s.handlers[schema.VerbSendMessage] = s.handleSendMessage
	return s
}

// Handle installs h for verb, replacing the default.
func (s *Server) Handle(verb string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[verb] = h
}

// Requests returns every request the server has read, in order.
func (s *Server) Requests() []frame.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]frame.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Listen opens a TCP listener on addr.
func (s *Server) Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// Serve accepts connections until ctx ends or ln closes.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAll()
		_ = ln.Close()
	}()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(nc)
	}
}

// Push sends an event to every signed-in connection and returns how many
// received it.
func (s *Server) Push(t schema.EventType, fields field.List) int {
	n := 0
	for _, c := range s.snapshot() {
		if c.UserID() == "" {
			continue
		}
		if err := c.Push(t, fields); err != nil {
			logs.Warnf("peer.Push user=%s err=%v", c.UserID(), err)
			continue
		}
		n++
	}
	return n
}

// PushTo sends an event to the connections signed in as userID.
func (s *Server) PushTo(userID string, t schema.EventType, fields field.List) int {
	n := 0
	for _, c := range s.snapshot() {
		if !field.EqualFoldASCII(c.UserID(), userID) {
			continue
		}
		if err := c.Push(t, fields); err == nil {
			n++
		}
	}
	return n
}

// Connected reports how many connections are signed in as userID.
func (s *Server) Connected(userID string) int {
	n := 0
	for _, c := range s.snapshot() {
		if field.EqualFoldASCII(c.UserID(), userID) {
			n++
		}
	}
	return n
}

func (s *Server) snapshot() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) closeAll() {
	for _, c := range s.snapshot() {
		_ = c.nc.Close()
	}
}

// NewGUID returns a conference guid in the server's bracketed form.
func NewGUID() string {
	h := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "[" + h[0:8] + "-" + h[8:16] + "-" + h[16:24] + "-" + h[24:28] + "-" + h[28:32] + "]"
}

func (s *Server) findUser(name string) (User, bool) {
	for _, u := range s.cfg.Users {
		if field.EqualFoldASCII(u.UserID, name) || field.EqualFoldASCII(u.DN, name) {
			return u, true
		}
	}
	return User{}, false
}

// Conn is one client connection.
type Conn struct {
	server *Server
	nc     net.Conn
	r      *bufio.Reader
	secure bool

	wmu    sync.Mutex
	mu     sync.Mutex
	userID string
}

// sniffConn reads through the buffered reader that sniffed the first byte.
type sniffConn struct {
	net.Conn
	r *bufio.Reader
}

func (c sniffConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) setUser(id string) {
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

// Secure reports whether the connection negotiated TLS.
func (c *Conn) Secure() bool {
	return c.secure
}

// Push writes an event frame.
func (c *Conn) Push(t schema.EventType, fields field.List) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
	return frame.WriteEvent(c.nc, uint32(t), fields)
}

func (c *Conn) reply(req frame.Request, rep Reply) error {
	status := rep.Status
	if status == 0 {
		status = frame.StatusOK
	}
	fields := field.List{
		field.String(schema.TagResultCode, strconv.FormatUint(uint64(rep.Code), 10)),
	}
	if tx, ok := req.Fields.Find(schema.TagTransactionID); ok {
		fields = append(fields, tx)
	}
	fields = append(fields, rep.Fields...)
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
	return frame.WriteResponse(c.nc, status, fields)
}

func (s *Server) handleConn(nc net.Conn) {
	remote := nc.RemoteAddr().String()
	r := bufio.NewReader(nc)
	c := &Conn{server: s, nc: nc, r: r}
	if s.cfg.TLS != nil {
		_ = nc.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		if b, err := r.Peek(1); err == nil && b[0] == tlsRecordHandshake {
			tc := tls.Server(sniffConn{Conn: nc, r: r}, s.cfg.TLS)
			if err := tc.Handshake(); err != nil {
				logs.Warnf("peer.handleConn tls handshake remote=%s err=%v", remote, err)
				_ = nc.Close()
				return
			}
			c.nc = tc
			c.r = bufio.NewReader(tc)
			c.secure = true
		}
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	active := s.active.Add(1)
	logs.Infof("peer.handleConn connected remote=%s secure=%t active=%d", remote, c.secure, active)
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = c.nc.Close()
		remaining := s.active.Add(-1)
		logs.Infof("peer.handleConn disconnected remote=%s active=%d", remote, remaining)
	}()

	for {
		_ = c.nc.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		req, err := frame.ReadRequest(c.r, frame.DefaultLimits())
		if err != nil {
			logs.Debugf("peer.handleConn read remote=%s err=%v", remote, err)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		h := s.handlers[req.Verb]
		s.mu.Unlock()

		var rep Reply
		switch {
		case req.Verb == schema.VerbLogin && s.cfg.RedirectPlaintext && !c.secure:
			logs.Infof("peer.handleConn redirect plaintext login remote=%s", remote)
			rep = Reply{Status: frame.StatusRedirect, Close: true}
		case h != nil:
			rep = h(c, req)
		}
		logs.Debugf("peer.handleConn verb=%s code=%s", req.Verb, rep.Code)
		if err := c.reply(req, rep); err != nil {
			logs.Warnf("peer.handleConn write remote=%s err=%v", remote, err)
			return
		}
		if rep.Close {
			return
		}
	}
}

func (s *Server) handleLogin(c *Conn, req frame.Request) Reply {
	creds := auth.Credentials{
		UserID:   req.Fields.Text(schema.TagUserID),
		Password: req.Fields.Text(schema.TagCredentials),
	}
	if s.cfg.Validator != nil {
		if err := s.cfg.Validator.Validate(creds); err != nil {
			logs.Warnf("peer.login rejected user=%s err=%v", creds.UserID, err)
			if errors.Is(err, auth.ErrCredentialsMissing) {
				return Reply{Code: protocol.ErrCredentialsMissing}
			}
			return Reply{Code: protocol.ErrAuthenticationFailed}
		}
	}
	u, ok := s.findUser(creds.UserID)
	if !ok {
		return Reply{Code: protocol.ErrUserNotFound}
	}
	c.setUser(u.UserID)
	fields := u.detailFields()
	fields = append(fields, field.Array(schema.TagContactList, u.ContactList.Copy()...))
	return Reply{Fields: fields}
}

func handleLogout(c *Conn, _ frame.Request) Reply {
	c.setUser("")
	return Reply{Close: true}
}

func (s *Server) handleGetDetails(_ *Conn, req frame.Request) Reply {
	var out field.List
	for _, f := range req.Fields {
		if !field.EqualFoldASCII(f.Tag, schema.TagDN) && !field.EqualFoldASCII(f.Tag, schema.TagUserID) {
			continue
		}
		if u, ok := s.findUser(f.Text); ok {
			out = append(out, field.Array(schema.TagResults, u.detailFields()...))
		}
	}
	if len(out) == 0 {
		return Reply{Code: protocol.ErrUserNotFound}
	}
	return Reply{Fields: out}
}

func (s *Server) handleCreateConf(c *Conn, req frame.Request) Reply {
	guid := NewGUID()
	var dns []string
	for _, f := range req.Fields.All(schema.TagDN) {
		dns = append(dns, f.Text)
	}
	s.mu.Lock()
	s.conferences[guid] = dns
	s.mu.Unlock()
	logs.Debugf("peer.createconf user=%s guid=%s participants=%d", c.UserID(), guid, len(dns))
	return Reply{Fields: field.List{
		field.Array(schema.TagConversation, field.String(schema.TagObjectID, guid)),
	}}
}

func conversationOf(req frame.Request) string {
	conv, ok := req.Fields.Children(schema.TagConversation)
	if !ok {
		return ""
	}
	return conv.Text(schema.TagObjectID)
}

func (s *Server) handleJoinConf(_ *Conn, req frame.Request) Reply {
	s.mu.Lock()
	dns, ok := s.conferences[conversationOf(req)]
	s.mu.Unlock()
	if !ok {
		return Reply{Code: protocol.ErrObjectNotFound}
	}
	list := make(field.List, 0, len(dns))
	for _, dn := range dns {
		list = append(list, field.DN(schema.TagDN, dn))
	}
	return Reply{Fields: field.List{field.Array(schema.TagContactList, list...)}}
}

// handleSendMessage relays the message to every connected participant and
// tells the sender about the ones that are offline.
func (s *Server) handleSendMessage(c *Conn, req frame.Request) Reply {
	guid := conversationOf(req)
	msg, _ := req.Fields.Children(schema.TagMessage)
	sender, _ := s.findUser(c.UserID())
	for _, f := range req.Fields.All(schema.TagDN) {
		u, ok := s.findUser(f.Text)
		if !ok {
			continue
		}
		delivered := s.PushTo(u.UserID, schema.EventReceiveMessage, field.List{
			field.DN(schema.TagSource, sender.DN),
			field.Array(schema.TagConversation, field.String(schema.TagObjectID, guid)),
			field.String(schema.TagMessageText, msg.Text(schema.TagMessageText)),
			field.UDWord(schema.TagEventTime, uint32(time.Now().Unix())),
		})
		if delivered == 0 {
			if err := c.Push(schema.EventUndeliverableStatus, field.List{
				field.DN(schema.TagSource, u.DN),
				field.Array(schema.TagConversation, field.String(schema.TagObjectID, guid)),
			}); err != nil {
				logs.Warnf("peer.sendmessage undeliverable push err=%v", err)
			}
		}
	}
	return Reply{}
}

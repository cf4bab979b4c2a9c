package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/groupwire/internal/ledger"
	logs "github.com/danmuck/groupwire/internal/logging"
	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/protocol/field"
	"github.com/danmuck/groupwire/internal/protocol/frame"
	"github.com/danmuck/groupwire/internal/protocol/schema"
)

// ErrWouldBlock may be returned by an injected channel that has no data
// ready. ReadExact retries it like a read timeout.
var ErrWouldBlock = errors.New("transport: would block")

var ErrClosed = errors.New("transport: connection closed")

type deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Conn is one connection to the server. It is not safe for concurrent
// reads; WaitReadable may run on another goroutine only while no other read
// is in progress.
type Conn struct {
	cfg    Config
	plain  io.ReadWriteCloser
	secure io.ReadWriteCloser
	useSSL bool
	r      *bufio.Reader
	limits frame.Limits

	txn      int
	redirect bool

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps plain and, when non-nil, secure. Traffic flows through
// secure whenever it is set.
func NewConn(plain, secure io.ReadWriteCloser, cfg Config) *Conn {
	c := &Conn{
		cfg:    cfg.WithDefaults(),
		plain:  plain,
		secure: secure,
		useSSL: secure != nil,
		limits: frame.DefaultLimits(),
		closed: make(chan struct{}),
	}
	c.r = bufio.NewReader(readerFunc(c.rawRead))
	return c
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) {
	return f(p)
}

func (c *Conn) active() io.ReadWriteCloser {
	if c.useSSL {
		return c.secure
	}
	return c.plain
}

func (c *Conn) rawRead(p []byte) (int, error) {
	return c.active().Read(p)
}

// UseSSL reports whether traffic flows through the secure channel.
func (c *Conn) UseSSL() bool {
	return c.useSSL
}

// Redirected reports whether the server answered with a TLS redirect.
func (c *Conn) Redirected() bool {
	return c.redirect
}

func (c *Conn) Config() Config {
	return c.cfg
}

// LastTransactionID returns the most recently issued transaction id.
func (c *Conn) LastTransactionID() int {
	return c.txn
}

// Write writes p to the active channel.
func (c *Conn) Write(p []byte) (int, error) {
	if c.isClosed() {
		return 0, fmt.Errorf("%w: %v", protocol.ErrTCPWrite, ErrClosed)
	}
	if d, ok := c.active().(deadliner); ok && c.cfg.WriteTimeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	n, err := c.active().Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: %v", protocol.ErrTCPWrite, err)
	}
	return n, nil
}

// Read reads whatever is available from the active channel.
func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err != nil {
		return n, fmt.Errorf("%w: %v", protocol.ErrTCPRead, err)
	}
	return n, nil
}

// armRead sets the read deadline for one attempt. The first attempt gets
// ReadTimeout and retries get RetryDelay, so a stalled read gives up after
// ReadTimeout + RetryBudget*RetryDelay. It reports whether a deadline was set.
func (c *Conn) armRead(retry bool) bool {
	d, ok := c.active().(deadliner)
	if !ok {
		return false
	}
	wait := c.cfg.ReadTimeout
	if retry {
		wait = c.cfg.RetryDelay
	}
	if wait <= 0 {
		return false
	}
	_ = d.SetReadDeadline(time.Now().Add(wait))
	return true
}

// pause waits out RetryDelay on channels without deadlines.
func (c *Conn) pause(armed bool) {
	if !armed {
		time.Sleep(c.cfg.RetryDelay)
	}
}

func isWouldBlock(err error) bool {
	if errors.Is(err, ErrWouldBlock) || errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, syscall.EAGAIN) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ReadExact fills p. Would-block conditions are retried with a RetryDelay
// wait up to RetryBudget times; any other failure is immediately ErrTCPRead.
func (c *Conn) ReadExact(p []byte) error {
	got := 0
	retries := 0
	for got < len(p) {
		if c.isClosed() {
			return fmt.Errorf("%w: %v", protocol.ErrTCPRead, ErrClosed)
		}
		armed := c.armRead(retries > 0)
		n, err := c.r.Read(p[got:])
		got += n
		if err == nil {
			continue
		}
		if isWouldBlock(err) {
			retries++
			if retries > c.cfg.RetryBudget {
				logs.Warnf("transport.ReadExact retry budget exhausted want=%d got=%d", len(p), got)
				return fmt.Errorf("%w: retry budget exhausted after %d attempts", protocol.ErrTCPRead, c.cfg.RetryBudget)
			}
			c.pause(armed)
			continue
		}
		return fmt.Errorf("%w: %v", protocol.ErrTCPRead, err)
	}
	return nil
}

// ReadLine reads up to and including a newline, or max-1 bytes.
func (c *Conn) ReadLine(max int) (string, error) {
	if max < 2 {
		return "", protocol.ErrBadParameter
	}
	var b strings.Builder
	var one [1]byte
	for b.Len() < max-1 {
		if err := c.ReadExact(one[:]); err != nil {
			return "", err
		}
		b.WriteByte(one[0])
		if one[0] == '\n' {
			break
		}
	}
	return b.String(), nil
}

// ReadHeader consumes a response header through its blank line. A 301
// status flips the connection into redirect mode and returns
// ErrSSLRedirect; other non-2xx statuses are protocol errors.
func (c *Conn) ReadHeader() error {
	line, err := c.ReadLine(c.limits.MaxLineBytes)
	if err != nil {
		return err
	}
	status, err := frame.ParseStatusLine(line)
	if err != nil {
		return err
	}
	for i := 0; ; i++ {
		if i >= c.limits.MaxHeaderLines {
			return frame.ErrTooManyHeaders
		}
		h, err := c.ReadLine(c.limits.MaxLineBytes)
		if err != nil {
			return err
		}
		if strings.TrimRight(h, "\r\n") == "" {
			break
		}
	}
	switch {
	case status.Redirect():
		c.redirect = true
		logs.Infof("transport.ReadHeader redirect addr=%s", c.cfg.HostPort())
		return protocol.ErrSSLRedirect
	case !status.OK():
		return fmt.Errorf("%w: status %d", protocol.ErrProtocol, status.Code)
	}
	return nil
}

// SendRequest writes verb with a copy of fields plus a fresh transaction id
// and returns the matching request. Only login carries a Host header.
func (c *Conn) SendRequest(verb string, fields field.List) (*ledger.Request, error) {
	if verb == "" {
		return nil, protocol.ErrBadParameter
	}
	c.txn++
	id := c.txn
	req := frame.Request{
		Verb:   verb,
		Fields: fields.Append(field.String(schema.TagTransactionID, strconv.Itoa(id))),
	}
	if verb == schema.VerbLogin {
		req.Host = c.cfg.HostPort()
	}

	var buf bytes.Buffer
	if err := frame.WriteRequest(&buf, req); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrBadParameter, err)
	}
	if _, err := c.Write(buf.Bytes()); err != nil {
		logs.Errf("transport.SendRequest write failed verb=%s id=%d err=%v", verb, id, err)
		return nil, err
	}
	logs.Debugf("transport.SendRequest verb=%s id=%d bytes=%d", verb, id, buf.Len())
	return ledger.NewRequest(id, verb), nil
}

// ReadFields decodes up to max fields through the retrying reader.
func (c *Conn) ReadFields(max int) (field.List, error) {
	return field.Decode(c, max)
}

// WaitReadable blocks until at least one byte is buffered or the
// connection fails.
func (c *Conn) WaitReadable() error {
	if d, ok := c.active().(deadliner); ok {
		_ = d.SetReadDeadline(time.Time{})
	}
	if _, err := c.r.Peek(1); err != nil {
		if c.isClosed() {
			return fmt.Errorf("%w: %v", protocol.ErrTCPRead, ErrClosed)
		}
		return fmt.Errorf("%w: %v", protocol.ErrTCPRead, err)
	}
	return nil
}

// Peek4 returns the next four bytes without consuming them. A stream that
// ends first is a protocol error.
func (c *Conn) Peek4() ([]byte, error) {
	retries := 0
	for {
		armed := c.armRead(retries > 0)
		b, err := c.r.Peek(frame.EventHeaderLen)
		if err == nil {
			out := make([]byte, len(b))
			copy(out, b)
			return out, nil
		}
		switch {
		case isWouldBlock(err):
			retries++
			if retries > c.cfg.RetryBudget {
				return nil, fmt.Errorf("%w: retry budget exhausted", protocol.ErrTCPRead)
			}
			c.pause(armed)
		case errors.Is(err, io.EOF) || errors.Is(err, bufio.ErrBufferFull):
			return nil, fmt.Errorf("%w: short frame prefix (%d bytes)", protocol.ErrProtocol, len(b))
		default:
			return nil, fmt.Errorf("%w: %v", protocol.ErrTCPRead, err)
		}
	}
}

// ReadEventType consumes the little-endian event type prefix.
func (c *Conn) ReadEventType() (uint32, error) {
	var b [frame.EventHeaderLen]byte
	if err := c.ReadExact(b[:]); err != nil {
		return 0, err
	}
	return frame.DecodeEventHeader(b[:])
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close closes both channels. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.secure != nil {
			err = c.secure.Close()
		}
		if c.plain != nil {
			if perr := c.plain.Close(); perr != nil && err == nil && !errors.Is(perr, net.ErrClosed) {
				err = perr
			}
		}
	})
	return err
}

// Package client hosts a session over a real connection: it dials, signs in,
// follows the secure-connection redirect, and drives the session from a single
// loop goroutine.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	logs "github.com/danmuck/groupwire/internal/logging"
	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/session"
	"github.com/danmuck/groupwire/internal/transport"
)

var (
	ErrNotConnected   = errors.New("client: not connected")
	ErrNotRunning     = errors.New("client: loop not running")
	ErrUserRequired   = errors.New("client: user id required")
	ErrPasswordNeeded = errors.New("client: password required")
)

const DefaultUserAgent = "groupwire/1.0"

type Config struct {
	Transport transport.Config
	UserID    string
	Password  string
	UserAgent string
	ClientIP  string
	// MaxConnectAttempts bounds dial retries per Connect. Zero means one
	// attempt.
	MaxConnectAttempts int
	// OnEvent sees every session event after the client has handled it. It
	// runs on the loop goroutine.
	OnEvent session.EventFunc
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return ErrUserRequired
	}
	if c.Password == "" {
		return ErrPasswordNeeded
	}
	return c.Transport.Validate()
}

// Dialer opens a transport connection. transport.Dial is the default.
type Dialer func(ctx context.Context, cfg transport.Config) (*transport.Conn, error)

type Client struct {
	cfg  Config
	dial Dialer
	rng  *rand.Rand

	notices chan Notice
	ops     chan func(*session.Session)

	mu         sync.Mutex
	conn       *transport.Conn
	sess       *session.Session
	running    bool
	wantsToDie bool
}

func New(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	cfg.Transport = cfg.Transport.WithDefaults()
	return &Client{
		cfg:     cfg,
		dial:    transport.Dial,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		notices: make(chan Notice, noticeBuffer),
		ops:     make(chan func(*session.Session)),
	}
}

// SetDialer replaces the dial function. It must be called before Connect.
func (c *Client) SetDialer(d Dialer) {
	c.dial = d
}

// Notices delivers user-facing notices. Notices are dropped when nobody
// drains the channel.
func (c *Client) Notices() <-chan Notice {
	return c.notices
}

// WantsToDie reports whether the client should stay offline: the password
// was rejected or the account signed in elsewhere.
func (c *Client) WantsToDie() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wantsToDie
}

// Running reports whether Run is driving a session.
func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Secure reports whether the current connection uses TLS.
func (c *Client) Secure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.UseSSL()
}

func (c *Client) setWantsToDie() {
	c.mu.Lock()
	c.wantsToDie = true
	c.mu.Unlock()
}

func (c *Client) notify(kind NoticeKind, text string) {
	n := Notice{Kind: kind, Text: text}
	logs.Infof("client.notice kind=%s text=%q", kind, text)
	select {
	case c.notices <- n:
	default:
		logs.Warnf("client.notice dropped text=%q", text)
	}
}

// dialWithRetry dials until it succeeds, ctx ends, or MaxConnectAttempts is
// spent.
func (c *Client) dialWithRetry(ctx context.Context, cfg transport.Config) (*transport.Conn, error) {
	attempts := c.cfg.MaxConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := transport.NewBackoff(cfg.Backoff, c.rng)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := c.dial(ctx, cfg)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logs.Warnf("client.dial attempt=%d/%d addr=%s err=%v", attempt, attempts, cfg.HostPort(), err)
		if attempt == attempts {
			break
		}
		if err := backoff.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// Connect dials and signs in. A server that asks for a secure connection is
// redialed once over TLS. A rejected login is returned as its result code.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	cfg := c.cfg.Transport
	redirected := false
	for {
		conn, err := c.dialWithRetry(ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if cfg.TLS.Enabled {
				c.notify(NoticeError, textSSLFailed)
			} else {
				c.notify(NoticeError, textConnectFailed)
			}
			return err
		}

		sess := session.New(conn, c.cfg.UserID, c.handleEvent)
		sess.SetDisconnectFunc(c.handleDisconnect)
		sess.MarkConnected()
		code, err := c.login(ctx, conn, sess)
		switch {
		case errors.Is(err, protocol.ErrSSLRedirect) && !redirected:
			_ = sess.Close()
			redirected = true
			cfg.TLS.Enabled = true
			if err := cfg.Validate(); err != nil {
				c.notify(NoticeError, textSSLFailed)
				return fmt.Errorf("client: redirect to tls: %w", err)
			}
			logs.Infof("client.Connect redirected to tls addr=%s", cfg.HostPort())
			continue
		case err != nil:
			_ = sess.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.notify(NoticeError, textCommError)
			return err
		case code != protocol.OK:
			_ = sess.Close()
			if protocol.IsCredentialFailure(code) {
				c.setWantsToDie()
			}
			c.notify(NoticeFatal, loginFailed(code))
			return code
		}

		c.mu.Lock()
		c.conn = conn
		c.sess = sess
		c.mu.Unlock()
		logs.Infof("client.Connect ready user=%s secure=%t", c.cfg.UserID, conn.UseSSL())
		return nil
	}
}

// login sends the login verb and pumps frames until it completes.
func (c *Client) login(ctx context.Context, conn *transport.Conn, sess *session.Session) (protocol.Code, error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	done := false
	result := protocol.ErrProtocol
	_, err := sess.Login(c.cfg.Password, c.cfg.ClientIP, c.cfg.UserAgent, func(_ *session.Session, code protocol.Code, _, _ any) {
		done = true
		result = code
	}, nil)
	if err != nil {
		return result, err
	}
	for !done {
		if err := conn.WaitReadable(); err != nil {
			return result, err
		}
		if err := sess.ProcessNewData(); err != nil {
			return result, err
		}
		if sess.Closed() {
			return result, session.ErrClosed
		}
	}
	return result, nil
}

// Run drives the connected session until ctx ends or the connection goes
// away. Reads happen on a helper goroutine one frame at a time; every
// session call happens on the goroutine running Run.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	conn, sess := c.conn, c.sess
	if sess == nil || c.running {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.sess = nil
		c.conn = nil
		c.mu.Unlock()
	}()

	readable := make(chan error, 1)
	resume := make(chan struct{})
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		for {
			err := conn.WaitReadable()
			select {
			case readable <- err:
			case <-quit:
				return
			}
			if err != nil {
				return
			}
			select {
			case <-resume:
			case <-quit:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = sess.Close()
			return ctx.Err()

		case op := <-c.ops:
			op(sess)
			if sess.Closed() {
				return nil
			}

		case err := <-readable:
			if err != nil {
				if sess.Closed() {
					return nil
				}
				return sess.Abort(err)
			}
			err = sess.ProcessNewData()
			if sess.Closed() {
				return err
			}
			if err != nil {
				logs.Warnf("client.Run process err=%v", err)
			}
			resume <- struct{}{}
		}
	}
}

// Do runs fn on the loop goroutine with the live session.
func (c *Client) Do(ctx context.Context, fn func(*session.Session)) error {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	select {
	case c.ops <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve connects and runs until ctx ends or the client wants to stay
// offline, reconnecting with backoff in between.
func (c *Client) Serve(ctx context.Context) error {
	backoff := transport.NewBackoff(c.cfg.Transport.Backoff, c.rng)
	for {
		err := c.Connect(ctx)
		if err == nil {
			backoff.Reset()
			err = c.Run(ctx)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.WantsToDie() {
			return err
		}
		logs.Infof("client.Serve reconnect attempt=%d err=%v", backoff.Attempt()+1, err)
		if err := backoff.Wait(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) handleDisconnect(s *session.Session, err error) {
	n := disconnectNotice(err)
	if n.Kind == NoticeFatal || s.NoReconnect() {
		c.setWantsToDie()
	}
	c.notify(n.Kind, n.Text)
}

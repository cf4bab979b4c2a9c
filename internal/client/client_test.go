package client

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/groupwire/internal/auth"
	"github.com/danmuck/groupwire/internal/peer"
	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/protocol/frame"
	"github.com/danmuck/groupwire/internal/protocol/schema"
	"github.com/danmuck/groupwire/internal/session"
	"github.com/danmuck/groupwire/internal/testutil/testlog"
	"github.com/danmuck/groupwire/internal/testutil/tlstest"
	"github.com/danmuck/groupwire/internal/transport"
)

var users = []peer.User{
	{UserID: "alice", DN: "cn=alice,o=corp", FullName: "Alice"},
	{UserID: "bob", DN: "cn=bob,o=corp", FullName: "Bob"},
	{UserID: "carol", DN: "cn=carol,o=corp", FullName: "Carol"},
}

func startPeer(t *testing.T, cfg peer.Config) (*peer.Server, transport.Config) {
	t.Helper()
	cfg.Validator = auth.StaticUsers{"alice": "secret", "bob": "hunter2", "carol": "pw"}
	cfg.Users = users
	srv := peer.New(cfg)
	ln, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	_, portText, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)
	tc := transport.DefaultConfig()
	tc.Address = "127.0.0.1"
	tc.Port = port
	tc.RetryDelay = time.Millisecond
	tc.Backoff.InitialDelay = time.Millisecond
	tc.Backoff.Jitter = false
	return srv, tc
}

func newClient(tc transport.Config, user, password string, onEvent session.EventFunc) *Client {
	return New(Config{
		Transport: tc,
		UserID:    user,
		Password:  password,
		OnEvent:   onEvent,
	})
}

func connect(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
}

// run starts the loop and waits until it accepts work.
func run(t *testing.T, c *Client) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		done <- c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Errorf("Run did not stop")
		}
	})
	require.Eventually(t, c.Running, 5*time.Second, 5*time.Millisecond)
	return done
}

func waitNotice(t *testing.T, c *Client, text string) Notice {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n := <-c.Notices():
			if n.Text == text {
				return n
			}
			t.Logf("skipping notice %q", n.Text)
		case <-timeout:
			t.Fatalf("notice %q not delivered", text)
		}
	}
}

func TestConnectRejectedPasswordWantsToDie(t *testing.T) {
	testlog.Start(t)
	_, tc := startPeer(t, peer.Config{})
	c := newClient(tc, "alice", "wrong", nil)

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, protocol.ErrAuthenticationFailed)
	require.True(t, c.WantsToDie())
	n := waitNotice(t, c, "Login failed (Authentication failed).")
	require.Equal(t, NoticeFatal, n.Kind)
	require.ErrorIs(t, c.Run(context.Background()), ErrNotConnected)
}

func TestConnectValidatesConfig(t *testing.T) {
	testlog.Start(t)
	_, tc := startPeer(t, peer.Config{})
	require.ErrorIs(t, newClient(tc, "", "secret", nil).Connect(context.Background()), ErrUserRequired)
	require.ErrorIs(t, newClient(tc, "alice", "", nil).Connect(context.Background()), ErrPasswordNeeded)
}

func TestConnectFollowsRedirectToTLS(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "groupwire-client-ca")
	_, tc := startPeer(t, peer.Config{
		TLS:               ca.ServerConfig(t, dir, "localhost"),
		RedirectPlaintext: true,
	})
	tc.TLS = transport.TLSConfig{CAFile: ca.CAFile(), ServerName: "localhost"}

	c := newClient(tc, "alice", "secret", nil)
	connect(t, c)
	require.True(t, c.Secure())
	require.False(t, c.WantsToDie())
}

func TestConnectRetriesDial(t *testing.T) {
	testlog.Start(t)
	c := New(Config{
		Transport:          transport.Config{Address: "127.0.0.1", Port: 1, Backoff: transport.BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}},
		UserID:             "alice",
		Password:           "secret",
		MaxConnectAttempts: 3,
	})
	var calls atomic.Int32
	refused := errors.New("refused")
	c.SetDialer(func(context.Context, transport.Config) (*transport.Conn, error) {
		calls.Add(1)
		return nil, refused
	})

	require.ErrorIs(t, c.Connect(context.Background()), refused)
	require.Equal(t, int32(3), calls.Load())
	waitNotice(t, c, "Unable to connect to server.")
	require.False(t, c.WantsToDie())
}

func TestDoRequiresRunningLoop(t *testing.T) {
	testlog.Start(t)
	_, tc := startPeer(t, peer.Config{})
	c := newClient(tc, "alice", "secret", nil)
	connect(t, c)
	require.ErrorIs(t, c.Do(context.Background(), func(*session.Session) {}), ErrNotRunning)
}

func TestSendIMReachesOtherClient(t *testing.T) {
	testlog.Start(t)
	_, tc := startPeer(t, peer.Config{})

	got := make(chan *session.Event, 4)
	bob := newClient(tc, "bob", "hunter2", func(_ *session.Session, ev *session.Event) {
		if ev.Type == schema.EventReceiveMessage {
			got <- ev
		}
	})
	connect(t, bob)
	run(t, bob)

	alice := newClient(tc, "alice", "secret", nil)
	connect(t, alice)
	run(t, alice)

	require.NoError(t, alice.SendIM(context.Background(), "bob", "hello"))
	select {
	case ev := <-got:
		require.Equal(t, "hello", ev.Text)
		require.NotNil(t, ev.User)
		require.Equal(t, "alice", ev.User.UserID)
		require.True(t, ev.Conference.IsInstantiated())
	case <-time.After(5 * time.Second):
		t.Fatalf("bob never received the message")
	}

	// A second message reuses the conversation.
	require.NoError(t, alice.SendIM(context.Background(), "bob", "again"))
	select {
	case ev := <-got:
		require.Equal(t, "again", ev.Text)
	case <-time.After(5 * time.Second):
		t.Fatalf("bob never received the second message")
	}

	confs := make(chan int, 1)
	require.NoError(t, alice.Do(context.Background(), func(s *session.Session) {
		confs <- s.Conferences().Len()
	}))
	require.Equal(t, 1, <-confs)
}

func TestSendIMToOfflineUserNotifies(t *testing.T) {
	testlog.Start(t)
	_, tc := startPeer(t, peer.Config{})
	alice := newClient(tc, "alice", "secret", nil)
	connect(t, alice)
	run(t, alice)

	require.NoError(t, alice.SendIM(context.Background(), "carol", "are you there"))
	n := waitNotice(t, alice, "Carol appears to be offline and did not receive the message that you just sent.")
	require.Equal(t, NoticeInfo, n.Kind)
}

func TestSendIMUnknownUserNotifies(t *testing.T) {
	testlog.Start(t)
	_, tc := startPeer(t, peer.Config{})
	alice := newClient(tc, "alice", "secret", nil)
	connect(t, alice)
	run(t, alice)

	require.NoError(t, alice.SendIM(context.Background(), "mallory", "hi"))
	waitNotice(t, alice, "Unable to send message. Could not get details for user (User not found).")
}

func TestLoggedInElsewhereStopsClient(t *testing.T) {
	testlog.Start(t)
	srv, tc := startPeer(t, peer.Config{})
	alice := newClient(tc, "alice", "secret", nil)
	connect(t, alice)
	done := run(t, alice)
	require.Eventually(t, func() bool { return srv.Connected("alice") == 1 }, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, srv.PushTo("alice", schema.EventUserDisconnect, nil))
	select {
	case err := <-done:
		require.ErrorIs(t, err, session.ErrLoggedInElsewhere)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
	}
	require.True(t, alice.WantsToDie())
	n := waitNotice(t, alice, "You have been logged out because you logged in at another workstation.")
	require.Equal(t, NoticeFatal, n.Kind)
}

func TestLogoutEndsRun(t *testing.T) {
	testlog.Start(t)
	_, tc := startPeer(t, peer.Config{})
	alice := newClient(tc, "alice", "secret", nil)
	connect(t, alice)
	done := run(t, alice)

	require.NoError(t, alice.Logout(context.Background()))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after logout")
	}
	require.False(t, alice.Running())
	require.False(t, alice.WantsToDie())
}

func TestServeStopsWhenClientWantsToDie(t *testing.T) {
	testlog.Start(t)
	_, tc := startPeer(t, peer.Config{})
	c := newClient(tc, "alice", "wrong", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.ErrorIs(t, c.Serve(ctx), protocol.ErrAuthenticationFailed)
}

func TestDisconnectNotice(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, NoticeFatal, disconnectNotice(session.ErrLoggedInElsewhere).Kind)
	require.Equal(t, textServerClosed, disconnectNotice(session.ErrServerShutdown).Text)
	require.Equal(t, textCommError, disconnectNotice(protocol.ErrTCPRead).Text)
	require.Equal(t, "fatal", NoticeFatal.String())
}

func TestNoticeTextCarriesServerReasonOnly(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		loginFailed(protocol.ErrAuthenticationFailed):       "Login failed (Authentication failed).",
		detailsFailed(protocol.ErrUserNotFound):             "Unable to send message. Could not get details for user (User not found).",
		userDetailsFailed("bob", protocol.ErrUserNotFound):  "Could not get details for user bob (User not found).",
		buddyAddFailed("bob", protocol.ErrDuplicateContact): "Unable to add bob to your buddy list (Duplicate contact).",
		sendFailed(protocol.ErrBadParameter):                "Unable to send message (Required parameters not passed in).",
		createConfFailed("Bob", protocol.ErrUserNotFound):   "Unable to send message to Bob. Could not create the conference (User not found).",
		inviteFailed(protocol.ErrUserNotFound):              "Unable to invite user (User not found).",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("notice text %q, want %q", got, want)
		}
	}
}

func TestSendIMWaitReportsResult(t *testing.T) {
	testlog.Start(t)
	_, tc := startPeer(t, peer.Config{})
	alice := newClient(tc, "alice", "secret", nil)
	connect(t, alice)
	run(t, alice)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, alice.SendIMWait(ctx, "bob", "hi"))
	require.ErrorIs(t, alice.SendIMWait(ctx, "mallory", "hi"), protocol.ErrUserNotFound)
}

func TestAddBuddyFailureNotifies(t *testing.T) {
	testlog.Start(t)
	srv, tc := startPeer(t, peer.Config{})
	srv.Handle(schema.VerbCreateContact, func(_ *peer.Conn, _ frame.Request) peer.Reply {
		return peer.Reply{Code: protocol.ErrDuplicateContact}
	})
	alice := newClient(tc, "alice", "secret", nil)
	connect(t, alice)
	run(t, alice)

	require.NoError(t, alice.AddBuddy(context.Background(), "bob", ""))
	waitNotice(t, alice, "Unable to add bob to your buddy list (Duplicate contact).")
}

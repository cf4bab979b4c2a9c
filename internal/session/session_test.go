package session

import (
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/groupwire/internal/conference"
	"github.com/danmuck/groupwire/internal/contacts"
	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/protocol/field"
	"github.com/danmuck/groupwire/internal/protocol/frame"
	"github.com/danmuck/groupwire/internal/protocol/schema"
	"github.com/danmuck/groupwire/internal/testutil/testlog"
)

func TestLoginSuccessBuildsSessionState(t *testing.T) {
	testlog.Start(t)
	srv := newFakeServer(t)
	s := New(srv.conn, "alice", nil)
	require.Equal(t, StateConnecting, s.State())
	s.MarkConnected()
	require.Equal(t, StateAuthenticating, s.State())

	rec := &recorder{}
	if _, err := s.Login("secret", "10.0.0.7", "groupwire/test", rec.fn, "ctx"); err != nil {
		t.Fatalf("login: %v", err)
	}
	req := srv.next()
	require.Equal(t, schema.VerbLogin, req.Verb)
	require.Equal(t, "gw.example.com:8300", req.Host)
	require.Equal(t, "alice", req.Fields.Text(schema.TagUserID))
	require.Equal(t, "secret", req.Fields.Text(schema.TagCredentials))
	require.Equal(t, "10.0.0.7", req.Fields.Text(schema.TagIPAddress))
	build, ok := req.Fields.Int(schema.TagBuild)
	require.True(t, ok)
	require.Equal(t, schema.ProtocolBuild, build)
	require.Equal(t, 1, s.Pending())

	srv.reply(req, protocol.OK, loginReply()...)
	process(t, s)

	require.Len(t, rec.calls, 1)
	require.Equal(t, protocol.OK, rec.calls[0].code)
	require.Equal(t, "ctx", rec.calls[0].userData)
	require.Equal(t, StateReady, s.State())
	require.Equal(t, 0, s.Pending())
	require.Equal(t, aliceDN, s.UserRecord().DN)
	require.Equal(t, "Alice Example", s.UserRecord().FullName)
	require.NotNil(t, s.FindUserRecord("ALICE"))
	require.Equal(t, aliceDN, s.LoginFields().Text(schema.TagDN))

	bob := s.FindContact(bobDN)
	require.NotNil(t, bob)
	require.Equal(t, 5, bob.ParentID)
	require.NotNil(t, s.Contacts().FolderByName("Friends"))
}

func TestLoginRejectedLeavesSessionDisconnected(t *testing.T) {
	testlog.Start(t)
	srv := newFakeServer(t)
	s := New(srv.conn, "alice", nil)
	s.MarkConnected()
	disconnects := 0
	s.SetDisconnectFunc(func(*Session, error) { disconnects++ })

	rec := &recorder{}
	if _, err := s.Login("wrong", "", "groupwire/test", rec.fn, nil); err != nil {
		t.Fatalf("login: %v", err)
	}
	srv.reply(srv.next(), protocol.ErrAuthenticationFailed)
	process(t, s)

	require.Len(t, rec.calls, 1)
	require.Equal(t, protocol.ErrAuthenticationFailed, rec.calls[0].code)
	require.True(t, protocol.IsCredentialFailure(rec.calls[0].code))
	require.Equal(t, StateDisconnected, s.State())
	require.False(t, s.NoReconnect())
	require.Zero(t, disconnects)
	require.Nil(t, s.Contacts())
}

func TestBadParametersNeverReachTheWire(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)
	before := s.Pending()

	cases := map[string]func() error{
		"login":         func() error { _, err := s.Login("", "", "ua", nil, nil); return err },
		"status":        func() error { _, err := s.SetStatus(schema.StatusInvalid, "", "", nil, nil); return err },
		"details":       func() error { _, err := s.GetDetails("", nil, nil); return err },
		"details many":  func() error { _, err := s.GetDetailsMany(nil, nil, nil); return err },
		"createconf":    func() error { _, err := s.CreateConference(nil, nil, nil); return err },
		"join":          func() error { _, err := s.JoinConference(nil, nil, nil); return err },
		"leave":         func() error { _, err := s.LeaveConference(nil, nil, nil); return err },
		"reject":        func() error { _, err := s.RejectConference(nil, nil, nil); return err },
		"invite":        func() error { _, err := s.SendInvite(nil, nil, "", nil, nil); return err },
		"message":       func() error { _, err := s.SendMessage(nil, nil); return err },
		"deliver":       func() error { _, err := s.DeliverMessage(nil, nil); return err },
		"typing":        func() error { _, err := s.SendTyping(nil, true, nil, nil); return err },
		"createcontact": func() error { _, err := s.CreateContact(nil, nil, nil, nil); return err },
		"removecontact": func() error { _, err := s.RemoveContact(nil, nil, nil, nil); return err },
		"createfolder":  func() error { _, err := s.CreateFolder("", nil, nil); return err },
		"removefolder":  func() error { _, err := s.RemoveFolder(s.Contacts().Root, nil, nil); return err },
		"renamecontact": func() error { _, err := s.RenameContact(nil, "x", nil, nil); return err },
		"renamefolder":  func() error { _, err := s.RenameFolder(nil, "x", nil, nil); return err },
		"move":          func() error { _, err := s.MoveContact(nil, nil, nil, nil); return err },
		"status of":     func() error { _, err := s.GetStatus(nil, nil, nil); return err },
	}
	for name, fn := range cases {
		err := fn()
		if !errors.Is(err, protocol.ErrBadParameter) {
			t.Fatalf("%s: err=%v want bad parameter", name, err)
		}
	}
	require.True(t, srv.idle())
	require.Equal(t, before, s.Pending())
}

func TestLocalPreconditionsNeverReachTheWire(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)

	conf := conference.New("")
	msg := conference.NewMessage(conf, "hi")
	_, err := s.SendMessage(msg, nil)
	require.ErrorIs(t, err, protocol.ErrConferenceNotInstantiated)
	_, err = s.SendTyping(conf, true, nil, nil)
	require.ErrorIs(t, err, protocol.ErrConferenceNotInstantiated)

	folder := s.Contacts().FolderByName("Friends")
	_, err = s.RenameFolder(folder, "friends", nil, nil)
	require.ErrorIs(t, err, protocol.ErrFolderExists)
	require.Equal(t, "Friends", folder.Name)

	require.True(t, srv.idle())
}

func TestDeliverMessageCreatesConferenceFirst(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)

	conf := conference.New("")
	conf.AddParticipant(s.FindUserRecord(bobDN))
	msg := conference.NewMessage(conf, "hello bob")
	rec := &recorder{}
	if _, err := s.DeliverMessage(msg, rec.fn); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	create := srv.next()
	require.Equal(t, schema.VerbCreateConf, create.Verb)
	cv, ok := create.Fields.Children(schema.TagConversation)
	require.True(t, ok)
	require.Equal(t, schema.BlankGUID, cv.Text(schema.TagObjectID))
	var dns []string
	for _, f := range create.Fields.All(schema.TagDN) {
		dns = append(dns, f.Text)
	}
	if diff := cmp.Diff([]string{bobDN, aliceDN}, dns); diff != "" {
		t.Fatalf("createconf participants (-want +got):\n%s", diff)
	}

	const guid = "[8E3F1A22-00000001-00000002-0003-0004]"
	srv.reply(create, protocol.OK, conv(guid))
	process(t, s)
	require.Empty(t, rec.calls)
	require.Equal(t, guid, conf.GUID)
	require.Same(t, conf, s.Conferences().Find(guid))

	send := srv.next()
	require.Equal(t, schema.VerbSendMessage, send.Verb)
	cv, _ = send.Fields.Children(schema.TagConversation)
	require.Equal(t, guid, cv.Text(schema.TagObjectID))
	body, ok := send.Fields.Children(schema.TagMessage)
	require.True(t, ok)
	require.Equal(t, "hello bob", body.Text(schema.TagMessageText))
	require.Equal(t, schema.RTF("hello bob"), body.Text(schema.TagMessageBody))
	require.Equal(t, bobDN, send.Fields.Text(schema.TagDN))

	srv.reply(send, protocol.OK)
	process(t, s)
	require.Len(t, rec.calls, 1)
	require.Equal(t, protocol.OK, rec.calls[0].code)
	require.Same(t, msg, rec.calls[0].userData)
	require.Equal(t, 0, s.Pending())
}

func TestDeliverMessageReportsFailedCreate(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)

	conf := conference.New("")
	conf.AddParticipant(s.FindUserRecord(bobDN))
	msg := conference.NewMessage(conf, "hi")
	rec := &recorder{}
	_, err := s.DeliverMessage(msg, rec.fn)
	require.NoError(t, err)
	srv.reply(srv.next(), protocol.ErrUserNotFound)
	process(t, s)

	require.Len(t, rec.calls, 1)
	require.Equal(t, protocol.ErrUserNotFound, rec.calls[0].code)
	require.Same(t, conf, rec.calls[0].data)
	require.Same(t, msg, rec.calls[0].userData)
	require.True(t, srv.idle())
	require.Zero(t, s.Conferences().Len())
}

func TestRedirectSignalsWithoutDecoding(t *testing.T) {
	testlog.Start(t)
	srv := newFakeServer(t)
	s := New(srv.conn, "alice", nil)
	s.MarkConnected()
	disconnects := 0
	s.SetDisconnectFunc(func(*Session, error) { disconnects++ })
	_, err := s.Login("secret", "", "groupwire/test", nil, nil)
	require.NoError(t, err)
	srv.next()

	if err := frame.WriteResponse(&srv.wire.inbox, frame.StatusRedirect, nil); err != nil {
		t.Fatalf("write redirect: %v", err)
	}
	err = s.ProcessNewData()
	require.ErrorIs(t, err, protocol.ErrSSLRedirect)
	require.True(t, srv.conn.Redirected())
	require.Equal(t, StateAuthenticating, s.State())
	require.Zero(t, disconnects)
	require.Zero(t, srv.wire.inbox.Len())
}

func TestJoinCompletesAfterEveryLookupInAnyOrder(t *testing.T) {
	for _, order := range [][]int{{0, 1}, {1, 0}} {
		t.Run(strconv.Itoa(order[0])+strconv.Itoa(order[1]), func(t *testing.T) {
			testlog.Start(t)
			s, srv, _ := loggedIn(t)
			conf := conference.New("[JOIN-0001]")
			rec := &recorder{}
			_, err := s.JoinConference(conf, rec.fn, "join")
			require.NoError(t, err)

			join := srv.next()
			require.Equal(t, schema.VerbJoinConf, join.Verb)
			srv.reply(join, protocol.OK, field.Array(schema.TagContactList,
				field.DN(schema.TagDN, aliceDN),
				field.DN(schema.TagDN, bobDN),
				field.DN(schema.TagDN, carolDN),
				field.DN(schema.TagDN, daveDN),
			))
			process(t, s)
			require.Empty(t, rec.calls)
			require.Equal(t, 1, conf.ParticipantCount())

			lookups := []struct {
				req frame.Request
				dn  string
			}{}
			for range 2 {
				req := srv.next()
				require.Equal(t, schema.VerbGetDetails, req.Verb)
				lookups = append(lookups, struct {
					req frame.Request
					dn  string
				}{req, req.Fields.Text(schema.TagDN)})
			}
			require.ElementsMatch(t, []string{carolDN, daveDN}, []string{lookups[0].dn, lookups[1].dn})

			first, second := lookups[order[0]], lookups[order[1]]
			srv.reply(first.req, protocol.OK, details(first.dn, "u1"))
			process(t, s)
			require.Empty(t, rec.calls)

			srv.reply(second.req, protocol.OK, details(second.dn, "u2"))
			process(t, s)
			require.Len(t, rec.calls, 1)
			require.Equal(t, protocol.OK, rec.calls[0].code)
			require.Same(t, conf, rec.calls[0].data)
			require.Equal(t, "join", rec.calls[0].userData)
			require.Equal(t, 3, conf.ParticipantCount())
			require.False(t, conf.HasParticipant(aliceDN))
			require.Equal(t, 0, s.Pending())
		})
	}
}

func TestJoinReportsFailedLookupAfterFanIn(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)
	conf := conference.New("[JOIN-0002]")
	rec := &recorder{}
	_, err := s.JoinConference(conf, rec.fn, nil)
	require.NoError(t, err)

	srv.reply(srv.next(), protocol.OK, field.Array(schema.TagContactList,
		field.DN(schema.TagDN, carolDN),
		field.DN(schema.TagDN, daveDN),
	))
	process(t, s)

	byDN := map[string]frame.Request{}
	for range 2 {
		req := srv.next()
		byDN[req.Fields.Text(schema.TagDN)] = req
	}
	srv.reply(byDN[carolDN], protocol.ErrUserNotFound)
	process(t, s)
	require.Empty(t, rec.calls)

	srv.reply(byDN[daveDN], protocol.OK, details(daveDN, "dave"))
	process(t, s)
	require.Len(t, rec.calls, 1)
	require.Equal(t, protocol.ErrUserNotFound, rec.calls[0].code)
	require.True(t, conf.HasParticipant(daveDN))
	require.False(t, conf.HasParticipant(carolDN))
	require.Equal(t, 0, s.Pending())
}

func TestEventWithMissingFieldIsProtocolError(t *testing.T) {
	testlog.Start(t)
	s, srv, evs := loggedIn(t)
	var reported []error
	s.SetDisconnectFunc(func(_ *Session, err error) { reported = append(reported, err) })
	_, err := s.GetStatus(s.FindUserRecord(bobDN), nil, nil)
	require.NoError(t, err)
	srv.next()

	srv.event(schema.EventReceiveMessage, field.DN(schema.TagSource, bobDN), conv("[G-1]"))
	err = s.ProcessNewData()
	require.ErrorIs(t, err, protocol.ErrProtocol)
	require.True(t, protocol.IsDisconnect(err))
	require.Equal(t, StateDisconnected, s.State())
	require.Len(t, reported, 1)
	require.Empty(t, evs.got)
	require.Equal(t, 0, s.Pending())
	require.True(t, srv.wire.closed)

	require.ErrorIs(t, s.ProcessNewData(), ErrClosed)
	require.Len(t, reported, 1)
}

func TestUserDisconnectStopsReconnects(t *testing.T) {
	testlog.Start(t)
	s, srv, evs := loggedIn(t)
	var reported []error
	s.SetDisconnectFunc(func(_ *Session, err error) { reported = append(reported, err) })

	srv.event(schema.EventUserDisconnect)
	err := s.ProcessNewData()
	require.ErrorIs(t, err, ErrLoggedInElsewhere)
	require.True(t, s.NoReconnect())
	require.Equal(t, StateDisconnected, s.State())
	require.Len(t, reported, 1)
	require.Len(t, evs.got, 1)
	require.Equal(t, schema.EventUserDisconnect, evs.got[0].Type)
}

func TestServerDisconnectAllowsReconnect(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)
	var reported []error
	s.SetDisconnectFunc(func(_ *Session, err error) { reported = append(reported, err) })

	srv.event(schema.EventServerDisconnect)
	require.ErrorIs(t, s.ProcessNewData(), ErrServerShutdown)
	require.False(t, s.NoReconnect())
	require.Len(t, reported, 1)
}

func TestMessageFromUnknownSourceWaitsForDetails(t *testing.T) {
	testlog.Start(t)
	s, srv, evs := loggedIn(t)
	const guid = "[G-CAROL]"

	srv.event(schema.EventReceiveMessage,
		field.DN(schema.TagSource, carolDN),
		conv(guid),
		field.String(schema.TagMessageText, "ping"),
	)
	process(t, s)
	require.Empty(t, evs.got)

	// A later event from a known user waits behind the first.
	srv.event(schema.EventUserTyping, field.DN(schema.TagSource, bobDN), conv(guid))
	process(t, s)
	require.Empty(t, evs.got)

	lookup := srv.next()
	require.Equal(t, schema.VerbGetDetails, lookup.Verb)
	require.Equal(t, carolDN, lookup.Fields.Text(schema.TagDN))
	srv.reply(lookup, protocol.OK, details(carolDN, "carol"))
	process(t, s)

	require.Len(t, evs.got, 2)
	msg := evs.got[0]
	require.Equal(t, schema.EventReceiveMessage, msg.Type)
	require.Equal(t, "ping", msg.Text)
	require.NotNil(t, msg.User)
	require.Equal(t, "carol", msg.User.UserID)
	require.Same(t, s.Conferences().Find(guid), msg.Conference)
	require.True(t, msg.Conference.HasParticipant(carolDN))
	require.Equal(t, schema.EventUserTyping, evs.got[1].Type)
	require.True(t, evs.got[1].Typing)
}

func TestStatusChangeUsesEventTime(t *testing.T) {
	testlog.Start(t)
	s, srv, evs := loggedIn(t)
	at := time.Unix(1700000000, 0)

	srv.event(schema.EventStatusChange,
		field.DN(schema.TagSource, bobDN),
		field.String(schema.TagStatus, strconv.Itoa(int(schema.StatusBusy))),
		field.String(schema.TagStatusText, "in a meeting"),
		field.UDWord(schema.TagEventTime, uint32(at.Unix())),
	)
	process(t, s)

	bob := s.FindUserRecord(bobDN)
	require.Equal(t, schema.StatusBusy, bob.Status)
	require.Equal(t, "in a meeting", bob.StatusText)
	require.True(t, bob.StatusTime.Equal(at))
	require.Same(t, bob, s.FindContact(bobDN).User)
	require.Len(t, evs.got, 1)
	require.Same(t, bob, evs.got[0].User)
}

func TestUnknownEventIsIgnored(t *testing.T) {
	testlog.Start(t)
	s, srv, evs := loggedIn(t)
	srv.event(schema.EventType(999), field.String(schema.TagSource, "x"))
	process(t, s)
	require.Empty(t, evs.got)
	require.Equal(t, StateReady, s.State())
}

func TestConferenceLifecycleEvents(t *testing.T) {
	testlog.Start(t)
	s, srv, evs := loggedIn(t)
	const guid = "[G-LIFE]"

	srv.event(schema.EventConferenceJoined, field.DN(schema.TagSource, bobDN), conv(guid))
	process(t, s)
	conf := s.Conferences().Find(guid)
	require.NotNil(t, conf)
	require.True(t, conf.HasParticipant(bobDN))

	srv.event(schema.EventConferenceLeft, field.DN(schema.TagSource, bobDN), conv(guid))
	process(t, s)
	require.False(t, conf.HasParticipant(bobDN))

	srv.event(schema.EventConferenceClosed, conv(guid))
	process(t, s)
	require.Nil(t, s.Conferences().Find(guid))
	require.Len(t, evs.got, 3)
	require.Same(t, conf, evs.got[2].Conference)
}

func TestResponseWithoutResultCodeIsProtocolForCaller(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)
	rec := &recorder{}
	_, err := s.SetStatus(schema.StatusAway, "lunch", "back soon", rec.fn, nil)
	require.NoError(t, err)

	req := srv.next()
	require.Equal(t, strconv.Itoa(int(schema.StatusAway)), req.Fields.Text(schema.TagStatus))
	require.Equal(t, "back soon", req.Fields.Text(schema.TagMessageBody))
	fields := field.List{field.String(schema.TagTransactionID, req.Fields.Text(schema.TagTransactionID))}
	require.NoError(t, frame.WriteResponse(&srv.wire.inbox, frame.StatusOK, fields))
	process(t, s)

	require.Len(t, rec.calls, 1)
	require.Equal(t, protocol.ErrProtocol, rec.calls[0].code)
	require.Equal(t, StateReady, s.State())
}

func TestUnknownTransactionIsIgnored(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)
	fields := field.List{
		field.String(schema.TagTransactionID, "9999"),
		field.String(schema.TagResultCode, "0"),
	}
	require.NoError(t, frame.WriteResponse(&srv.wire.inbox, frame.StatusOK, fields))
	process(t, s)
	require.Equal(t, StateReady, s.State())
}

func TestLedgerHoldsOneEntryPerTransaction(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)
	var reqs []frame.Request
	for i := 0; i < 5; i++ {
		_, err := s.GetDetails("user"+strconv.Itoa(i), nil, nil)
		require.NoError(t, err)
		reqs = append(reqs, srv.next())
	}
	seen := map[int]bool{}
	for _, r := range s.PendingRequests() {
		require.False(t, seen[r.ID], "duplicate id %d", r.ID)
		seen[r.ID] = true
	}
	require.Len(t, seen, 5)

	for i := len(reqs) - 1; i >= 0; i-- {
		srv.reply(reqs[i], protocol.ErrUserNotFound)
		process(t, s)
		require.Equal(t, i, s.Pending())
	}
}

func TestCloseDropsPendingCallbacks(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)
	disconnects := 0
	s.SetDisconnectFunc(func(*Session, error) { disconnects++ })
	rec := &recorder{}
	_, err := s.GetDetails(carolDN, rec.fn, nil)
	require.NoError(t, err)
	conf := conference.New("[G-CLOSE]")
	s.Conferences().Add(conf)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Empty(t, rec.calls)
	require.Zero(t, disconnects)
	require.Equal(t, 0, s.Pending())
	require.Zero(t, s.Conferences().Len())
	require.Nil(t, s.Contacts())
	require.True(t, srv.wire.closed)

	_, err = s.GetDetails(carolDN, nil, nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestContactMutations(t *testing.T) {
	testlog.Start(t)
	s, srv, evs := loggedIn(t)
	friends := s.Contacts().FolderByName("Friends")

	rec := &recorder{}
	_, err := s.CreateContact(friends, &contacts.Contact{DN: carolDN, DisplayName: "Carol"}, rec.fn, nil)
	require.NoError(t, err)
	req := srv.next()
	require.Equal(t, schema.VerbCreateContact, req.Verb)
	require.Equal(t, "5", req.Fields.Text(schema.TagParentID))
	require.Equal(t, carolDN, req.Fields.Text(schema.TagDN))
	srv.reply(req, protocol.OK, contactItem(field.MethodAdd, "21", "5", carolDN, "Carol"))
	process(t, s)
	require.Len(t, rec.calls, 1)
	carol, ok := rec.calls[0].data.(*contacts.Contact)
	require.True(t, ok)
	require.Equal(t, 21, carol.ID)
	require.Same(t, carol, s.FindContact(carolDN))

	_, err = s.RenameContact(carol, "Caroline", nil, nil)
	require.NoError(t, err)
	req = srv.next()
	require.Equal(t, schema.VerbUpdateItem, req.Verb)
	list, ok := req.Fields.Children(schema.TagContactList)
	require.True(t, ok)
	require.Len(t, list, 2)
	require.Equal(t, field.MethodDelete, list[0].Method)
	require.Equal(t, "Carol", list[0].Children.Text(schema.TagDisplayName))
	require.Equal(t, field.MethodAdd, list[1].Method)
	require.Equal(t, "Caroline", list[1].Children.Text(schema.TagDisplayName))
	srv.reply(req, protocol.OK)
	process(t, s)

	_, err = s.MoveContact(carol, s.Contacts().Root, nil, nil)
	require.NoError(t, err)
	req = srv.next()
	require.Equal(t, schema.VerbMoveContact, req.Verb)
	require.Equal(t, "0", req.Fields.Text(schema.TagParentID))
	srv.reply(req, protocol.OK, contactItem(field.MethodAdd, "21", "0", carolDN, "Caroline"))
	process(t, s)
	require.Equal(t, 0, carol.ParentID)

	// Removal pushed by the server as a contact-list event.
	srv.event(schema.EventContactListChanged, field.Array(schema.TagContactList,
		contactItem(field.MethodDelete, "21", "0", carolDN, "Caroline"),
	))
	process(t, s)
	require.Nil(t, s.FindContact(carolDN))
	require.Len(t, evs.got, 1)
	require.Len(t, evs.got[0].Changes, 1)
	require.Equal(t, contacts.ChangeRemoved, evs.got[0].Changes[0].Kind)
}

func TestFolderVerbs(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)

	_, err := s.CreateFolder("Work", nil, nil)
	require.NoError(t, err)
	req := srv.next()
	require.Equal(t, schema.VerbCreateFolder, req.Verb)
	require.Equal(t, "0", req.Fields.Text(schema.TagParentID))
	require.Equal(t, "-1", req.Fields.Text(schema.TagSequence))
	srv.reply(req, protocol.OK, folderItem(field.MethodAdd, "7", "Work"))
	process(t, s)
	work := s.Contacts().FolderByName("Work")
	require.NotNil(t, work)

	_, err = s.RenameFolder(work, "Office", nil, nil)
	require.NoError(t, err)
	require.Equal(t, schema.VerbUpdateItem, srv.next().Verb)
	require.Equal(t, "Office", work.Name)

	_, err = s.RemoveFolder(work, nil, nil)
	require.NoError(t, err)
	req = srv.next()
	require.Equal(t, schema.VerbDeleteContact, req.Verb)
	require.Equal(t, "7", req.Fields.Text(schema.TagObjectID))
}

func TestGetDetailsResolvesDisplayIDToDN(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)

	_, err := s.GetDetails("bob", nil, nil)
	require.NoError(t, err)
	req := srv.next()
	require.Equal(t, bobDN, req.Fields.Text(schema.TagDN))

	_, err = s.GetDetails("zed", nil, nil)
	require.NoError(t, err)
	req = srv.next()
	require.Equal(t, "zed", req.Fields.Text(schema.TagUserID))
	require.Empty(t, req.Fields.Text(schema.TagDN))
}

func TestGetDetailsManyReturnsEveryRecord(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)
	rec := &recorder{}
	_, err := s.GetDetailsMany([]string{carolDN, daveDN}, rec.fn, nil)
	require.NoError(t, err)
	srv.reply(srv.next(), protocol.OK, details(carolDN, "carol"), details(daveDN, "dave"))
	process(t, s)

	require.Len(t, rec.calls, 1)
	records, ok := rec.calls[0].data.([]*contacts.UserRecord)
	require.True(t, ok)
	require.Len(t, records, 2)
	require.Same(t, records[1], s.FindUserRecord("dave"))
}

func TestGetStatusUpdatesRecord(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)
	bob := s.FindUserRecord(bobDN)
	_, err := s.GetStatus(bob, nil, nil)
	require.NoError(t, err)
	srv.reply(srv.next(), protocol.OK, field.String(schema.TagStatus, strconv.Itoa(int(schema.StatusAway))))
	process(t, s)
	require.Equal(t, schema.StatusAway, bob.Status)
}

func TestTypingAndInviteShapes(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)
	conf := conference.New("[G-TYPE]")

	_, err := s.SendTyping(conf, true, nil, nil)
	require.NoError(t, err)
	cv, _ := srv.next().Fields.Children(schema.TagConversation)
	require.Equal(t, "112", cv.Text(schema.TagType))

	_, err = s.SendTyping(conf, false, nil, nil)
	require.NoError(t, err)
	cv, _ = srv.next().Fields.Children(schema.TagConversation)
	require.Equal(t, "113", cv.Text(schema.TagType))

	_, err = s.SendInvite(conf, record(carolDN), "join us", nil, nil)
	require.NoError(t, err)
	req := srv.next()
	require.Equal(t, schema.VerbSendInvite, req.Verb)
	require.Equal(t, carolDN, req.Fields.Text(schema.TagDN))
	require.Equal(t, "join us", req.Fields.Text(schema.TagMessageBody))
}

func TestLeaveConferenceUnlists(t *testing.T) {
	testlog.Start(t)
	s, srv, _ := loggedIn(t)
	conf := conference.New("[G-LEAVE]")
	s.Conferences().Add(conf)

	_, err := s.LeaveConference(conf, nil, nil)
	require.NoError(t, err)
	srv.reply(srv.next(), protocol.OK)
	process(t, s)
	require.Zero(t, s.Conferences().Len())
}

func TestNextConferenceNameIsFresh(t *testing.T) {
	testlog.Start(t)
	s := New(newFakeServer(t).conn, "alice", nil)
	require.NotEqual(t, s.NextConferenceName(), s.NextConferenceName())
}

func TestAbortReportsTransportFailureOnce(t *testing.T) {
	testlog.Start(t)
	s, _, _ := loggedIn(t)
	var reported []error
	s.SetDisconnectFunc(func(_ *Session, err error) { reported = append(reported, err) })

	require.NoError(t, s.Abort(nil))
	require.False(t, s.Closed())

	lost := fmt.Errorf("%w: connection reset", protocol.ErrTCPRead)
	require.ErrorIs(t, s.Abort(lost), protocol.ErrTCPRead)
	require.True(t, s.Closed())
	require.Equal(t, StateDisconnected, s.State())
	require.Nil(t, s.Contacts())

	_ = s.Abort(lost)
	require.Len(t, reported, 1)
}

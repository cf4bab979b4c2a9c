package client

import (
	"context"

	"github.com/danmuck/groupwire/internal/conference"
	"github.com/danmuck/groupwire/internal/contacts"
	logs "github.com/danmuck/groupwire/internal/logging"
	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/protocol/schema"
	"github.com/danmuck/groupwire/internal/session"
)

// SendIM sends text to who, a dn or user id. An existing one-to-one
// conversation is reused; otherwise a conference is created first.
func (c *Client) SendIM(ctx context.Context, who, text string) error {
	return c.Do(ctx, func(s *session.Session) {
		c.sendIM(s, who, text, nil)
	})
}

// SendIMWait is SendIM that waits for the server's answer.
func (c *Client) SendIMWait(ctx context.Context, who, text string) error {
	result := make(chan protocol.Code, 1)
	err := c.Do(ctx, func(s *session.Session) {
		c.sendIM(s, who, text, func(code protocol.Code) {
			result <- code
		})
	})
	if err != nil {
		return err
	}
	select {
	case code := <-result:
		if code != protocol.OK {
			return code
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) sendIM(s *session.Session, who, text string, done func(protocol.Code)) {
	finish := func(code protocol.Code) {
		if done != nil {
			done(code)
		}
	}
	if rec := s.FindUserRecord(who); rec != nil {
		c.deliver(s, rec, text, finish)
		return
	}
	_, err := s.GetDetails(who, func(s *session.Session, code protocol.Code, data, _ any) {
		rec, ok := data.(*contacts.UserRecord)
		if code != protocol.OK || !ok {
			c.notify(NoticeError, detailsFailed(code))
			finish(code)
			return
		}
		c.deliver(s, rec, text, finish)
	}, nil)
	if err != nil {
		if !protocol.IsDisconnect(err) {
			c.notify(NoticeError, detailsFailed(protocol.CodeOf(err)))
		}
		finish(protocol.CodeOf(err))
	}
}

func (c *Client) deliver(s *session.Session, rec *contacts.UserRecord, text string, finish func(protocol.Code)) {
	conf := s.Conferences().FindConversation(rec.DN)
	fresh := conf == nil
	if fresh {
		conf = conference.New("")
		conf.AddParticipant(rec)
	}
	msg := conference.NewMessage(conf, text)
	if fresh {
		// The message holds the conference from here on.
		conf.Release()
	}
	_, err := s.DeliverMessage(msg, func(_ *session.Session, code protocol.Code, _, _ any) {
		defer msg.Release()
		defer finish(code)
		if code == protocol.OK {
			return
		}
		if !conf.IsInstantiated() {
			c.notify(NoticeError, createConfFailed(rec.DisplayName(), code))
			return
		}
		c.notify(NoticeError, sendFailed(code))
	})
	if err != nil {
		msg.Release()
		if !protocol.IsDisconnect(err) {
			c.notify(NoticeError, sendFailed(protocol.CodeOf(err)))
		}
		finish(protocol.CodeOf(err))
	}
}

// AddBuddy adds who to the named folder, creating the folder when it does
// not exist. An empty folder name means the root.
func (c *Client) AddBuddy(ctx context.Context, who, folder string) error {
	return c.Do(ctx, func(s *session.Session) {
		c.addBuddy(s, who, folder)
	})
}

func (c *Client) addBuddy(s *session.Session, who, folderName string) {
	list := s.Contacts()
	if list == nil {
		c.notify(NoticeError, buddyAddFailed(who, protocol.ErrBadParameter))
		return
	}
	create := func(s *session.Session, folder *contacts.Folder) {
		contact := &contacts.Contact{DN: who}
		_, err := s.CreateContact(folder, contact, func(_ *session.Session, code protocol.Code, _, _ any) {
			if code != protocol.OK {
				c.notify(NoticeError, buddyAddFailed(who, code))
			}
		}, nil)
		if err != nil && !protocol.IsDisconnect(err) {
			c.notify(NoticeError, buddyAddFailed(who, protocol.CodeOf(err)))
		}
	}
	if folder := list.FolderByName(folderName); folder != nil {
		create(s, folder)
		return
	}
	_, err := s.CreateFolder(folderName, func(s *session.Session, code protocol.Code, _, _ any) {
		var folder *contacts.Folder
		if code == protocol.OK && s.Contacts() != nil {
			folder = s.Contacts().FolderByName(folderName)
		}
		if folder == nil {
			if code == protocol.OK {
				code = protocol.ErrObjectNotFound
			}
			logs.Warnf("client.AddBuddy folder create failed name=%s code=%s", folderName, code)
			c.notify(NoticeError, buddyAddFailed(who, code))
			return
		}
		create(s, folder)
	}, nil)
	if err != nil && !protocol.IsDisconnect(err) {
		c.notify(NoticeError, buddyAddFailed(who, protocol.CodeOf(err)))
	}
}

// Invite asks who to join conf.
func (c *Client) Invite(ctx context.Context, conf *conference.Conference, who, message string) error {
	return c.Do(ctx, func(s *session.Session) {
		send := func(s *session.Session, rec *contacts.UserRecord) {
			_, err := s.SendInvite(conf, rec, message, func(_ *session.Session, code protocol.Code, _, _ any) {
				if code != protocol.OK {
					c.notify(NoticeError, inviteFailed(code))
				}
			}, nil)
			if err != nil && !protocol.IsDisconnect(err) {
				c.notify(NoticeError, inviteFailed(protocol.CodeOf(err)))
			}
		}
		if rec := s.FindUserRecord(who); rec != nil {
			send(s, rec)
			return
		}
		_, err := s.GetDetails(who, func(s *session.Session, code protocol.Code, data, _ any) {
			rec, ok := data.(*contacts.UserRecord)
			if code != protocol.OK || !ok {
				c.notify(NoticeError, userDetailsFailed(who, code))
				return
			}
			send(s, rec)
		}, nil)
		if err != nil && !protocol.IsDisconnect(err) {
			c.notify(NoticeError, userDetailsFailed(who, protocol.CodeOf(err)))
		}
	})
}

// SetStatus changes the signed-in user's presence.
func (c *Client) SetStatus(ctx context.Context, status schema.Status, text, autoReply string) error {
	return c.Do(ctx, func(s *session.Session) {
		if _, err := s.SetStatus(status, text, autoReply, nil, nil); err != nil {
			logs.Warnf("client.SetStatus status=%d err=%v", status, err)
		}
	})
}

// Logout signs out; Run returns once the server acknowledges.
func (c *Client) Logout(ctx context.Context) error {
	return c.Do(ctx, func(s *session.Session) {
		_, err := s.Logout(func(s *session.Session, _ protocol.Code, _, _ any) {
			_ = s.Close()
		}, nil)
		if err != nil {
			logs.Warnf("client.Logout err=%v", err)
			_ = s.Close()
		}
	})
}

// handleEvent turns the events a user should hear about into notices and
// hands every event to the configured hook.
func (c *Client) handleEvent(s *session.Session, ev *session.Event) {
	who := ev.Source
	if ev.User != nil {
		who = ev.User.DisplayName()
	}
	switch ev.Type {
	case schema.EventUndeliverableStatus:
		c.notify(NoticeInfo, offline(who))
	case schema.EventConferenceClosed:
		c.notify(NoticeInfo, textConfClosed)
	case schema.EventConferenceInviteNotify:
		c.notify(NoticeInfo, invited(who))
	}
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(s, ev)
	}
}

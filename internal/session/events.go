package session

import (
	"time"

	"github.com/danmuck/groupwire/internal/conference"
	"github.com/danmuck/groupwire/internal/contacts"
	logs "github.com/danmuck/groupwire/internal/logging"
	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/protocol/field"
	"github.com/danmuck/groupwire/internal/protocol/schema"
)

// Event is a server event after session-level processing.
type Event struct {
	Type   schema.EventType
	Source string
	Time   time.Time
	// User is the cached record of Source, when one could be found.
	User       *contacts.UserRecord
	Conference *conference.Conference
	Text       string
	Status     schema.Status
	AutoReply  bool
	Typing     bool
	Changes    []contacts.Change
	Fields     field.List
}

func eventTime(fields field.List) time.Time {
	if ts, ok := fields.Int(schema.TagEventTime); ok && ts > 0 {
		return time.Unix(int64(ts), 0)
	}
	return now()
}

func conversationGUID(fields field.List) string {
	conv, ok := fields.Children(schema.TagConversation)
	if !ok {
		return ""
	}
	return conv.Text(schema.TagObjectID)
}

// conferenceFor finds the listed conference for guid, creating and listing
// one when create is set.
func (s *Session) conferenceFor(guid string, create bool) *conference.Conference {
	if guid == "" {
		return nil
	}
	if conf := s.conferences.Find(guid); conf != nil {
		return conf
	}
	if !create {
		return nil
	}
	conf := conference.New(guid)
	s.conferences.Add(conf)
	conf.Release()
	logs.Debugf("session.event conference created guid=%s", guid)
	return conf
}

// handleEvent applies a validated event and queues it for delivery.
func (s *Session) handleEvent(t schema.EventType, fields field.List) error {
	ev := &Event{
		Type:   t,
		Source: fields.Text(schema.TagSource),
		Time:   eventTime(fields),
		Fields: fields,
	}
	guid := conversationGUID(fields)

	switch t {
	case schema.EventReceiveMessage, schema.EventReceiveAutoreply:
		ev.Text = fields.Text(schema.TagMessageText)
		ev.AutoReply = t == schema.EventReceiveAutoreply
		if mt, ok := fields.Int(schema.TagMessageType); ok && mt == schema.MessageTypeAutoReply {
			ev.AutoReply = true
		}
		ev.Conference = s.conferenceFor(guid, true)
		return s.withSource(ev, func(u *contacts.UserRecord) {
			ev.Conference.AddParticipant(u)
		})

	case schema.EventConferenceJoined:
		ev.Conference = s.conferenceFor(guid, true)
		return s.withSource(ev, func(u *contacts.UserRecord) {
			ev.Conference.AddParticipant(u)
		})

	case schema.EventConferenceInvite:
		ev.Text = fields.Text(schema.TagMessageText)
		ev.Conference = s.conferenceFor(guid, true)
		return s.withSource(ev, nil)

	case schema.EventConferenceInviteNotify, schema.EventConferenceReject,
		schema.EventUndeliverableStatus, schema.EventInvalidRecipient,
		schema.EventReceiveFile:
		ev.Conference = s.conferenceFor(guid, false)
		return s.withSource(ev, nil)

	case schema.EventConferenceLeft:
		ev.Conference = s.conferenceFor(guid, false)
		if ev.Conference != nil {
			ev.Conference.RemoveParticipant(ev.Source)
		}
		ev.User = s.directory.FindRecord(ev.Source)

	case schema.EventConferenceClosed:
		ev.Conference = s.conferenceFor(guid, false)
		if ev.Conference != nil {
			s.conferences.Remove(ev.Conference)
		}

	case schema.EventConferenceRename:
		ev.Conference = s.conferenceFor(guid, false)
		ev.Text = fields.Text(schema.TagDisplayName)

	case schema.EventUserTyping, schema.EventUserNotTyping:
		ev.Typing = t == schema.EventUserTyping
		ev.Conference = s.conferenceFor(guid, false)
		ev.User = s.directory.FindRecord(ev.Source)

	case schema.EventStatusChange:
		st, _ := fields.Int(schema.TagStatus)
		ev.Status = schema.Status(st)
		ev.Text = fields.Text(schema.TagStatusText)
		return s.withSource(ev, func(u *contacts.UserRecord) {
			u.SetStatus(ev.Status, ev.Text, ev.Time)
			s.linkContacts(u)
		})

	case schema.EventContactAdd:
		ev.User = s.directory.FindRecord(ev.Source)

	case schema.EventContactListChanged:
		ev.Changes = s.applyMirror(fields)

	case schema.EventUserDisconnect:
		s.noReconnect = true
		s.enqueue(ev, true)
		s.flush()
		return s.fail(ErrLoggedInElsewhere)

	case schema.EventServerDisconnect:
		s.enqueue(ev, true)
		s.flush()
		return s.fail(ErrServerShutdown)
	}

	s.enqueue(ev, true)
	s.flush()
	return nil
}

// withSource resolves the event's source record, fetching it when it is not
// cached. apply runs once the record is known; the event is delivered either
// way, in arrival order.
func (s *Session) withSource(ev *Event, apply func(*contacts.UserRecord)) error {
	if rec := s.directory.FindRecord(ev.Source); rec != nil {
		ev.User = rec
		if apply != nil {
			apply(rec)
		}
		s.enqueue(ev, true)
		s.flush()
		return nil
	}
	qe := s.enqueue(ev, false)
	logs.Debugf("session.event deferred type=%s source=%s", ev.Type, ev.Source)
	_, err := s.GetDetails(ev.Source, func(s *Session, code protocol.Code, data, _ any) {
		if rec, ok := data.(*contacts.UserRecord); ok && code == protocol.OK {
			ev.User = rec
			if apply != nil {
				apply(rec)
			}
		} else {
			logs.Warnf("session.event details failed source=%s code=%s", ev.Source, code)
		}
		qe.ready = true
		s.flush()
	}, nil)
	return err
}

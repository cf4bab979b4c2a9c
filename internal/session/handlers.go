package session

import (
	"github.com/danmuck/groupwire/internal/conference"
	"github.com/danmuck/groupwire/internal/contacts"
	"github.com/danmuck/groupwire/internal/ledger"
	logs "github.com/danmuck/groupwire/internal/logging"
	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/protocol/field"
	"github.com/danmuck/groupwire/internal/protocol/schema"
)

// resultCode reads the result code of a response. A response without one
// is a protocol error for the caller, not for the connection.
func resultCode(fields field.List) protocol.Code {
	n, ok := fields.Int(schema.TagResultCode)
	if !ok {
		return protocol.ErrProtocol
	}
	return protocol.Code(uint32(n))
}

// handleResponse applies a response to session state and completes req,
// unless the verb defers completion.
func (s *Session) handleResponse(req *ledger.Request, fields field.List) {
	code := resultCode(fields)
	logs.Debugf("session.response verb=%s txn=%d code=%s", req.Verb, req.ID, code)
	done := true
	if code == protocol.OK {
		switch req.Verb {
		case schema.VerbLogin:
			s.handleLogin(fields)
		case schema.VerbLogout:
			s.state = StateDisconnected
		case schema.VerbGetDetails:
			s.handleDetails(req, fields)
		case schema.VerbCreateConf:
			s.handleCreateConf(req, fields)
		case schema.VerbLeaveConf:
			if conf, ok := req.Subject.(*conference.Conference); ok {
				s.conferences.Remove(conf)
			}
		case schema.VerbJoinConf:
			done = s.handleJoin(req, fields)
		case schema.VerbCreateContact:
			s.handleCreateContact(req, fields)
		case schema.VerbDeleteContact, schema.VerbCreateFolder, schema.VerbMoveContact:
			s.applyMirror(fields)
		case schema.VerbGetStatus:
			s.handleStatus(req, fields)
		}
	} else if req.Verb == schema.VerbLogin {
		logs.Warnf("session.login rejected user=%s code=%s", s.userID, code)
		s.state = StateDisconnected
	}
	if done {
		req.Complete(code)
	}
}

func (s *Session) handleLogin(fields field.List) {
	s.fields = fields.Copy()
	if rec, ok := contacts.RecordFromFields(fields); ok {
		s.record = s.directory.MergeRecord(rec)
	} else {
		logs.Warnf("session.login response without dn user=%s", s.userID)
	}
	s.contactList = contacts.NewList()
	s.indexChanges(s.contactList.Build(fields))
	s.state = StateReady
	logs.Infof(
		"session.login ready user=%s dn=%s contacts=%d",
		s.userID,
		s.ownDN(),
		len(s.contactList.Contacts()),
	)
}

// mergeResults caches every user record carried in Results arrays.
func (s *Session) mergeResults(fields field.List) []*contacts.UserRecord {
	var out []*contacts.UserRecord
	for _, f := range fields.All(schema.TagResults) {
		rec, ok := contacts.RecordFromFields(f.Children)
		if !ok {
			logs.Warnf("session.getdetails result without dn")
			continue
		}
		rec = s.directory.MergeRecord(rec)
		s.linkContacts(rec)
		out = append(out, rec)
	}
	return out
}

func (s *Session) handleDetails(req *ledger.Request, fields field.List) {
	records := s.mergeResults(fields)
	if _, batch := req.Subject.(*detailsBatch); batch {
		req.Data = records
		return
	}
	if len(records) > 0 {
		req.Data = records[0]
	}
}

func (s *Session) handleCreateConf(req *ledger.Request, fields field.List) {
	conf, ok := req.Subject.(*conference.Conference)
	if !ok {
		return
	}
	if conv, found := fields.Children(schema.TagConversation); found {
		if guid := conv.Text(schema.TagObjectID); guid != "" {
			conf.SetGUID(guid)
		}
	}
	s.conferences.Add(conf)
	logs.Debugf("session.createconf guid=%s participants=%d", conf.GUID, conf.ParticipantCount())
}

// joinFanIn completes a join once every outstanding get-details has
// finished, in whatever order they finish. The join reports the first
// lookup failure, if any.
type joinFanIn struct {
	req     *ledger.Request
	conf    *conference.Conference
	pending map[string]struct{}
	code    protocol.Code
}

func (j *joinFanIn) resolved(dn string, code protocol.Code) bool {
	if code != protocol.OK && j.code == protocol.OK {
		j.code = code
	}
	delete(j.pending, field.LowerASCII(dn))
	return len(j.pending) == 0
}

// handleJoin adds known participants and fans out get-details for unknown
// ones. It reports whether the request is complete.
func (s *Session) handleJoin(req *ledger.Request, fields field.List) bool {
	conf, ok := req.Subject.(*conference.Conference)
	if !ok {
		return true
	}
	list, _ := fields.Children(schema.TagContactList)
	own := s.ownDN()
	fan := &joinFanIn{req: req, conf: conf, pending: make(map[string]struct{})}
	var unknown []string
	for _, f := range list.All(schema.TagDN) {
		dn := f.Text
		if dn == "" || field.EqualFoldASCII(dn, own) {
			continue
		}
		if rec := s.directory.FindRecord(dn); rec != nil {
			conf.AddParticipant(rec)
			continue
		}
		key := field.LowerASCII(dn)
		if _, dup := fan.pending[key]; dup {
			continue
		}
		fan.pending[key] = struct{}{}
		unknown = append(unknown, dn)
	}
	if len(unknown) == 0 {
		return true
	}
	logs.Debugf("session.joinconf guid=%s fetching=%d", conf.GUID, len(unknown))
	req.AddRef()
	for _, dn := range unknown {
		_, err := s.GetDetails(dn, func(s *Session, code protocol.Code, data, _ any) {
			rec, ok := data.(*contacts.UserRecord)
			switch {
			case code != protocol.OK:
				logs.Warnf("session.joinconf details failed dn=%s code=%s", dn, code)
			case !ok:
				code = protocol.ErrProtocol
				logs.Warnf("session.joinconf details missing record dn=%s", dn)
			default:
				conf.AddParticipant(rec)
			}
			if fan.resolved(dn, code) {
				fan.req.Complete(fan.code)
				fan.req.Release()
			}
		}, nil)
		if err != nil {
			// The session is gone; drop the join without a callback.
			logs.Warnf("session.joinconf fan-out err=%v", err)
			req.Release()
			return false
		}
	}
	return false
}

func (s *Session) handleCreateContact(req *ledger.Request, fields field.List) {
	changes := s.applyMirror(fields)
	var created *contacts.Contact
	for _, ch := range changes {
		if ch.Kind == contacts.ChangeAdded && ch.Contact != nil {
			created = ch.Contact
			break
		}
	}
	if created == nil && s.contactList != nil {
		if id, ok := findObjectID(fields); ok {
			created, _ = s.contactList.FindByObjectID(id)
		}
	}
	if created == nil {
		logs.Warnf("session.createcontact response names no contact")
		return
	}
	s.directory.AddContact(created)
	req.Data = created
}

// findObjectID returns the object id of the first contact in a response.
func findObjectID(fields field.List) (int, bool) {
	items := fields
	if inner, ok := items.Children(schema.TagResults); ok {
		items = inner
	}
	if inner, ok := items.Children(schema.TagContactList); ok {
		items = inner
	}
	if c, ok := items.Children(schema.TagContact); ok {
		return c.Int(schema.TagObjectID)
	}
	return items.Int(schema.TagObjectID)
}

func (s *Session) applyMirror(fields field.List) []contacts.Change {
	if s.contactList == nil {
		logs.Warnf("session.mirror update before login")
		return nil
	}
	changes := s.contactList.Apply(fields)
	s.indexChanges(changes)
	return changes
}

func (s *Session) handleStatus(req *ledger.Request, fields field.List) {
	rec, ok := req.Subject.(*contacts.UserRecord)
	if !ok {
		return
	}
	st, found := fields.Int(schema.TagStatus)
	if !found {
		logs.Warnf("session.getstatus response without status dn=%s", rec.DN)
		return
	}
	rec.SetStatus(schema.Status(st), fields.Text(schema.TagStatusText), now())
}

package session

import (
	"strconv"

	"github.com/danmuck/groupwire/internal/conference"
	"github.com/danmuck/groupwire/internal/contacts"
	"github.com/danmuck/groupwire/internal/ledger"
	logs "github.com/danmuck/groupwire/internal/logging"
	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/protocol/field"
	"github.com/danmuck/groupwire/internal/protocol/schema"
)

const (
	typingOn  = "112"
	typingOff = "113"
)

// Login sends the credentials. clientIP is optional.
func (s *Session) Login(password, clientIP, userAgent string, cb ResponseFunc, userData any) (*ledger.Request, error) {
	if s.userID == "" || password == "" || userAgent == "" {
		return nil, badParameter("login needs user, password and user agent")
	}
	fields := field.List{
		field.String(schema.TagUserID, s.userID),
		field.String(schema.TagCredentials, password),
		field.String(schema.TagUserAgent, userAgent),
		field.UDWord(schema.TagBuild, schema.ProtocolBuild),
	}
	if clientIP != "" {
		fields = fields.Append(field.String(schema.TagIPAddress, clientIP))
	}
	logs.Infof("session.Login user=%s agent=%q", s.userID, userAgent)
	return s.send(schema.VerbLogin, fields, nil, cb, userData)
}

func (s *Session) Logout(cb ResponseFunc, userData any) (*ledger.Request, error) {
	return s.send(schema.VerbLogout, nil, nil, cb, userData)
}

// SetStatus publishes presence. text and autoReply are optional.
func (s *Session) SetStatus(status schema.Status, text, autoReply string, cb ResponseFunc, userData any) (*ledger.Request, error) {
	if status <= schema.StatusUnknown || status >= schema.StatusInvalid {
		return nil, badParameter("status %d", int(status))
	}
	fields := field.List{field.String(schema.TagStatus, strconv.Itoa(int(status)))}
	if text != "" {
		fields = fields.Append(field.String(schema.TagStatusText, text))
	}
	if autoReply != "" {
		fields = fields.Append(field.String(schema.TagMessageBody, autoReply))
	}
	return s.send(schema.VerbSetStatus, fields, nil, cb, userData)
}

// identityField picks a dn field when name is or resolves to a dn, and a
// userid field otherwise.
func (s *Session) identityField(name string) field.Field {
	if contacts.IsDN(name) {
		return field.DN(schema.TagDN, name)
	}
	if dn, ok := s.directory.LookupDN(name); ok {
		return field.DN(schema.TagDN, dn)
	}
	return field.String(schema.TagUserID, name)
}

// GetDetails fetches the user record for a dn or user id. The response data
// is the cached *contacts.UserRecord.
func (s *Session) GetDetails(name string, cb ResponseFunc, userData any) (*ledger.Request, error) {
	if name == "" {
		return nil, badParameter("empty name")
	}
	return s.send(schema.VerbGetDetails, field.List{s.identityField(name)}, nil, cb, userData)
}

type detailsBatch struct {
	names []string
}

// GetDetailsMany fetches several records in one request. The response data
// is a []*contacts.UserRecord.
func (s *Session) GetDetailsMany(names []string, cb ResponseFunc, userData any) (*ledger.Request, error) {
	if len(names) == 0 {
		return nil, badParameter("no names")
	}
	fields := make(field.List, 0, len(names))
	for _, name := range names {
		if name == "" {
			return nil, badParameter("empty name")
		}
		fields = append(fields, s.identityField(name))
	}
	return s.send(schema.VerbGetDetails, fields, &detailsBatch{names: names}, cb, userData)
}

func conversation(guid string, extra ...field.Field) field.Field {
	children := append([]field.Field{field.String(schema.TagObjectID, guid)}, extra...)
	return field.Array(schema.TagConversation, children...)
}

// CreateConference asks the server for a guid for conf. On success conf is
// added to the conference list. The response data is conf.
func (s *Session) CreateConference(conf *conference.Conference, cb ResponseFunc, userData any) (*ledger.Request, error) {
	if conf == nil {
		return nil, badParameter("nil conference")
	}
	fields := field.List{conversation(schema.BlankGUID)}
	for _, p := range conf.Participants() {
		fields = fields.Append(field.DN(schema.TagDN, p.DN))
	}
	if dn := s.ownDN(); dn != "" {
		fields = fields.Append(field.DN(schema.TagDN, dn))
	}
	return s.send(schema.VerbCreateConf, fields, conf, cb, userData)
}

func (s *Session) conferenceVerb(verb string, conf *conference.Conference, cb ResponseFunc, userData any) (*ledger.Request, error) {
	if conf == nil {
		return nil, badParameter("nil conference")
	}
	return s.send(verb, field.List{conversation(conf.GUID)}, conf, cb, userData)
}

// JoinConference accepts an invitation. The callback fires once every
// participant has a user record.
func (s *Session) JoinConference(conf *conference.Conference, cb ResponseFunc, userData any) (*ledger.Request, error) {
	return s.conferenceVerb(schema.VerbJoinConf, conf, cb, userData)
}

func (s *Session) LeaveConference(conf *conference.Conference, cb ResponseFunc, userData any) (*ledger.Request, error) {
	return s.conferenceVerb(schema.VerbLeaveConf, conf, cb, userData)
}

func (s *Session) RejectConference(conf *conference.Conference, cb ResponseFunc, userData any) (*ledger.Request, error) {
	return s.conferenceVerb(schema.VerbRejectConf, conf, cb, userData)
}

// SendInvite invites user into an instantiated conference.
func (s *Session) SendInvite(
	conf *conference.Conference,
	user *contacts.UserRecord,
	message string,
	cb ResponseFunc,
	userData any,
) (*ledger.Request, error) {
	if conf == nil || user == nil || user.DN == "" {
		return nil, badParameter("invite needs conference and user")
	}
	if !conf.IsInstantiated() {
		return nil, protocol.ErrConferenceNotInstantiated
	}
	fields := field.List{conversation(conf.GUID), field.DN(schema.TagDN, user.DN)}
	if message != "" {
		fields = fields.Append(field.String(schema.TagMessageBody, message))
	}
	return s.send(schema.VerbSendInvite, fields, conf, cb, userData)
}

// SendMessage sends msg to an instantiated conference. The response data is
// the conference and userData is msg.
func (s *Session) SendMessage(msg *conference.Message, cb ResponseFunc) (*ledger.Request, error) {
	if msg == nil || msg.Conference == nil {
		return nil, badParameter("nil message")
	}
	conf := msg.Conference
	if !conf.IsInstantiated() {
		return nil, protocol.ErrConferenceNotInstantiated
	}
	fields := field.List{
		conversation(conf.GUID),
		field.Array(schema.TagMessage,
			field.String(schema.TagMessageBody, schema.RTF(msg.Text)),
			field.UDWord(schema.TagMessageType, 0),
			field.String(schema.TagMessageText, msg.Text),
		),
	}
	for _, p := range conf.Participants() {
		fields = fields.Append(field.DN(schema.TagDN, p.DN))
	}
	return s.send(schema.VerbSendMessage, fields, conf, cb, msg)
}

// DeliverMessage sends msg, creating its conference first when the
// conference has no guid yet. A failed create is reported to cb with the
// conference as data and msg as user data.
func (s *Session) DeliverMessage(msg *conference.Message, cb ResponseFunc) (*ledger.Request, error) {
	if msg == nil || msg.Conference == nil {
		return nil, badParameter("nil message")
	}
	if msg.Conference.IsInstantiated() {
		return s.SendMessage(msg, cb)
	}
	created := func(s *Session, code protocol.Code, data, userData any) {
		m := userData.(*conference.Message)
		if code != protocol.OK {
			logs.Warnf("session.DeliverMessage create failed code=%s", code)
			if cb != nil {
				cb(s, code, data, m)
			}
			return
		}
		if _, err := s.SendMessage(m, cb); err != nil {
			logs.Warnf("session.DeliverMessage send err=%v", err)
			if cb != nil && !s.closed {
				cb(s, protocol.CodeOf(err), data, m)
			}
		}
	}
	return s.CreateConference(msg.Conference, created, msg)
}

func (s *Session) SendTyping(conf *conference.Conference, typing bool, cb ResponseFunc, userData any) (*ledger.Request, error) {
	if conf == nil {
		return nil, badParameter("nil conference")
	}
	if !conf.IsInstantiated() {
		return nil, protocol.ErrConferenceNotInstantiated
	}
	kind := typingOff
	if typing {
		kind = typingOn
	}
	fields := field.List{conversation(conf.GUID, field.String(schema.TagType, kind))}
	return s.send(schema.VerbSendTyping, fields, conf, cb, userData)
}

// CreateContact adds contact under folder. contact.DN may hold a dn or a
// user id. The response data is the mirrored *contacts.Contact.
func (s *Session) CreateContact(
	folder *contacts.Folder,
	contact *contacts.Contact,
	cb ResponseFunc,
	userData any,
) (*ledger.Request, error) {
	if folder == nil || contact == nil || contact.DN == "" {
		return nil, badParameter("create contact needs folder and identity")
	}
	fields := field.List{
		field.String(schema.TagParentID, strconv.Itoa(folder.ID)),
		s.identityField(contact.DN),
	}
	if contact.DisplayName != "" {
		fields = fields.Append(field.String(schema.TagDisplayName, contact.DisplayName))
	}
	return s.send(schema.VerbCreateContact, fields, contact, cb, userData)
}

func (s *Session) RemoveContact(
	folder *contacts.Folder,
	contact *contacts.Contact,
	cb ResponseFunc,
	userData any,
) (*ledger.Request, error) {
	if folder == nil || contact == nil {
		return nil, badParameter("remove contact needs folder and contact")
	}
	fields := field.List{
		field.String(schema.TagParentID, strconv.Itoa(folder.ID)),
		field.String(schema.TagObjectID, strconv.Itoa(contact.ID)),
	}
	return s.send(schema.VerbDeleteContact, fields, contact, cb, userData)
}

func (s *Session) CreateFolder(name string, cb ResponseFunc, userData any) (*ledger.Request, error) {
	if name == "" {
		return nil, badParameter("empty folder name")
	}
	fields := field.List{
		field.String(schema.TagParentID, strconv.Itoa(contacts.RootID)),
		field.String(schema.TagDisplayName, name),
		field.String(schema.TagSequence, "-1"),
	}
	return s.send(schema.VerbCreateFolder, fields, nil, cb, userData)
}

func (s *Session) RemoveFolder(folder *contacts.Folder, cb ResponseFunc, userData any) (*ledger.Request, error) {
	if folder == nil || folder.ID == contacts.RootID {
		return nil, badParameter("cannot remove root folder")
	}
	fields := field.List{field.String(schema.TagObjectID, strconv.Itoa(folder.ID))}
	return s.send(schema.VerbDeleteContact, fields, folder, cb, userData)
}

// updateItem wraps the old and new forms of one item in a contact list: a
// delete of the old state followed by an add of the new.
func updateItem(tag string, before, after field.List) field.List {
	return field.List{field.Array(schema.TagContactList,
		field.Array(tag, before...).With(field.MethodDelete),
		field.Array(tag, after...).With(field.MethodAdd),
	)}
}

// RenameContact renames contact locally and on the server.
func (s *Session) RenameContact(contact *contacts.Contact, name string, cb ResponseFunc, userData any) (*ledger.Request, error) {
	if contact == nil || name == "" {
		return nil, badParameter("rename contact needs contact and name")
	}
	before := contact.ToFields()
	contact.DisplayName = name
	fields := updateItem(schema.TagContact, before, contact.ToFields())
	return s.send(schema.VerbUpdateItem, fields, contact, cb, userData)
}

// RenameFolder renames folder locally and on the server. A name already in
// use is ErrFolderExists without contacting the server.
func (s *Session) RenameFolder(folder *contacts.Folder, name string, cb ResponseFunc, userData any) (*ledger.Request, error) {
	if folder == nil || name == "" || folder.ID == contacts.RootID {
		return nil, badParameter("rename folder needs folder and name")
	}
	if s.contactList != nil && s.contactList.FolderByName(name) != nil {
		return nil, protocol.ErrFolderExists
	}
	before := folder.ToFields()
	folder.Name = name
	fields := updateItem(schema.TagFolder, before, folder.ToFields())
	return s.send(schema.VerbUpdateItem, fields, folder, cb, userData)
}

// MoveContact moves contact into folder.
func (s *Session) MoveContact(contact *contacts.Contact, folder *contacts.Folder, cb ResponseFunc, userData any) (*ledger.Request, error) {
	if contact == nil || folder == nil {
		return nil, badParameter("move needs contact and folder")
	}
	fields := field.List{
		field.Array(schema.TagContactList,
			field.Array(schema.TagContact, contact.ToFields()...).With(field.MethodDelete),
		),
		field.String(schema.TagSequence, "-1"),
		field.String(schema.TagParentID, strconv.Itoa(folder.ID)),
	}
	return s.send(schema.VerbMoveContact, fields, contact, cb, userData)
}

// GetStatus refreshes the presence stored in user.
func (s *Session) GetStatus(user *contacts.UserRecord, cb ResponseFunc, userData any) (*ledger.Request, error) {
	if user == nil || user.DN == "" {
		return nil, badParameter("nil user record")
	}
	return s.send(schema.VerbGetStatus, field.List{field.DN(schema.TagDN, user.DN)}, user, cb, userData)
}

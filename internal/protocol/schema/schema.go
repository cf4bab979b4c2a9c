package schema

import (
	"fmt"

	logs "github.com/danmuck/groupwire/internal/logging"
	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/protocol/field"
)

// Attribute tags.
const (
	TagUserID         = "NM_A_SZ_USERID"
	TagCredentials    = "NM_A_SZ_CREDENTIALS"
	TagUserAgent      = "NM_A_SZ_USER_AGENT"
	TagBuild          = "NM_A_UD_BUILD"
	TagIPAddress      = "NM_A_IP_ADDRESS"
	TagStatus         = "NM_A_SZ_STATUS"
	TagStatusText     = "NM_A_SZ_STATUS_TEXT"
	TagMessageBody    = "NM_A_SZ_MESSAGE_BODY"
	TagMessageText    = "NM_A_SZ_MESSAGE_TEXT"
	TagMessageType    = "NM_A_UD_MESSAGE_TYPE"
	TagDN             = "NM_A_SZ_DN"
	TagObjectID       = "NM_A_SZ_OBJECT_ID"
	TagParentID       = "NM_A_SZ_PARENT_ID"
	TagSequence       = "NM_A_SZ_SEQUENCE_NUMBER"
	TagDisplayName    = "NM_A_SZ_DISPLAY_NAME"
	TagConversation   = "NM_A_FA_CONVERSATION"
	TagMessage        = "NM_A_FA_MESSAGE"
	TagContactList    = "NM_A_FA_CONTACT_LIST"
	TagContact        = "NM_A_FA_CONTACT"
	TagFolder         = "NM_A_FA_FOLDER"
	TagResults        = "NM_A_FA_RESULTS"
	TagResultCode     = "NM_A_SZ_RESULT_CODE"
	TagTransactionID  = "NM_A_SZ_TRANSACTION_ID"
	TagType           = "NM_A_SZ_TYPE"
	TagFullName       = "NM_A_SZ_FULL_NAME"
	TagGivenName      = "NM_A_SZ_GIVEN_NAME"
	TagSurname        = "NM_A_SZ_SURNAME"
	TagSource         = "NM_A_SZ_SOURCE"
	TagEventTime      = "NM_A_UD_EVENT_TIME"
	TagIdleSince      = "NM_A_UD_IDLE_SINCE"
	TagAutoReply      = "NM_A_SZ_AUTO_REPLY"
	TagParticipants   = "NM_A_FA_PARTICIPANTS"
	TagRecipientCount = "NM_A_UD_RECIPIENT_COUNT"
)

// Request verbs.
const (
	VerbLogin         = "login"
	VerbLogout        = "logout"
	VerbSetStatus     = "setstatus"
	VerbGetDetails    = "getdetails"
	VerbCreateConf    = "createconf"
	VerbLeaveConf     = "leaveconf"
	VerbJoinConf      = "joinconf"
	VerbRejectConf    = "rejectconf"
	VerbSendInvite    = "sendinvite"
	VerbSendMessage   = "sendmessage"
	VerbSendTyping    = "sendtyping"
	VerbCreateContact = "createcontact"
	VerbDeleteContact = "deletecontact"
	VerbCreateFolder  = "createfolder"
	VerbGetStatus     = "getstatus"
	VerbUpdateItem    = "updateitem"
	VerbMoveContact   = "movecontact"
)

// EventType is the little-endian code that opens an event frame.
type EventType uint32

const (
	EventInvalidRecipient       EventType = 101
	EventUndeliverableStatus    EventType = 102
	EventStatusChange           EventType = 103
	EventContactAdd             EventType = 104
	EventConferenceClosed       EventType = 105
	EventConferenceJoined       EventType = 106
	EventConferenceLeft         EventType = 107
	EventReceiveMessage         EventType = 108
	EventReceiveFile            EventType = 109
	EventUserTyping             EventType = 112
	EventUserNotTyping          EventType = 113
	EventUserDisconnect         EventType = 114
	EventServerDisconnect       EventType = 115
	EventConferenceRename       EventType = 116
	EventConferenceInvite       EventType = 117
	EventConferenceInviteNotify EventType = 118
	EventConferenceReject       EventType = 119
	EventReceiveAutoreply       EventType = 121
	EventContactListChanged     EventType = 130
)

var eventNames = map[EventType]string{
	EventInvalidRecipient:       "invalid_recipient",
	EventUndeliverableStatus:    "undeliverable_status",
	EventStatusChange:           "status_change",
	EventContactAdd:             "contact_add",
	EventConferenceClosed:       "conference_closed",
	EventConferenceJoined:       "conference_joined",
	EventConferenceLeft:         "conference_left",
	EventReceiveMessage:         "receive_message",
	EventReceiveFile:            "receive_file",
	EventUserTyping:             "user_typing",
	EventUserNotTyping:          "user_not_typing",
	EventUserDisconnect:         "user_disconnect",
	EventServerDisconnect:       "server_disconnect",
	EventConferenceRename:       "conference_rename",
	EventConferenceInvite:       "conference_invite",
	EventConferenceInviteNotify: "conference_invite_notify",
	EventConferenceReject:       "conference_reject",
	EventReceiveAutoreply:       "receive_autoreply",
	EventContactListChanged:     "contact_list_changed",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event_%d", uint32(t))
}

// Known reports whether t is an event code this client understands.
func (t EventType) Known() bool {
	_, ok := eventNames[t]
	return ok
}

// Status is a presence value as carried in NM_A_SZ_STATUS.
type Status int

const (
	StatusUnknown   Status = 0
	StatusOffline   Status = 1
	StatusAvailable Status = 2
	StatusBusy      Status = 3
	StatusAway      Status = 4
	StatusAwayIdle  Status = 5
	StatusInvalid   Status = 6
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusAvailable:
		return "available"
	case StatusBusy:
		return "busy"
	case StatusAway:
		return "away"
	case StatusAwayIdle:
		return "idle"
	case StatusInvalid:
		return "invalid"
	}
	return "unknown"
}

const (
	// BlankGUID marks a conference not yet instantiated on the server.
	BlankGUID = "[00000000-00000000-00000000-0000-0000]"
	// GUIDCompareLen is how many leading bytes identify a conference.
	GUIDCompareLen = 27
	// ProtocolBuild is sent with every login.
	ProtocolBuild = 2

	// Message type flag for auto replies.
	MessageTypeAutoReply = 1
)

// RTFTemplate wraps plain message text for the rich body field.
const RTFTemplate = "{\\rtf1\\fbidis\\ansi\\ansicpg1252\\deff0\\deflang1033{\\fonttbl{\\f0\\fswiss\\fprq2\\fcharset0 Microsoft Sans Serif;}}\n" +
	"{\\colortbl ;\\red0\\green0\\blue0;}\n" +
	"\\viewkind4\\uc1\\pard\\ltrpar\\li50\\ri50\\cf1\\f0\\fs20 %s\\par\n" +
	"}"

// RTF returns text wrapped in RTFTemplate.
func RTF(text string) string {
	return fmt.Sprintf(RTFTemplate, text)
}

// GUIDsEqual compares the identifying prefix of two conference guids.
func GUIDsEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return prefix(a, GUIDCompareLen) == prefix(b, GUIDCompareLen)
}

func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

// Kind groups wire types that satisfy the same requirement.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindNumber
	KindList
)

func (k Kind) accepts(t field.Type) bool {
	switch k {
	case KindString:
		return t.IsString()
	case KindNumber:
		return t.IsNumeric() || t.IsString()
	case KindList:
		return t.IsList()
	}
	return false
}

type Requirement struct {
	Tag  string
	Kind Kind
}

type ValidationError struct {
	Event  EventType
	Tag    string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("schema: event=%s: %s", e.Event, e.Reason)
	}
	return fmt.Sprintf("schema: event=%s tag=%s: %s", e.Event, e.Tag, e.Reason)
}

// Unwrap classifies every validation failure as a protocol error.
func (e ValidationError) Unwrap() error {
	return protocol.ErrProtocol
}

var (
	source       = Requirement{TagSource, KindString}
	conversation = Requirement{TagConversation, KindList}
)

var requirements = map[EventType][]Requirement{
	EventInvalidRecipient:       {source, conversation},
	EventUndeliverableStatus:    {source, conversation},
	EventStatusChange:           {source, {TagStatus, KindNumber}},
	EventContactAdd:             {source},
	EventConferenceClosed:       {conversation},
	EventConferenceJoined:       {source, conversation},
	EventConferenceLeft:         {source, conversation},
	EventReceiveMessage:         {source, conversation, {TagMessageText, KindString}},
	EventReceiveFile:            {source, conversation},
	EventUserTyping:             {source, conversation},
	EventUserNotTyping:          {source, conversation},
	EventUserDisconnect:         {},
	EventServerDisconnect:       {},
	EventConferenceRename:       {conversation},
	EventConferenceInvite:       {source, conversation},
	EventConferenceInviteNotify: {source, conversation},
	EventConferenceReject:       {source, conversation},
	EventReceiveAutoreply:       {source, conversation, {TagMessageText, KindString}},
	EventContactListChanged:     {{TagContactList, KindList}},
}

// Validate enforces required tags and their kinds for an event type.
// Unknown tags are ignored. Conversation arrays must carry an object id.
func Validate(t EventType, fields field.List) error {
	logs.Debugf("schema.Validate event=%s fields=%d", t, len(fields))
	reqs, ok := requirements[t]
	if !ok {
		logs.Errf("schema.Validate unknown event=%d", uint32(t))
		return ValidationError{Event: t, Reason: "unknown event type"}
	}
	for _, req := range reqs {
		f, found := fields.Find(req.Tag)
		if !found {
			logs.Errf("schema.Validate missing field event=%s tag=%s", t, req.Tag)
			return ValidationError{Event: t, Tag: req.Tag, Reason: "missing required field"}
		}
		if !req.Kind.accepts(f.Type) {
			logs.Errf(
				"schema.Validate type mismatch event=%s tag=%s got=%d",
				t,
				req.Tag,
				f.Type,
			)
			return ValidationError{Event: t, Tag: req.Tag, Reason: "type mismatch"}
		}
		if req.Tag == TagConversation && f.Children.Text(TagObjectID) == "" {
			logs.Errf("schema.Validate conversation without guid event=%s", t)
			return ValidationError{Event: t, Tag: TagObjectID, Reason: "missing conference guid"}
		}
	}
	return nil
}

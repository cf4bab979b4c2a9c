// Package conference holds conference and message state shared by the
// session and its host.
package conference

import (
	"fmt"

	"github.com/danmuck/groupwire/internal/contacts"
	"github.com/danmuck/groupwire/internal/protocol/field"
	"github.com/danmuck/groupwire/internal/protocol/schema"
)

// Conference is one conversation context. A conference carrying the blank
// guid is local only until a create round trip assigns its real guid.
type Conference struct {
	GUID         string
	participants []*contacts.UserRecord
	handle       any
	refs         int
}

// New returns a conference holding one reference. An empty guid means the
// blank guid.
func New(guid string) *Conference {
	if guid == "" {
		guid = schema.BlankGUID
	}
	return &Conference{GUID: guid, refs: 1}
}

// IsInstantiated reports whether the server has assigned a guid.
func (c *Conference) IsInstantiated() bool {
	return !schema.GUIDsEqual(c.GUID, schema.BlankGUID)
}

func (c *Conference) SetGUID(guid string) {
	if guid == "" {
		guid = schema.BlankGUID
	}
	c.GUID = guid
}

// AddParticipant appends u unless a participant with the same dn is present.
func (c *Conference) AddParticipant(u *contacts.UserRecord) bool {
	if u == nil || c.HasParticipant(u.DN) {
		return false
	}
	c.participants = append(c.participants, u)
	return true
}

// RemoveParticipant removes the participant with dn.
func (c *Conference) RemoveParticipant(dn string) bool {
	for i, u := range c.participants {
		if field.EqualFoldASCII(u.DN, dn) {
			c.participants = append(c.participants[:i], c.participants[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Conference) HasParticipant(dn string) bool {
	for _, u := range c.participants {
		if field.EqualFoldASCII(u.DN, dn) {
			return true
		}
	}
	return false
}

func (c *Conference) ParticipantCount() int {
	return len(c.participants)
}

// Participant returns the i'th participant or nil.
func (c *Conference) Participant(i int) *contacts.UserRecord {
	if i < 0 || i >= len(c.participants) {
		return nil
	}
	return c.participants[i]
}

// Participants returns a copy of the participant list.
func (c *Conference) Participants() []*contacts.UserRecord {
	out := make([]*contacts.UserRecord, len(c.participants))
	copy(out, c.participants)
	return out
}

// Handle is the host's UI object for this conference, if any.
func (c *Conference) Handle() any {
	return c.handle
}

func (c *Conference) SetHandle(h any) {
	c.handle = h
}

func (c *Conference) AddRef() {
	c.refs++
}

// Release drops one reference and returns how many remain.
func (c *Conference) Release() int {
	if c.refs > 0 {
		c.refs--
	}
	return c.refs
}

func (c *Conference) Refs() int {
	return c.refs
}

// Message is outbound text bound to a conference.
type Message struct {
	Text       string
	Conference *Conference
}

// NewMessage takes a reference on conf for the message's lifetime.
func NewMessage(conf *Conference, text string) *Message {
	if conf != nil {
		conf.AddRef()
	}
	return &Message{Text: text, Conference: conf}
}

// Release drops the message's conference reference.
func (m *Message) Release() {
	if m.Conference != nil {
		m.Conference.Release()
		m.Conference = nil
	}
}

// Name returns a fresh title for the n'th multi-party conference.
func Name(n int) string {
	return fmt.Sprintf("Conference %d", n)
}

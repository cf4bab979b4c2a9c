package conference

import (
	"github.com/danmuck/groupwire/internal/protocol/field"
	"github.com/danmuck/groupwire/internal/protocol/schema"
)

// List is the session's set of live conferences. Membership holds one
// reference on each conference.
type List struct {
	items []*Conference
}

func (l *List) Add(c *Conference) {
	if c == nil || l.contains(c) {
		return
	}
	c.AddRef()
	l.items = append(l.items, c)
}

// Remove unlists c and drops the list's reference.
func (l *List) Remove(c *Conference) bool {
	for i, x := range l.items {
		if x == c {
			l.items = append(l.items[:i], l.items[i+1:]...)
			c.Release()
			return true
		}
	}
	return false
}

func (l *List) contains(c *Conference) bool {
	for _, x := range l.items {
		if x == c {
			return true
		}
	}
	return false
}

// Find returns the conference whose guid matches.
func (l *List) Find(guid string) *Conference {
	if guid == "" {
		return nil
	}
	for _, c := range l.items {
		if schema.GUIDsEqual(c.GUID, guid) {
			return c
		}
	}
	return nil
}

// FindConversation returns the one-to-one conference with dn.
func (l *List) FindConversation(dn string) *Conference {
	for _, c := range l.items {
		if c.ParticipantCount() != 1 {
			continue
		}
		if u := c.Participant(0); u != nil && field.EqualFoldASCII(u.DN, dn) {
			return c
		}
	}
	return nil
}

func (l *List) All() []*Conference {
	out := make([]*Conference, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List) Len() int {
	return len(l.items)
}

// Clear unlists everything, releasing the list's references.
func (l *List) Clear() {
	for _, c := range l.items {
		c.Release()
	}
	l.items = nil
}

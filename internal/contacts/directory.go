package contacts

import (
	"github.com/danmuck/groupwire/internal/protocol/field"
)

// Directory indexes user records and contacts by ASCII-lowercased identity.
// It does not own what it indexes.
type Directory struct {
	records     map[string]*UserRecord
	displayToDN map[string]string
	contacts    map[string]*Contact
}

func NewDirectory() *Directory {
	return &Directory{
		records:     make(map[string]*UserRecord),
		displayToDN: make(map[string]string),
		contacts:    make(map[string]*Contact),
	}
}

// resolve maps a dn or display id to a lowercased dn.
func (d *Directory) resolve(name string) (string, bool) {
	key := field.LowerASCII(name)
	if IsDN(key) {
		return key, true
	}
	dn, ok := d.displayToDN[key]
	return dn, ok
}

// AddRecord indexes u by dn and display id.
func (d *Directory) AddRecord(u *UserRecord) {
	if u == nil || u.DN == "" {
		return
	}
	dn := field.LowerASCII(u.DN)
	d.records[dn] = u
	if u.DisplayID != "" {
		d.displayToDN[field.LowerASCII(u.DisplayID)] = dn
	}
}

// MergeRecord updates the cached record for u.DN in place, or caches u. It
// returns the record callers should hold.
func (d *Directory) MergeRecord(u *UserRecord) *UserRecord {
	if existing := d.FindRecord(u.DN); existing != nil {
		existing.CopyFrom(u)
		d.AddRecord(existing)
		return existing
	}
	d.AddRecord(u)
	return u
}

// FindRecord looks a record up by dn or display id.
func (d *Directory) FindRecord(name string) *UserRecord {
	dn, ok := d.resolve(name)
	if !ok {
		return nil
	}
	return d.records[dn]
}

// LookupDN returns the dn for a display id.
func (d *Directory) LookupDN(displayID string) (string, bool) {
	dn, ok := d.displayToDN[field.LowerASCII(displayID)]
	return dn, ok
}

func (d *Directory) Records() int {
	return len(d.records)
}

func (d *Directory) AddContact(c *Contact) {
	if c == nil || c.DN == "" {
		return
	}
	d.contacts[field.LowerASCII(c.DN)] = c
}

// RemoveContact drops c from the index if c is the indexed contact for its dn.
func (d *Directory) RemoveContact(c *Contact) {
	if c == nil {
		return
	}
	key := field.LowerASCII(c.DN)
	if d.contacts[key] == c {
		delete(d.contacts, key)
	}
}

func (d *Directory) FindContact(name string) *Contact {
	dn, ok := d.resolve(name)
	if !ok {
		return nil
	}
	return d.contacts[dn]
}

// Clear drops every index entry.
func (d *Directory) Clear() {
	clear(d.records)
	clear(d.displayToDN)
	clear(d.contacts)
}

package contacts

import (
	"strconv"

	"github.com/danmuck/groupwire/internal/protocol/field"
	"github.com/danmuck/groupwire/internal/protocol/schema"
)

// RootID is the object id of the implicit root folder.
const RootID = 0

type Contact struct {
	ID          int
	ParentID    int
	Sequence    int
	DN          string
	DisplayName string
	User        *UserRecord
}

type Folder struct {
	ID       int
	ParentID int
	Sequence int
	Name     string
	Contacts []*Contact
	Folders  []*Folder
}

func intOf(l field.List, tag string) int {
	n, _ := l.Int(tag)
	return n
}

// ContactFromFields builds a contact from one contact array.
func ContactFromFields(l field.List) *Contact {
	return &Contact{
		ID:          intOf(l, schema.TagObjectID),
		ParentID:    intOf(l, schema.TagParentID),
		Sequence:    intOf(l, schema.TagSequence),
		DN:          l.Text(schema.TagDN),
		DisplayName: l.Text(schema.TagDisplayName),
	}
}

// ToFields renders c the way the server describes contacts.
func (c *Contact) ToFields() field.List {
	return field.List{
		field.String(schema.TagObjectID, strconv.Itoa(c.ID)),
		field.String(schema.TagParentID, strconv.Itoa(c.ParentID)),
		field.String(schema.TagSequence, strconv.Itoa(c.Sequence)),
		field.String(schema.TagDisplayName, c.DisplayName),
		field.DN(schema.TagDN, c.DN),
	}
}

func FolderFromFields(l field.List) *Folder {
	return &Folder{
		ID:       intOf(l, schema.TagObjectID),
		ParentID: intOf(l, schema.TagParentID),
		Sequence: intOf(l, schema.TagSequence),
		Name:     l.Text(schema.TagDisplayName),
	}
}

func (f *Folder) ToFields() field.List {
	return field.List{
		field.String(schema.TagObjectID, strconv.Itoa(f.ID)),
		field.String(schema.TagParentID, strconv.Itoa(f.ParentID)),
		field.String(schema.TagSequence, strconv.Itoa(f.Sequence)),
		field.String(schema.TagDisplayName, f.Name),
	}
}

func (f *Folder) addContact(c *Contact) {
	c.ParentID = f.ID
	f.Contacts = append(f.Contacts, c)
}

func (f *Folder) removeContact(c *Contact) bool {
	for i, x := range f.Contacts {
		if x == c {
			f.Contacts = append(f.Contacts[:i], f.Contacts[i+1:]...)
			return true
		}
	}
	return false
}

func (f *Folder) removeFolder(sub *Folder) bool {
	for i, x := range f.Folders {
		if x == sub {
			f.Folders = append(f.Folders[:i], f.Folders[i+1:]...)
			return true
		}
	}
	return false
}

// FindContact returns the first contact in f (not subfolders) with dn.
func (f *Folder) FindContact(dn string) *Contact {
	for _, c := range f.Contacts {
		if field.EqualFoldASCII(c.DN, dn) {
			return c
		}
	}
	return nil
}

// walk visits every folder depth first, root included.
func (f *Folder) walk(fn func(*Folder) bool) bool {
	if !fn(f) {
		return false
	}
	for _, sub := range f.Folders {
		if !sub.walk(fn) {
			return false
		}
	}
	return true
}

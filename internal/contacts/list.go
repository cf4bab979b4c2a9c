package contacts

import (
	logs "github.com/danmuck/groupwire/internal/logging"
	"github.com/danmuck/groupwire/internal/protocol/field"
	"github.com/danmuck/groupwire/internal/protocol/schema"
)

type ChangeKind int

const (
	ChangeAdded ChangeKind = iota + 1
	ChangeUpdated
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeUpdated:
		return "updated"
	case ChangeRemoved:
		return "removed"
	}
	return "unknown"
}

// Change describes one mutation applied to the mirror. Exactly one of
// Contact and Folder is set.
type Change struct {
	Kind    ChangeKind
	Contact *Contact
	Folder  *Folder
}

// List is the local mirror of the server contact list.
type List struct {
	Root *Folder
}

func NewList() *List {
	return &List{Root: &Folder{ID: RootID}}
}

// Build populates an empty mirror from login fields: folders first, then
// contacts.
func (l *List) Build(fields field.List) []Change {
	items, ok := fields.Children(schema.TagContactList)
	if !ok {
		return nil
	}
	var changes []Change
	for _, f := range items.All(schema.TagFolder) {
		changes = append(changes, l.applyItem(f.With(field.MethodAdd))...)
	}
	for _, f := range items.All(schema.TagContact) {
		changes = append(changes, l.applyItem(f.With(field.MethodAdd))...)
	}
	return changes
}

// Apply runs a contact-list mutation set, either a verb response or a
// contact-list event, against the mirror. A Results wrapper and a contact
// list array are both unwrapped.
func (l *List) Apply(fields field.List) []Change {
	items := fields
	if inner, ok := items.Children(schema.TagResults); ok {
		items = inner
	}
	if inner, ok := items.Children(schema.TagContactList); ok {
		items = inner
	}
	var changes []Change
	for _, f := range items {
		if !f.Type.IsList() {
			continue
		}
		if !field.EqualFoldASCII(f.Tag, schema.TagContact) && !field.EqualFoldASCII(f.Tag, schema.TagFolder) {
			continue
		}
		changes = append(changes, l.applyItem(f)...)
	}
	return changes
}

func (l *List) applyItem(f field.Field) []Change {
	idText := f.Children.Text(schema.TagObjectID)
	if idText == "" {
		return nil
	}
	id, ok := f.Children.Int(schema.TagObjectID)
	if !ok {
		logs.Warnf("contacts.Apply bad object id tag=%s id=%q", f.Tag, idText)
		return nil
	}
	isFolder := field.EqualFoldASCII(f.Tag, schema.TagFolder)
	contact, folder := l.FindByObjectID(id)

	switch {
	case contact != nil && !isFolder:
		return l.applyKnownContact(contact, f)
	case folder != nil && isFolder:
		return l.applyKnownFolder(folder, f)
	case contact == nil && folder == nil && f.Method == field.MethodAdd:
		if isFolder {
			nf := FolderFromFields(f.Children)
			parent := l.FolderByID(nf.ParentID)
			if parent == nil {
				parent = l.Root
			}
			nf.ParentID = parent.ID
			parent.Folders = append(parent.Folders, nf)
			logs.Debugf("contacts.Apply folder added id=%d name=%q", nf.ID, nf.Name)
			return []Change{{Kind: ChangeAdded, Folder: nf}}
		}
		nc := ContactFromFields(f.Children)
		parent := l.FolderByID(nc.ParentID)
		if parent == nil {
			logs.Warnf("contacts.Apply unknown parent id=%d contact=%d, using root", nc.ParentID, nc.ID)
			parent = l.Root
		}
		parent.addContact(nc)
		logs.Debugf("contacts.Apply contact added id=%d parent=%d dn=%s", nc.ID, parent.ID, nc.DN)
		return []Change{{Kind: ChangeAdded, Contact: nc}}
	}
	return nil
}

func (l *List) applyKnownContact(c *Contact, f field.Field) []Change {
	switch f.Method {
	case field.MethodAdd:
		update := ContactFromFields(f.Children)
		if update.DisplayName != "" {
			c.DisplayName = update.DisplayName
		}
		if update.DN != "" {
			c.DN = update.DN
		}
		c.Sequence = update.Sequence
		if f.Children.Text(schema.TagParentID) != "" && update.ParentID != c.ParentID {
			if dst := l.FolderByID(update.ParentID); dst != nil {
				if src := l.FolderByID(c.ParentID); src != nil {
					src.removeContact(c)
				}
				dst.addContact(c)
			}
		}
		return []Change{{Kind: ChangeUpdated, Contact: c}}
	case field.MethodDelete:
		if parent := l.FolderByID(c.ParentID); parent != nil {
			parent.removeContact(c)
		}
		logs.Debugf("contacts.Apply contact removed id=%d", c.ID)
		return []Change{{Kind: ChangeRemoved, Contact: c}}
	}
	return nil
}

func (l *List) applyKnownFolder(folder *Folder, f field.Field) []Change {
	switch f.Method {
	case field.MethodAdd:
		update := FolderFromFields(f.Children)
		if update.Name != "" {
			folder.Name = update.Name
		}
		folder.Sequence = update.Sequence
		return []Change{{Kind: ChangeUpdated, Folder: folder}}
	case field.MethodDelete:
		if folder == l.Root {
			return nil
		}
		parent := l.FolderByID(folder.ParentID)
		if parent == nil {
			parent = l.Root
		}
		parent.removeFolder(folder)
		changes := []Change{{Kind: ChangeRemoved, Folder: folder}}
		folder.walk(func(sub *Folder) bool {
			for _, c := range sub.Contacts {
				changes = append(changes, Change{Kind: ChangeRemoved, Contact: c})
			}
			return true
		})
		logs.Debugf("contacts.Apply folder removed id=%d", folder.ID)
		return changes
	}
	return nil
}

// FindByObjectID returns the contact or folder carrying id. Contacts win
// when a folder and a contact share an id.
func (l *List) FindByObjectID(id int) (*Contact, *Folder) {
	var contact *Contact
	var folder *Folder
	l.Root.walk(func(f *Folder) bool {
		for _, c := range f.Contacts {
			if c.ID == id {
				contact = c
				return false
			}
		}
		if folder == nil && f.ID == id {
			folder = f
		}
		return true
	})
	if contact != nil {
		return contact, nil
	}
	return nil, folder
}

// FolderByID returns the folder with id; 0 is the root.
func (l *List) FolderByID(id int) *Folder {
	if id == RootID {
		return l.Root
	}
	var out *Folder
	l.Root.walk(func(f *Folder) bool {
		if f.ID == id {
			out = f
			return false
		}
		return true
	})
	return out
}

// FolderByName returns the folder named name, ignoring ASCII case; "" is
// the root.
func (l *List) FolderByName(name string) *Folder {
	if name == "" {
		return l.Root
	}
	var out *Folder
	l.Root.walk(func(f *Folder) bool {
		if f != l.Root && field.EqualFoldASCII(f.Name, name) {
			out = f
			return false
		}
		return true
	})
	return out
}

// FindContacts returns every contact for dn, one per folder it appears in.
func (l *List) FindContacts(dn string) []*Contact {
	var out []*Contact
	l.Root.walk(func(f *Folder) bool {
		if c := f.FindContact(dn); c != nil {
			out = append(out, c)
		}
		return true
	})
	return out
}

// Contacts returns every contact in folder order.
func (l *List) Contacts() []*Contact {
	var out []*Contact
	l.Root.walk(func(f *Folder) bool {
		out = append(out, f.Contacts...)
		return true
	})
	return out
}

package contacts

import (
	"strings"
	"time"

	"github.com/danmuck/groupwire/internal/protocol/field"
	"github.com/danmuck/groupwire/internal/protocol/schema"
)

// UserRecord holds what the server told us about one user.
type UserRecord struct {
	DN         string
	UserID     string
	DisplayID  string
	FullName   string
	GivenName  string
	Surname    string
	Status     schema.Status
	StatusText string
	StatusTime time.Time
	IdleSince  time.Time
	Fields     field.List
}

// RecordFromFields builds a record from a details list. It fails when the
// list carries no dn.
func RecordFromFields(l field.List) (*UserRecord, bool) {
	dn := l.Text(schema.TagDN)
	if dn == "" {
		return nil, false
	}
	u := &UserRecord{
		DN:         dn,
		UserID:     l.Text(schema.TagUserID),
		FullName:   l.Text(schema.TagFullName),
		GivenName:  l.Text(schema.TagGivenName),
		Surname:    l.Text(schema.TagSurname),
		StatusText: l.Text(schema.TagStatusText),
		Fields:     l.Copy(),
	}
	if st, ok := l.Int(schema.TagStatus); ok {
		u.Status = schema.Status(st)
	}
	if idle, ok := l.Int(schema.TagIdleSince); ok && idle > 0 {
		u.IdleSince = time.Unix(int64(idle), 0)
	}
	u.DisplayID = u.UserID
	if u.DisplayID == "" {
		u.DisplayID = TypedToDotted(dn)
	}
	return u, true
}

// CopyFrom overwrites u with o, keeping u's identity for holders of the
// pointer.
func (u *UserRecord) CopyFrom(o *UserRecord) {
	if u == o || o == nil {
		return
	}
	*u = *o
	u.Fields = o.Fields.Copy()
}

// SetStatus records a presence change observed at ts.
func (u *UserRecord) SetStatus(s schema.Status, text string, ts time.Time) {
	u.Status = s
	u.StatusText = text
	u.StatusTime = ts
	if s == schema.StatusAwayIdle {
		if u.IdleSince.IsZero() {
			u.IdleSince = ts
		}
	} else {
		u.IdleSince = time.Time{}
	}
}

// DisplayName is the friendliest name the record offers.
func (u *UserRecord) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	if name := strings.TrimSpace(u.GivenName + " " + u.Surname); name != "" {
		return name
	}
	return u.DisplayID
}

// TypedToDotted converts "cn=alice,ou=eng,o=corp" into "alice.eng.corp".
func TypedToDotted(typed string) string {
	parts := strings.Split(typed, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		_, value, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		out = append(out, value)
	}
	return strings.Join(out, ".")
}

// IsDN reports whether name looks like a typed distinguished name rather
// than a display id.
func IsDN(name string) bool {
	return strings.Contains(name, "=")
}

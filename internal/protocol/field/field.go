package field

import (
	"strconv"
	"strings"
)

// Type is the wire type number of a field.
type Type uint8

const (
	TypeInvalid    Type = 0
	TypeBinary     Type = 1
	TypeByte       Type = 2
	TypeUByte      Type = 3
	TypeWord       Type = 4
	TypeUWord      Type = 5
	TypeDWord      Type = 6
	TypeUDWord     Type = 7
	TypeArray      Type = 9
	TypeUTF8       Type = 10
	TypeBool       Type = 11
	TypeMultiValue Type = 12
	TypeDN         Type = 13
)

// IsList reports whether values of t are nested field lists.
func (t Type) IsList() bool {
	return t == TypeArray || t == TypeMultiValue
}

// IsString reports whether values of t are text.
func (t Type) IsString() bool {
	return t == TypeUTF8 || t == TypeDN
}

// IsNumeric reports whether values of t travel as a 4-byte scalar.
func (t Type) IsNumeric() bool {
	switch t {
	case TypeByte, TypeUByte, TypeWord, TypeUWord, TypeDWord, TypeUDWord, TypeBool:
		return true
	}
	return false
}

func (t Type) valid() bool {
	return t.IsList() || t.IsString() || t.IsNumeric() || t == TypeBinary
}

// Method qualifies a field: a query operator in requests, a mutation kind
// in contact-list notifications.
type Method uint8

const (
	MethodValid      Method = 0
	MethodIgnore     Method = 1
	MethodDelete     Method = 2
	MethodDeleteAll  Method = 3
	MethodEqual      Method = 4
	MethodAdd        Method = 5
	MethodUpdate     Method = 6
	MethodGTE        Method = 10
	MethodLTE        Method = 12
	MethodNE         Method = 14
	MethodExist      Method = 15
	MethodNotExist   Method = 16
	MethodSearch     Method = 17
	MethodMatchBegin Method = 19
	MethodMatchEnd   Method = 20
	MethodNotArray   Method = 40
	MethodOrArray    Method = 41
	MethodAndArray   Method = 42
)

// Field is one tagged, typed value. Exactly one of the value slots is
// meaningful for a given Type: Uint for numeric types, Text for UTF8/DN,
// Blob for binary and Children for array/multi-value.
type Field struct {
	Tag      string
	Type     Type
	Method   Method
	Size     uint32
	Uint     uint32
	Text     string
	Blob     []byte
	Children List
}

// List is an ordered field list. The wire terminator is implicit.
type List []Field

func String(tag, v string) Field {
	return Field{Tag: tag, Type: TypeUTF8, Size: uint32(len(v)), Text: v}
}

func DN(tag, v string) Field {
	return Field{Tag: tag, Type: TypeDN, Size: uint32(len(v)), Text: v}
}

func UDWord(tag string, v uint32) Field {
	return Field{Tag: tag, Type: TypeUDWord, Uint: v}
}

func DWord(tag string, v int32) Field {
	return Field{Tag: tag, Type: TypeDWord, Uint: uint32(v)}
}

func Bool(tag string, v bool) Field {
	f := Field{Tag: tag, Type: TypeBool}
	if v {
		f.Uint = 1
	}
	return f
}

func Binary(tag string, v []byte) Field {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Field{Tag: tag, Type: TypeBinary, Size: uint32(len(buf)), Blob: buf}
}

// Array wraps children in an array field. The field takes ownership of children.
func Array(tag string, children ...Field) Field {
	return Field{Tag: tag, Type: TypeArray, Children: List(children)}
}

// MultiValue wraps children in a multi-value field.
func MultiValue(tag string, children ...Field) Field {
	return Field{Tag: tag, Type: TypeMultiValue, Children: List(children)}
}

// With returns a copy of f carrying method m.
func (f Field) With(m Method) Field {
	f.Method = m
	return f
}

// Int returns the field value as a signed integer. Numeric types are sign
// extended by width; string types are parsed as decimal, which is how the
// service carries ids, status values and result codes.
func (f Field) Int() (int, bool) {
	switch f.Type {
	case TypeByte:
		return int(int8(f.Uint)), true
	case TypeWord:
		return int(int16(f.Uint)), true
	case TypeDWord:
		return int(int32(f.Uint)), true
	case TypeUByte, TypeUWord, TypeUDWord, TypeBool:
		return int(f.Uint), true
	case TypeUTF8, TypeDN:
		n, err := strconv.Atoi(strings.TrimSpace(f.Text))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Copy deep-copies f, including nested lists and binary payloads.
func (f Field) Copy() Field {
	out := f
	if f.Blob != nil {
		out.Blob = make([]byte, len(f.Blob))
		copy(out.Blob, f.Blob)
	}
	if f.Children != nil {
		out.Children = f.Children.Copy()
	}
	return out
}

// Copy deep-copies the list. The result shares no mutable state with l.
func (l List) Copy() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	for i, f := range l {
		out[i] = f.Copy()
	}
	return out
}

// Find returns the first field whose tag matches, ignoring ASCII case.
func (l List) Find(tag string) (Field, bool) {
	for _, f := range l {
		if EqualFoldASCII(f.Tag, tag) {
			return f, true
		}
	}
	return Field{}, false
}

// Find is the package-level form of List.Find.
func Find(tag string, l List) (Field, bool) {
	return l.Find(tag)
}

// All returns every field matching tag, in order.
func (l List) All(tag string) List {
	var out List
	for _, f := range l {
		if EqualFoldASCII(f.Tag, tag) {
			out = append(out, f)
		}
	}
	return out
}

// Text returns the text value of the first field tagged tag, or "".
func (l List) Text(tag string) string {
	f, ok := l.Find(tag)
	if !ok {
		return ""
	}
	return f.Text
}

// Int returns the integer value of the first field tagged tag.
func (l List) Int(tag string) (int, bool) {
	f, ok := l.Find(tag)
	if !ok {
		return 0, false
	}
	return f.Int()
}

// Children returns the nested list of the first list-typed field tagged tag.
func (l List) Children(tag string) (List, bool) {
	f, ok := l.Find(tag)
	if !ok || !f.Type.IsList() {
		return nil, false
	}
	return f.Children, true
}

// Append returns a copy of l with fields appended. l itself is not modified.
func (l List) Append(fields ...Field) List {
	out := make(List, 0, len(l)+len(fields))
	out = append(out, l.Copy()...)
	for _, f := range fields {
		out = append(out, f.Copy())
	}
	return out
}

// Without returns a copy of l minus every field tagged tag.
func (l List) Without(tag string) List {
	out := make(List, 0, len(l))
	for _, f := range l {
		if EqualFoldASCII(f.Tag, tag) {
			continue
		}
		out = append(out, f.Copy())
	}
	return out
}

// Replace drops the existing fields tagged f.Tag and appends f, keeping
// type and size consistent with the new value.
func (l List) Replace(f Field) List {
	return l.Without(f.Tag).Append(f)
}

// EqualFoldASCII compares two identifiers ignoring ASCII case only.
func EqualFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if lowerASCII(a[i]) != lowerASCII(b[i]) {
			return false
		}
	}
	return true
}

// LowerASCII lowercases ASCII letters and leaves every other byte alone.
func LowerASCII(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				b[j] = lowerASCII(b[j])
			}
			return string(b)
		}
	}
	return s
}

func lowerASCII(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

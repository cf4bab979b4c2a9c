package field

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

var methodChars = map[Method]byte{
	MethodValid:      '0',
	MethodAdd:        '1',
	MethodDelete:     '2',
	MethodDeleteAll:  '3',
	MethodAndArray:   '4',
	MethodOrArray:    '5',
	MethodNotArray:   '6',
	MethodMatchEnd:   '7',
	MethodMatchBegin: '8',
	MethodSearch:     '9',
	MethodNotExist:   'A',
	MethodExist:      'B',
	MethodNE:         'C',
	MethodLTE:        'D',
	MethodGTE:        'E',
	MethodUpdate:     'F',
	MethodEqual:      'G',
}

var charMethods = func() map[byte]Method {
	out := make(map[byte]Method, len(methodChars))
	for m, c := range methodChars {
		out[c] = m
	}
	return out
}()

// MethodChar returns the request-form character for m. Methods without a
// form encoding travel as '0'.
func MethodChar(m Method) byte {
	if c, ok := methodChars[m]; ok {
		return c
	}
	return '0'
}

// WriteForm writes l in request-form encoding:
// &tag=<tag>&cmd=<method>&val=<value>&type=<type> per field.
// Binary fields have no form encoding and are skipped, and array counts only
// include the children that are actually written.
func WriteForm(w io.Writer, l List) error {
	var b strings.Builder
	if err := appendForm(&b, l, 0); err != nil {
		return err
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func appendForm(b *strings.Builder, l List, depth int) error {
	if depth > DefaultLimits().MaxDepth {
		return ErrNestingTooDeep
	}
	for _, f := range l {
		if f.Type == TypeBinary {
			continue
		}
		if !f.Type.valid() {
			return fmt.Errorf("%w: %d", ErrUnknownType, f.Type)
		}
		if f.Tag == "" || strings.ContainsAny(f.Tag, "&=\r\n") {
			return fmt.Errorf("%w: %q", ErrInvalidTag, f.Tag)
		}

		var val string
		switch {
		case f.Type.IsList():
			val = strconv.Itoa(formCount(f.Children))
		case f.Type.IsString():
			val = Escape(f.Text)
		default:
			n, _ := f.Int()
			val = strconv.Itoa(n)
		}
		b.WriteString("&tag=")
		b.WriteString(f.Tag)
		b.WriteString("&cmd=")
		b.WriteByte(MethodChar(f.Method))
		b.WriteString("&val=")
		b.WriteString(val)
		b.WriteString("&type=")
		b.WriteString(strconv.Itoa(int(f.Type)))

		if f.Type.IsList() {
			if err := appendForm(b, f.Children, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func formCount(l List) int {
	n := 0
	for _, f := range l {
		if f.Type != TypeBinary {
			n++
		}
	}
	return n
}

// Escape percent-encodes s for a form value: space becomes '+', ASCII
// letters and digits pass through, every other byte becomes %XX.
func Escape(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ':
			b.WriteByte('+')
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0F])
		}
	}
	return b.String()
}

type formRecord struct {
	tag string
	cmd string
	val string
	typ string
}

// ParseForm parses one request-form body as written by WriteForm. A trailing
// CRLF is tolerated.
func ParseForm(body string) (List, error) {
	body = strings.TrimRight(body, "\r\n")
	if body == "" {
		return nil, nil
	}
	if !strings.HasPrefix(body, "&") {
		return nil, fmt.Errorf("%w: missing leading separator", ErrMalformedForm)
	}
	parts := strings.Split(body[1:], "&")
	if len(parts)%4 != 0 {
		return nil, fmt.Errorf("%w: %d pairs", ErrMalformedForm, len(parts))
	}
	records := make([]formRecord, 0, len(parts)/4)
	for i := 0; i < len(parts); i += 4 {
		var rec formRecord
		for j, dst := range []*string{&rec.tag, &rec.cmd, &rec.val, &rec.typ} {
			key, value, ok := strings.Cut(parts[i+j], "=")
			want := [...]string{"tag", "cmd", "val", "type"}[j]
			if !ok || key != want {
				return nil, fmt.Errorf("%w: expected %s at %q", ErrMalformedForm, want, parts[i+j])
			}
			*dst = value
		}
		records = append(records, rec)
	}

	limits := DefaultLimits()
	if uint32(len(records)) > limits.MaxFields {
		return nil, ErrTooManyFields
	}
	out, _, err := buildForm(records, -1, 0, limits)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// buildForm consumes count records, or every remaining record when count is
// negative. Arrays consume exactly the number of children they announce.
func buildForm(records []formRecord, count int, depth int, limits Limits) (List, []formRecord, error) {
	if depth > limits.MaxDepth {
		return nil, nil, ErrNestingTooDeep
	}
	var out List
	for i := 0; count < 0 || i < count; i++ {
		if len(records) == 0 {
			if count < 0 {
				break
			}
			return nil, nil, ErrCountMismatch
		}
		rec := records[0]
		records = records[1:]

		typ, err := strconv.Atoi(rec.typ)
		if err != nil || typ < 0 || typ > 255 || !Type(typ).valid() {
			return nil, nil, fmt.Errorf("%w: type %q", ErrUnknownType, rec.typ)
		}
		if len(rec.cmd) != 1 {
			return nil, nil, fmt.Errorf("%w: cmd %q", ErrMalformedForm, rec.cmd)
		}
		method, ok := charMethods[rec.cmd[0]]
		if !ok {
			return nil, nil, fmt.Errorf("%w: cmd %q", ErrMalformedForm, rec.cmd)
		}
		if len(rec.tag) > MaxTagLen {
			return nil, nil, ErrTagTooLong
		}
		f := Field{Tag: rec.tag, Type: Type(typ), Method: method}

		switch {
		case f.Type.IsList():
			n, err := strconv.Atoi(rec.val)
			if err != nil || n < 0 {
				return nil, nil, fmt.Errorf("%w: count %q", ErrMalformedForm, rec.val)
			}
			f.Children, records, err = buildForm(records, n, depth+1, limits)
			if err != nil {
				return nil, nil, err
			}
		case f.Type.IsString():
			text, err := url.QueryUnescape(rec.val)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrMalformedForm, err)
			}
			if uint32(len(text)) > limits.MaxValueLen {
				return nil, nil, ErrValueTooLong
			}
			f.Text = text
			f.Size = uint32(len(text))
		default:
			n, err := strconv.ParseInt(rec.val, 10, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: value %q", ErrMalformedForm, rec.val)
			}
			f.Uint = narrow(f.Type, n)
		}
		out = append(out, f)
	}
	return out, records, nil
}

func narrow(t Type, n int64) uint32 {
	switch t {
	case TypeByte, TypeUByte:
		return uint32(uint8(n))
	case TypeWord, TypeUWord:
		return uint32(uint16(n))
	}
	return uint32(n)
}

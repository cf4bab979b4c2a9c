package field

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxTagLen is the size of the fixed tag buffer. Longer tags are rejected
// before anything is copied.
const MaxTagLen = 64

// Unbounded reads until the terminator record.
const Unbounded = -1

// Limits constrains decode memory use.
type Limits struct {
	MaxValueLen uint32
	MaxFields   uint32
	MaxDepth    int
}

func DefaultLimits() Limits {
	return Limits{
		MaxValueLen: 1 << 20,
		MaxFields:   4096,
		MaxDepth:    16,
	}
}

// ExactReader fills p completely or fails. transport.Conn implements it with
// its bounded would-block retry; plain readers are adapted with io.ReadFull.
type ExactReader interface {
	ReadExact(p []byte) error
}

type fullReader struct {
	r io.Reader
}

func (f fullReader) ReadExact(p []byte) error {
	if _, err := io.ReadFull(f.r, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}
		return err
	}
	return nil
}

func asExact(r io.Reader) ExactReader {
	if er, ok := r.(ExactReader); ok {
		return er
	}
	return fullReader{r: r}
}

// Decode reads records from r until a terminator record or until max records
// have been read. Pass Unbounded to stop at the terminator only.
func Decode(r io.Reader, max int) (List, error) {
	return DecodeWithLimits(r, max, DefaultLimits())
}

func DecodeWithLimits(r io.Reader, max int, limits Limits) (List, error) {
	d := decoder{r: asExact(r), limits: limits}
	return d.list(max, 0, false)
}

type decoder struct {
	r      ExactReader
	limits Limits
	buf    [4]byte
}

func (d *decoder) u8() (uint8, error) {
	if err := d.r.ReadExact(d.buf[:1]); err != nil {
		return 0, err
	}
	return d.buf[0], nil
}

func (d *decoder) u32() (uint32, error) {
	if err := d.r.ReadExact(d.buf[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(d.buf[:4]), nil
}

// list reads up to max records. Nested lists must end with their own
// terminator once max records have been read.
func (d *decoder) list(max int, depth int, nested bool) (List, error) {
	if depth > d.limits.MaxDepth {
		return nil, ErrNestingTooDeep
	}
	var out List
	for max < 0 || len(out) < max {
		t, err := d.u8()
		if err != nil {
			return nil, err
		}
		if Type(t) == TypeInvalid {
			if nested && len(out) != max {
				return nil, ErrCountMismatch
			}
			return out, nil
		}
		if uint32(len(out)) >= d.limits.MaxFields {
			return nil, ErrTooManyFields
		}
		f, err := d.record(Type(t), depth)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if nested {
		t, err := d.u8()
		if err != nil {
			return nil, err
		}
		if Type(t) != TypeInvalid {
			return nil, ErrCountMismatch
		}
	}
	return out, nil
}

func (d *decoder) record(t Type, depth int) (Field, error) {
	if !t.valid() {
		return Field{}, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	method, err := d.u8()
	if err != nil {
		return Field{}, err
	}
	tagLen, err := d.u32()
	if err != nil {
		return Field{}, err
	}
	if tagLen > MaxTagLen {
		return Field{}, fmt.Errorf("%w: %d bytes", ErrTagTooLong, tagLen)
	}
	tag := make([]byte, tagLen)
	if err := d.r.ReadExact(tag); err != nil {
		return Field{}, err
	}
	f := Field{Tag: string(tag), Type: t, Method: Method(method)}

	switch {
	case t.IsList():
		count, err := d.u32()
		if err != nil {
			return Field{}, err
		}
		if count > d.limits.MaxFields {
			return Field{}, ErrTooManyFields
		}
		children, err := d.list(int(count), depth+1, true)
		if err != nil {
			return Field{}, err
		}
		f.Children = children
	case t.IsString() || t == TypeBinary:
		size, err := d.u32()
		if err != nil {
			return Field{}, err
		}
		if size > d.limits.MaxValueLen {
			return Field{}, fmt.Errorf("%w: %d bytes", ErrValueTooLong, size)
		}
		payload := make([]byte, size)
		if err := d.r.ReadExact(payload); err != nil {
			return Field{}, err
		}
		f.Size = size
		if t == TypeBinary {
			f.Blob = payload
		} else {
			f.Text = string(payload)
		}
	default:
		v, err := d.u32()
		if err != nil {
			return Field{}, err
		}
		f.Uint = v
	}
	return f, nil
}

// Encode writes l as binary records followed by a terminator record.
func Encode(w io.Writer, l List) error {
	if err := encodeList(w, l, 0); err != nil {
		return err
	}
	return nil
}

func encodeList(w io.Writer, l List, depth int) error {
	if depth > DefaultLimits().MaxDepth {
		return ErrNestingTooDeep
	}
	for _, f := range l {
		if err := encodeRecord(w, f, depth); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{byte(TypeInvalid)})
	return err
}

func encodeRecord(w io.Writer, f Field, depth int) error {
	if !f.Type.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownType, f.Type)
	}
	if len(f.Tag) > MaxTagLen {
		return ErrTagTooLong
	}
	head := make([]byte, 0, 2+4+len(f.Tag)+4)
	head = append(head, byte(f.Type), byte(f.Method))
	head = binary.LittleEndian.AppendUint32(head, uint32(len(f.Tag)))
	head = append(head, f.Tag...)

	switch {
	case f.Type.IsList():
		head = binary.LittleEndian.AppendUint32(head, uint32(len(f.Children)))
		if _, err := w.Write(head); err != nil {
			return err
		}
		return encodeList(w, f.Children, depth+1)
	case f.Type.IsString():
		head = binary.LittleEndian.AppendUint32(head, uint32(len(f.Text)))
		head = append(head, f.Text...)
	case f.Type == TypeBinary:
		head = binary.LittleEndian.AppendUint32(head, uint32(len(f.Blob)))
		head = append(head, f.Blob...)
	default:
		head = binary.LittleEndian.AppendUint32(head, f.Uint)
	}
	_, err := w.Write(head)
	return err
}

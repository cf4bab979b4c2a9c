package frame

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/protocol/field"
)

const (
	// ResponseMagic opens every response; anything else opens an event.
	ResponseMagic = "HTTP"

	StatusOK       = 200
	StatusRedirect = 301

	EventHeaderLen = 4
)

var (
	ErrLineTooLong      = fmt.Errorf("%w: header line too long", protocol.ErrProtocol)
	ErrTooManyHeaders   = fmt.Errorf("%w: too many header lines", protocol.ErrProtocol)
	ErrMalformedStatus  = fmt.Errorf("%w: malformed status line", protocol.ErrProtocol)
	ErrMalformedRequest = fmt.Errorf("%w: malformed request line", protocol.ErrProtocol)
	ErrShortEvent       = fmt.Errorf("%w: short event header", protocol.ErrProtocol)
	ErrInvalidVerb      = errors.New("frame: invalid verb")
)

// Limits constrains header parsing.
type Limits struct {
	MaxLineBytes   int
	MaxHeaderLines int
	MaxBodyBytes   int
}

func DefaultLimits() Limits {
	return Limits{
		MaxLineBytes:   512,
		MaxHeaderLines: 32,
		MaxBodyBytes:   1 << 20,
	}
}

// Request is one client call as it appears on the wire.
type Request struct {
	Verb   string
	Host   string
	Fields field.List
}

// Status is a parsed response status line.
type Status struct {
	Proto  string
	Code   int
	Reason string
}

// Redirect reports whether the server asked for a TLS reconnect.
func (s Status) Redirect() bool {
	return s.Code == StatusRedirect
}

// OK reports whether field decoding should follow.
func (s Status) OK() bool {
	return s.Code >= 200 && s.Code < 300
}

// IsResponse reports whether the first bytes of a frame open a response.
func IsResponse(prefix []byte) bool {
	return len(prefix) >= len(ResponseMagic) && string(prefix[:len(ResponseMagic)]) == ResponseMagic
}

// WriteRequest writes the request line, the Host header when set, the blank
// line and the form-encoded fields followed by CRLF.
func WriteRequest(w io.Writer, req Request) error {
	if req.Verb == "" || strings.ContainsAny(req.Verb, " /\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidVerb, req.Verb)
	}
	var buf bytes.Buffer
	buf.WriteString("POST /")
	buf.WriteString(req.Verb)
	buf.WriteString(" HTTP/1.0\r\n")
	if req.Host != "" {
		buf.WriteString("Host: ")
		buf.WriteString(req.Host)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	if err := field.WriteForm(&buf, req.Fields); err != nil {
		return err
	}
	buf.WriteString("\r\n")
	_, err := w.Write(buf.Bytes())
	return err
}

// ParseStatusLine parses "HTTP/1.x <code> [reason]".
func ParseStatusLine(line string) (Status, error) {
	line = strings.TrimRight(line, "\r\n")
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, ResponseMagic+"/") {
		return Status{}, fmt.Errorf("%w: %q", ErrMalformedStatus, line)
	}
	codeText, reason, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")
	code, err := strconv.Atoi(codeText)
	if err != nil || code < 100 || code > 999 {
		return Status{}, fmt.Errorf("%w: %q", ErrMalformedStatus, line)
	}
	return Status{Proto: proto, Code: code, Reason: reason}, nil
}

// ReadLine reads one line including its newline, up to max bytes.
func ReadLine(r *bufio.Reader, max int) (string, error) {
	var b strings.Builder
	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && b.Len() > 0 {
				return "", fmt.Errorf("%w: unterminated line", protocol.ErrProtocol)
			}
			return "", err
		}
		b.WriteByte(c)
		if c == '\n' {
			return b.String(), nil
		}
		if b.Len() >= max-1 {
			return "", ErrLineTooLong
		}
	}
}

// ReadRequest reads one request as written by WriteRequest.
func ReadRequest(r *bufio.Reader, limits Limits) (Request, error) {
	line, err := ReadLine(r, limits.MaxLineBytes)
	if err != nil {
		return Request{}, err
	}
	parts := strings.Fields(line)
	if len(parts) != 3 || parts[0] != "POST" || !strings.HasPrefix(parts[1], "/") || !strings.HasPrefix(parts[2], ResponseMagic+"/") {
		return Request{}, fmt.Errorf("%w: %q", ErrMalformedRequest, strings.TrimSpace(line))
	}
	req := Request{Verb: strings.TrimPrefix(parts[1], "/")}

	for i := 0; ; i++ {
		if i >= limits.MaxHeaderLines {
			return Request{}, ErrTooManyHeaders
		}
		h, err := ReadLine(r, limits.MaxLineBytes)
		if err != nil {
			return Request{}, err
		}
		h = strings.TrimRight(h, "\r\n")
		if h == "" {
			break
		}
		name, value, ok := strings.Cut(h, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "Host") {
			req.Host = strings.TrimSpace(value)
		}
	}

	body, err := ReadLine(r, limits.MaxBodyBytes)
	if err != nil {
		return Request{}, err
	}
	req.Fields, err = field.ParseForm(body)
	if err != nil {
		return Request{}, err
	}
	return req, nil
}

// WriteResponse writes a status line, a blank line and, for 2xx codes, the
// binary field stream.
func WriteResponse(w io.Writer, code int, fields field.List) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.0 %d %s\r\n\r\n", code, reasonPhrase(code))
	if code >= 200 && code < 300 {
		if err := field.Encode(&buf, fields); err != nil {
			return err
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func reasonPhrase(code int) string {
	switch code {
	case StatusOK:
		return "OK"
	case StatusRedirect:
		return "Moved Permanently"
	}
	return "Error"
}

// EncodeEventHeader returns the little-endian event type prefix.
func EncodeEventHeader(t uint32) []byte {
	return binary.LittleEndian.AppendUint32(make([]byte, 0, EventHeaderLen), t)
}

// DecodeEventHeader reads the event type from a 4-byte prefix.
func DecodeEventHeader(b []byte) (uint32, error) {
	if len(b) < EventHeaderLen {
		return 0, ErrShortEvent
	}
	return binary.LittleEndian.Uint32(b[:EventHeaderLen]), nil
}

// WriteEvent writes an event frame: type prefix then binary fields.
func WriteEvent(w io.Writer, t uint32, fields field.List) error {
	buf := bytes.NewBuffer(EncodeEventHeader(t))
	if err := field.Encode(buf, fields); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

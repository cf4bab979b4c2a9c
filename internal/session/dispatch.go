package session

import (
	"errors"
	"fmt"

	logs "github.com/danmuck/groupwire/internal/logging"
	"github.com/danmuck/groupwire/internal/observability"
	"github.com/danmuck/groupwire/internal/protocol"
	"github.com/danmuck/groupwire/internal/protocol/field"
	"github.com/danmuck/groupwire/internal/protocol/frame"
	"github.com/danmuck/groupwire/internal/protocol/schema"
)

// ProcessNewData consumes one response or event from the transport. The host
// calls it whenever the connection is readable.
//
// A disconnecting error tears the session down before it is returned. A TLS
// redirect is returned as protocol.ErrSSLRedirect with the session intact;
// the host reconnects.
func (s *Session) ProcessNewData() error {
	if s.closed {
		return ErrClosed
	}
	prefix, err := s.conn.Peek4()
	if err != nil {
		return s.failIfDisconnect(err)
	}
	if frame.IsResponse(prefix) {
		err = s.processResponse()
	} else {
		err = s.processEvent()
	}
	if err != nil {
		return s.failIfDisconnect(err)
	}
	return nil
}

func (s *Session) failIfDisconnect(err error) error {
	if protocol.IsDisconnect(err) {
		return s.fail(err)
	}
	return err
}

func (s *Session) processResponse() error {
	if err := s.conn.ReadHeader(); err != nil {
		if errors.Is(err, protocol.ErrSSLRedirect) {
			logs.Infof("session.response redirect to tls user=%s", s.userID)
		}
		return err
	}
	fields, err := s.conn.ReadFields(field.Unbounded)
	if err != nil {
		return err
	}
	id, ok := fields.Int(schema.TagTransactionID)
	if !ok {
		logs.Warnf("session.response without transaction id fields=%d", len(fields))
		return nil
	}
	req := s.ledger.Find(id)
	if req == nil {
		logs.Warnf("session.response unknown transaction txn=%d", id)
		return nil
	}
	observability.RecordResponse(req.Verb, uint32(resultCode(fields)), req.SentAt)
	s.handleResponse(req, fields)
	if !s.closed {
		s.ledger.Remove(req)
	}
	return nil
}

func (s *Session) processEvent() error {
	code, err := s.conn.ReadEventType()
	if err != nil {
		return err
	}
	t := schema.EventType(code)
	fields, err := s.conn.ReadFields(field.Unbounded)
	if err != nil {
		return err
	}
	observability.RecordEvent(t.String())
	logs.Debugf("session.dispatch event=%s fields=%d", t, len(fields))
	if !t.Known() {
		logs.Warnf("session.dispatch ignoring unknown event=%d", code)
		return nil
	}
	if err := schema.Validate(t, fields); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrProtocol, err)
	}
	return s.handleEvent(t, fields)
}

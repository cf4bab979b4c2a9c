package field

import (
	"fmt"

	"github.com/danmuck/groupwire/internal/protocol"
)

// Decode and encode failures all wrap protocol.ErrProtocol so the session
// classifies them as disconnecting.
var (
	ErrTagTooLong     = fmt.Errorf("%w: field tag too long", protocol.ErrProtocol)
	ErrValueTooLong   = fmt.Errorf("%w: field value too long", protocol.ErrProtocol)
	ErrTooManyFields  = fmt.Errorf("%w: too many fields", protocol.ErrProtocol)
	ErrNestingTooDeep = fmt.Errorf("%w: field nesting too deep", protocol.ErrProtocol)
	ErrTruncated      = fmt.Errorf("%w: truncated field stream", protocol.ErrProtocol)
	ErrUnknownType    = fmt.Errorf("%w: unknown field type", protocol.ErrProtocol)
	ErrCountMismatch  = fmt.Errorf("%w: array count mismatch", protocol.ErrProtocol)
	ErrInvalidTag     = fmt.Errorf("%w: invalid field tag", protocol.ErrProtocol)
	ErrMalformedForm  = fmt.Errorf("%w: malformed request form", protocol.ErrProtocol)
)

// Package protocol owns the result-code taxonomy shared by every wire layer.
//
// Ownership boundary:
// - local error codes (bad parameter, transport, protocol, redirect, preconditions)
// - server result codes surfaced verbatim to completion callbacks
// - disconnect and credential-failure classification
//
// Subpackages own the wire itself:
// - field: self-describing typed field lists and their codecs
// - frame: request line, response header and event framing
// - schema: attribute tags, verbs, event codes, required-field tables
package protocol

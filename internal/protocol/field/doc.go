// Package field owns the self-describing field list: the unit every request,
// response and event is made of.
//
// Ownership boundary:
// - field types, methods and typed constructors/accessors
// - binary record codec (server to client, and the peer's writer)
// - request form codec ("&tag=..&cmd=..&val=..&type=..", client to server)
// - tag lookup and deep copy
package field

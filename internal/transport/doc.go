// Package transport owns the byte stream to the messaging server.
//
// Conn reads and writes through either the plaintext channel or an injected
// secure one, retries would-block reads within a fixed budget, parses
// response headers and writes requests with an auto-appended transaction id.
package transport

// Package contacts mirrors the server-side contact list and caches the
// user records the session has resolved.
package contacts

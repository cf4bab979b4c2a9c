// Package session drives one GroupWise protocol session: it issues verbs,
// correlates responses through the request ledger, applies server events to
// the conference list and contact mirror, and tears everything down when the
// transport fails.
//
// A Session is not safe for concurrent use. The host drives it from a single
// goroutine (see internal/client).
package session

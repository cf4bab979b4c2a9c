// Package ledger tracks in-flight requests by transaction id.
//
// A Request is created by the transport when it is written, added to the
// Ledger by the session, and removed once its response has been handled.
// Reference counts are explicit so a handler can keep a request alive
// across nested sub-requests.
package ledger

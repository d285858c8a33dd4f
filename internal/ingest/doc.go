// Package ingest keeps a pool of websocket connections per exchange and turns
// their messages into price events.
//
// # Members
//
// Every pool member owns one socket and one goroutine. The goroutine dials,
// subscribes, reads until the socket drops and then asks its delay table how
// long to wait before the next dial. A remote close with code 1000 or a local
// Close ends the member; any other drop is a failure.
//
// # Breaker
//
// Members of one exchange share a circuit breaker. Every failure is reported
// to it, and no dial happens while it is OPEN: a refused member parks until
// the breaker half-opens or resets.
//
// # Events
//
// Decoded frames are published to price observers on the reader goroutine.
// Observers must be safe for concurrent use since each member delivers from
// its own goroutine.
package ingest

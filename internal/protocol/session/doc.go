// Package session owns link reliability settings shared by the transport
// and the engine.
//
// Ownership boundary:
// - connect/write/reply timeouts
// - reconnect policy and backoff
// - framing error tolerance
package session

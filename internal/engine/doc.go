// Package engine runs the device side of earlink.
//
// Each tracked device moves Disconnected -> Authenticating -> Connected.
// One reader goroutine per device decodes frames in receipt order; replies
// are matched to pending requests by (device, sequence number), and every
// other device-originated frame becomes an Event on the engine's bus.
//
// Requests may be issued from any goroutine. Each is bounded by the write
// timeout and, when it expects a reply, by the reply timeout; a device
// disconnect fails all of its pending requests with ErrDisconnected.
package engine

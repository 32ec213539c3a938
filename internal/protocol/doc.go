// Package protocol owns the request builders and reply parsers layered on
// top of the frame codec.
//
// Ownership boundary:
// - device-config get/set payloads and reply validation
// - device-info get/set payloads and typed reply decoding
// - authentication handshake payloads
// - the Requester seam every higher layer issues requests through
package protocol

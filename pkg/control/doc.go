// Package control exposes running sessions over a websocket and HTTP
// JSON-RPC gateway.
//
// Clients authenticate with an HMAC-SHA256 challenge over the shared secret
// and then call session.* methods to start, pause, resume, cancel and list
// runs. Authenticated clients also receive step and run events, and the
// overlay.hide/overlay.show events that keep the on-device feedback overlay
// out of the way of injected input.
package control

// Package blip implements BLIP, a bidirectional, multiplexed,
// message-oriented RPC protocol designed to run over a single
// full-duplex byte stream such as a WebSocket connection.
//
// A Connection multiplexes any number of concurrent request/response
// exchanges, in both directions, over one Transport. Outgoing messages
// are split into frames and interleaved on the wire according to their
// Urgent flag and a flow-control window; incoming frames are reassembled
// back into complete Request or Response objects and, for requests,
// dispatched to a handler registered by Profile name.
//
// See package transport for a WebSocket Transport implementation.
package blip

package blip

// Transport is the abstraction a Connection sends frames through. It
// knows nothing about BLIP message semantics — only how to move one
// opaque frame at a time across some underlying channel (spec §6).
//
// Implementations feed inbound frames to a Connection by calling its
// ReceivedFrame method directly from their own read loop; this interface
// only covers the outbound direction and lifecycle, which the Connection
// drives itself. See package transport for the WebSocket binding.
type Transport interface {
	// SendFrame writes one complete BLIP frame as a single message on the
	// underlying channel (e.g. one binary WebSocket message). It must not
	// be called concurrently with itself; Connection serializes calls
	// through its own send loop.
	SendFrame(frame []byte) error

	// Close tears down the underlying channel. It is called at most once,
	// by Connection.Close/CloseWithError.
	Close() error
}

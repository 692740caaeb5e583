// Package transport binds blip.Connection to a real wire: a WebSocket
// connection carrying the "BLIP" subprotocol, one binary WS message per
// BLIP frame (spec §6).
package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coldwire/blip"
	"github.com/coldwire/blip/httpsig"
	"github.com/coldwire/blip/websocket"
)

// Subprotocol is the WebSocket subprotocol name BLIP negotiates, both on
// the dialing and accepting side.
const Subprotocol = "BLIP"

// wsTransport adapts a *websocket.Conn to blip.Transport.
type wsTransport struct {
	conn *websocket.Conn
}

// NewTransport wraps an already-established WebSocket connection as a
// blip.Transport. Most callers want Dial or Upgrade instead, which also
// perform the handshake and start the read loop.
func NewTransport(conn *websocket.Conn) blip.Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) SendFrame(frame []byte) error {
	return t.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// readLoop feeds every binary WebSocket message into the Connection as
// one BLIP frame, and closes the Connection when the socket itself ends.
// Non-binary messages (text, ping/pong handled internally by Conn) are
// ignored: BLIP is binary-only on the wire.
func readLoop(c *blip.Connection, conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			closeSocket(c, err)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		c.ReceivedFrame(data)
	}
}

// closeSocket maps the WebSocket layer's close outcome onto blip.Connection's
// clean-vs-errored close distinction: a normal or going-away close code (the
// peer ending the session deliberately) closes cleanly, anything else closes
// with the underlying error so pending requests are resolved as disconnected
// rather than appearing to have completed normally.
func closeSocket(c *blip.Connection, err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.Close()
		return
	}
	c.CloseWithError(err)
}

// Dial opens a BLIP connection to a peer over WebSocket. The handshake
// negotiates the BLIP subprotocol; callers needing an authenticated peer
// should pass a Signer via WithRequestSigner, which attaches an RFC 9421
// HTTP Message Signature to the upgrade request.
func Dial(ctx context.Context, urlStr string, opts ...DialOption) (*blip.Connection, error) {
	cfg := dialConfig{dialer: websocket.DefaultDialer}
	for _, opt := range opts {
		opt(&cfg)
	}

	dialer := *cfg.dialer
	dialer.Subprotocols = append(append([]string(nil), dialer.Subprotocols...), Subprotocol)

	header := cfg.header
	if cfg.signConfig != nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		if header != nil {
			req.Header = header.Clone()
		}
		if err := httpsig.SignRequest(req, *cfg.signConfig); err != nil {
			return nil, fmt.Errorf("blip transport: signing upgrade request: %w", err)
		}
		header = req.Header
	}

	conn, resp, err := dialer.DialContext(ctx, urlStr, header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Header.Get("Sec-WebSocket-Protocol") != Subprotocol {
		conn.Close()
		return nil, fmt.Errorf("blip transport: peer did not accept the %s subprotocol", Subprotocol)
	}

	t := NewTransport(conn)
	bc := blip.NewConnection(t, cfg.connOpts...)
	go readLoop(bc, conn)
	return bc, nil
}

// Upgrade accepts an inbound HTTP request as a BLIP-over-WebSocket
// connection. Peer authentication, if configured via WithVerifier, runs
// before the handshake is accepted: a request that fails verification
// never reaches the WebSocket upgrade and the HTTP response is left to
// the caller (typically 401/403).
func Upgrade(w http.ResponseWriter, r *http.Request, opts ...UpgradeOption) (*blip.Connection, error) {
	cfg := upgradeConfig{upgrader: &websocket.Upgrader{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.verifyConfig != nil {
		if err := httpsig.VerifyRequest(r, *cfg.verifyConfig); err != nil {
			return nil, fmt.Errorf("%w: %v", blip.ErrPeerNotAllowed, err)
		}
	}

	upgrader := *cfg.upgrader
	upgrader.Subprotocols = append(append([]string(nil), upgrader.Subprotocols...), Subprotocol)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	t := NewTransport(conn)
	bc := blip.NewConnection(t, cfg.connOpts...)
	go readLoop(bc, conn)
	return bc, nil
}

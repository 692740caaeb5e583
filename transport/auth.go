package transport

import (
	"net/http"

	"github.com/coldwire/blip"
	"github.com/coldwire/blip/httpsig"
	"github.com/coldwire/blip/websocket"
)

// dialConfig and upgradeConfig collect the options applied by DialOption
// and UpgradeOption. They stay unexported: callers only ever see the
// functional-option constructors below.
type dialConfig struct {
	dialer     *websocket.Dialer
	header     http.Header
	signConfig *httpsig.SignConfig
	connOpts   []blip.Option
}

type upgradeConfig struct {
	upgrader     *websocket.Upgrader
	verifyConfig *httpsig.VerifyConfig
	connOpts     []blip.Option
}

// DialOption configures Dial.
type DialOption func(*dialConfig)

// UpgradeOption configures Upgrade.
type UpgradeOption func(*upgradeConfig)

// WithDialer overrides the websocket.Dialer used by Dial (for custom TLS
// config, proxying, or HTTP/2 WebSocket per RFC 8441).
func WithDialer(d *websocket.Dialer) DialOption {
	return func(c *dialConfig) { c.dialer = d }
}

// WithHeader sets additional headers on the upgrade request.
func WithHeader(h http.Header) DialOption {
	return func(c *dialConfig) { c.header = h }
}

// WithRequestSigner attaches an RFC 9421 HTTP Message Signature to the
// WebSocket upgrade request, per SPEC_FULL's optional peer authentication
// surface. The signing covers the request line (method, authority, path)
// by default; set cfg.CoveredComponents to cover more.
func WithRequestSigner(cfg httpsig.SignConfig) DialOption {
	return func(c *dialConfig) { c.signConfig = &cfg }
}

// WithConnectionOptions passes through blip.Option values to the
// underlying blip.NewConnection call.
func WithConnectionOptions(opts ...blip.Option) DialOption {
	return func(c *dialConfig) { c.connOpts = append(c.connOpts, opts...) }
}

// WithUpgrader overrides the websocket.Upgrader used by Upgrade (for
// custom origin checks, buffer sizes, or compression).
func WithUpgrader(u *websocket.Upgrader) UpgradeOption {
	return func(c *upgradeConfig) { c.upgrader = u }
}

// WithVerifier requires and verifies an RFC 9421 HTTP Message Signature
// on the incoming upgrade request before accepting the WebSocket
// handshake. A request that fails verification yields blip.ErrPeerNotAllowed
// and the HTTP upgrade never happens.
func WithVerifier(cfg httpsig.VerifyConfig) UpgradeOption {
	return func(c *upgradeConfig) { c.verifyConfig = &cfg }
}

// WithAcceptConnectionOptions passes through blip.Option values to the
// underlying blip.NewConnection call made by Upgrade.
func WithAcceptConnectionOptions(opts ...blip.Option) UpgradeOption {
	return func(c *upgradeConfig) { c.connOpts = append(c.connOpts, opts...) }
}

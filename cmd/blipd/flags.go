package main

import "github.com/urfave/cli/v3"

const (
	defaultListenAddr     = ":8080"
	defaultMaxFrameSize   = 4096
	defaultCompressLevel  = 0 // flate.DefaultCompression
	defaultRequestMaxSize = 1 << 20
)

// flags defines the CLI flags accepted by blipd. Each can also be set via
// environment variable, and a config file loaded with -config supplies the
// remaining defaults before flags are applied.
func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to a YAML config file",
			Sources: cli.NewValueSourceChain(cli.EnvVar("BLIPD_CONFIG")),
		},
		&cli.StringFlag{
			Name:    "listen-addr",
			Usage:   "HTTP listen address for /blip, /healthz, and the OpenAPI docs",
			Value:   defaultListenAddr,
			Sources: cli.NewValueSourceChain(cli.EnvVar("BLIPD_LISTEN_ADDR")),
		},
		&cli.IntFlag{
			Name:    "max-frame-size",
			Usage:   "maximum BLIP wire frame size in bytes",
			Value:   defaultMaxFrameSize,
			Sources: cli.NewValueSourceChain(cli.EnvVar("BLIPD_MAX_FRAME_SIZE")),
		},
		&cli.IntFlag{
			Name:    "compress-level",
			Usage:   "compression level (flate.HuffmanOnly..flate.BestCompression) for the admin HTTP surface",
			Value:   defaultCompressLevel,
			Sources: cli.NewValueSourceChain(cli.EnvVar("BLIPD_COMPRESS_LEVEL")),
		},
		&cli.IntFlag{
			Name:    "request-max-size",
			Usage:   "maximum admin HTTP request body size in bytes",
			Value:   defaultRequestMaxSize,
			Sources: cli.NewValueSourceChain(cli.EnvVar("BLIPD_REQUEST_MAX_SIZE")),
		},
		&cli.BoolFlag{
			Name:    "require-signed-upgrade",
			Usage:   "require an RFC 9421 HTTP Message Signature on every /blip upgrade request",
			Sources: cli.NewValueSourceChain(cli.EnvVar("BLIPD_REQUIRE_SIGNED_UPGRADE")),
		},
		&cli.StringFlag{
			Name:    "signing-key-hex",
			Usage:   "hex-encoded HMAC-SHA256 key used to verify signed upgrade requests",
			Sources: cli.NewValueSourceChain(cli.EnvVar("BLIPD_SIGNING_KEY_HEX")),
		},
		&cli.StringFlag{
			Name:    "signing-key-id",
			Usage:   "key ID that signed upgrade requests are expected to reference",
			Value:   "blipd",
			Sources: cli.NewValueSourceChain(cli.EnvVar("BLIPD_SIGNING_KEY_ID")),
		},
		&cli.BoolFlag{
			Name:    "pretty-log",
			Usage:   "human-readable console logging instead of JSON",
			Sources: cli.NewValueSourceChain(cli.EnvVar("BLIPD_PRETTY_LOG")),
		},
	}
}

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/coldwire/blip"
	"github.com/coldwire/blip/httpsig"
	"github.com/coldwire/blip/mux"
	"github.com/coldwire/blip/muxhandlers"
	"github.com/coldwire/blip/openapi"
	"github.com/coldwire/blip/transport"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "blipd",
		Usage:   "demo BLIP server exposing a WebSocket upgrade endpoint, health check, and OpenAPI docs",
		Version: bi.Main.Version,
		Flags:   flags(),
		Action:  run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "blipd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	initLog(cmd.Bool("pretty-log"))

	file, err := loadFileConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	srv := newServer(cmd, file)

	r := mux.NewRouter()
	if err := srv.mount(r); err != nil {
		return err
	}

	addr := cmd.String("listen-addr")
	if !cmd.IsSet("listen-addr") && file.ListenAddr != "" {
		addr = file.ListenAddr
	}
	log.Info().Str("addr", addr).Msg("blipd listening")

	return http.ListenAndServe(addr, r)
}

// initLog configures the global zerolog logger used by blipd and the
// blip.Logger adapter handed to every accepted Connection.
func initLog(pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// server holds the dependencies shared by every admin HTTP handler and
// every accepted BLIP connection.
type server struct {
	maxFrameSize   int
	requestMaxSize int64
	compressLevel  int

	verifyConfig *httpsig.VerifyConfig

	openConns atomic.Int64
	startedAt time.Time
}

func newServer(cmd *cli.Command, file fileConfig) *server {
	maxFrameSize := cmd.Int("max-frame-size")
	if !cmd.IsSet("max-frame-size") && file.MaxFrameSize != 0 {
		maxFrameSize = file.MaxFrameSize
	}
	if maxFrameSize == 0 {
		maxFrameSize = defaultMaxFrameSize
	}

	requestMaxSize := cmd.Int("request-max-size")
	if !cmd.IsSet("request-max-size") && file.RequestMaxSize != 0 {
		requestMaxSize = file.RequestMaxSize
	}
	if requestMaxSize == 0 {
		requestMaxSize = defaultRequestMaxSize
	}

	compressLevel := cmd.Int("compress-level")
	if !cmd.IsSet("compress-level") && file.CompressLevel != 0 {
		compressLevel = file.CompressLevel
	}

	s := &server{
		maxFrameSize:   maxFrameSize,
		requestMaxSize: int64(requestMaxSize),
		compressLevel:  compressLevel,
		startedAt:      time.Now(),
	}

	requireSigned := file.RequireSignedUpgrade
	if cmd.IsSet("require-signed-upgrade") {
		requireSigned = cmd.Bool("require-signed-upgrade")
	}
	keyHex := cmd.String("signing-key-hex")
	if keyHex == "" {
		keyHex = file.SigningKeyHex
	}

	if requireSigned {
		keyID := cmd.String("signing-key-id")
		if !cmd.IsSet("signing-key-id") && file.SigningKeyID != "" {
			keyID = file.SigningKeyID
		}
		s.verifyConfig = verifyConfigFor(keyID, keyHex)
	}

	return s
}

// verifyConfigFor builds an httpsig.VerifyConfig backed by a single shared
// HMAC-SHA256 key, matching SPEC_FULL's optional peer-authentication
// surface (spec.md's reserved PeerNotAllowed error).
func verifyConfigFor(keyID, keyHex string) *httpsig.VerifyConfig {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		log.Error().Err(err).Msg("invalid signing-key-hex, signed upgrades will be rejected")
		return &httpsig.VerifyConfig{
			Resolver: func(*http.Request, string, httpsig.Algorithm) (httpsig.Verifier, error) {
				return nil, fmt.Errorf("blipd: no verification key configured")
			},
		}
	}

	verifier, err := httpsig.NewHMACSHA256Verifier(keyID, key)
	if err != nil {
		log.Error().Err(err).Msg("failed to build HMAC verifier, signed upgrades will be rejected")
		return &httpsig.VerifyConfig{
			Resolver: func(*http.Request, string, httpsig.Algorithm) (httpsig.Verifier, error) {
				return nil, fmt.Errorf("blipd: no verification key configured")
			},
		}
	}

	return &httpsig.VerifyConfig{
		Resolver: func(_ *http.Request, id string, alg httpsig.Algorithm) (httpsig.Verifier, error) {
			if id != keyID || alg != httpsig.AlgorithmHMACSHA256 {
				return nil, fmt.Errorf("blipd: unknown key %q / algorithm %q", id, alg)
			}
			return verifier, nil
		},
	}
}

// mount registers /blip, /healthz, and the OpenAPI doc endpoints on r.
func (s *server) mount(r *mux.Router) error {
	if err := s.installMiddleware(r); err != nil {
		return err
	}

	r.HandleFunc("/blip", s.handleUpgrade).Methods(http.MethodGet)
	healthzRoute := r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	return s.mountDocs(r, healthzRoute)
}

func (s *server) installMiddleware(r *mux.Router) error {
	r.Use(muxhandlers.RecoveryMiddleware(muxhandlers.RecoveryConfig{
		LogFunc: func(req *http.Request, recovered any) {
			log.Error().
				Str("path", req.URL.Path).
				Any("panic", recovered).
				Msg("admin handler panicked")
		},
	}))

	r.Use(muxhandlers.RequestIDMiddleware(muxhandlers.RequestIDConfig{}))

	securityHeaders, err := muxhandlers.SecurityHeadersMiddleware(muxhandlers.SecurityHeadersConfig{})
	if err != nil {
		return fmt.Errorf("security headers middleware: %w", err)
	}
	r.Use(securityHeaders)

	cors, err := muxhandlers.CORSMiddleware(r, muxhandlers.CORSConfig{AllowedOrigins: []string{"*"}})
	if err != nil {
		return fmt.Errorf("cors middleware: %w", err)
	}
	r.Use(cors)

	sizeLimit, err := muxhandlers.RequestSizeLimitMiddleware(muxhandlers.RequestSizeLimitConfig{
		MaxBytes: s.requestMaxSize,
	})
	if err != nil {
		return fmt.Errorf("request size limit middleware: %w", err)
	}
	r.Use(sizeLimit)

	timeout, err := muxhandlers.TimeoutMiddleware(muxhandlers.TimeoutConfig{
		Duration: 30 * time.Second,
		Message:  "request timed out",
	})
	if err != nil {
		return fmt.Errorf("timeout middleware: %w", err)
	}
	r.Use(timeout)

	compression, err := muxhandlers.CompressionMiddleware(muxhandlers.CompressionConfig{
		Level: s.compressLevel,
	})
	if err != nil {
		return fmt.Errorf("compression middleware: %w", err)
	}
	r.Use(compression)

	return nil
}

// handleUpgrade negotiates the WebSocket handshake and registers the demo
// "echo" profile, per spec.md §8 scenario 1.
func (s *server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	opts := []transport.UpgradeOption{
		transport.WithAcceptConnectionOptions(
			blip.WithMaxFrameSize(s.maxFrameSize),
			blip.WithLogger(newZerologAdapter(log.With().
				Str("remote_addr", r.RemoteAddr).
				Str("request_id", muxhandlers.RequestIDFromContext(r.Context())).
				Logger())),
		),
	}
	if s.verifyConfig != nil {
		opts = append(opts, transport.WithVerifier(*s.verifyConfig))
	}

	conn, err := transport.Upgrade(w, r, opts...)
	if err != nil {
		log.Error().Err(err).Msg("BLIP upgrade failed")
		if errors.Is(err, blip.ErrPeerNotAllowed) {
			http.Error(w, "peer not allowed", http.StatusUnauthorized)
		}
		return
	}

	s.openConns.Add(1)
	conn.HandleProfile("echo", func(req *blip.Request) {
		if err := req.Reply(req.Body()); err != nil {
			log.Error().Err(err).Msg("failed to reply to echo request")
		}
	})

	go func() {
		<-connClosed(conn)
		s.openConns.Add(-1)
	}()
}

// connClosed returns a channel closed once conn.Closed() becomes true.
// blip.Connection has no native "wait for close" channel, so this polls
// at a coarse interval; it is only used for the /healthz open-connection
// counter, which tolerates a little staleness.
func connClosed(conn *blip.Connection) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if conn.Closed() {
				close(done)
				return
			}
		}
	}()
	return done
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	mux.ResponseJSON(w, http.StatusOK, healthzResponse{
		Status:          "ok",
		OpenConnections: s.openConns.Load(),
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *server) mountDocs(r *mux.Router, healthzRoute *mux.Route) error {
	spec := openapi.NewSpec(openapi.Info{
		Title:       "blipd admin API",
		Version:     "1.0.0",
		Description: "Health check and WebSocket upgrade endpoint for a BLIP connection multiplexer.",
	})
	spec.AddServer(openapi.Server{URL: "/"})
	spec.SetExternalDocs("https://github.com/coldwire/blip", "BLIP protocol implementation")

	spec.Route(healthzRoute).
		OperationID("healthCheck").
		Summary("Liveness and readiness check").
		Tags("admin").
		Security().
		Response(http.StatusOK, healthzResponse{})

	webhook := spec.Webhook("blipUpgrade", http.MethodGet)
	webhook.
		Summary("Upgrade to a BLIP WebSocket connection").
		Description("Negotiates the \"BLIP\" WebSocket subprotocol (RFC 6455/8441). "+
			"OpenAPI 3.1 has no native operation type for a long-lived WebSocket "+
			"upgrade, so this endpoint is documented as a webhook entry.").
		Tags("blip").
		Response(http.StatusSwitchingProtocols, nil)

	spec.Handle(r, "/docs", &openapi.HandleConfig{
		JSONFilename: "/openapi.json",
		YAMLFilename: "/openapi.yaml",
	})

	return nil
}

type healthzResponse struct {
	Status          string `json:"status" openapi:"description=Always \"ok\" when reachable"`
	OpenConnections int64  `json:"open_connections" openapi:"description=Currently open BLIP connections"`
	UptimeSeconds   int64  `json:"uptime_seconds" openapi:"description=Seconds since the process started"`
}

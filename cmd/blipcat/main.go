package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/coldwire/blip"
	"github.com/coldwire/blip/httpsig"
	"github.com/coldwire/blip/transport"
)

// blipcat is a minimal BLIP client: it dials a server, sends a single
// "echo" request per spec.md §8 scenario 1, prints the response body, and
// exits. It exists to exercise transport.Dial end to end against blipd.
func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "blipcat",
		Usage:   "send a single BLIP echo request and print the response",
		Version: bi.Main.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "url",
				Usage:    "ws:// or wss:// URL of the BLIP upgrade endpoint",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "profile",
				Usage: "message Profile property",
				Value: "echo",
			},
			&cli.StringFlag{
				Name:  "body",
				Usage: "request body to send",
				Value: "hello",
			},
			&cli.StringFlag{
				Name:  "signing-key-hex",
				Usage: "hex-encoded HMAC-SHA256 key used to sign the upgrade request",
			},
			&cli.StringFlag{
				Name:  "signing-key-id",
				Usage: "key ID referenced by the signature",
				Value: "blipd",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "time to wait for a response before giving up",
				Value: 10 * time.Second,
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "blipcat: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	opts, err := dialOptions(cmd)
	if err != nil {
		return err
	}

	conn, err := transport.Dial(ctx, cmd.String("url"), opts...)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	req := blip.NewRequest()
	if err := req.SetProfile(cmd.String("profile")); err != nil {
		return err
	}
	if err := req.SetProperty("Content-Type", "text/plain; charset=UTF-8"); err != nil {
		return err
	}
	if err := req.SetBody([]byte(cmd.String("body"))); err != nil {
		return err
	}

	if err := conn.SendRequest(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	resp, err := req.Response()
	if err != nil {
		return fmt.Errorf("awaiting response: %w", err)
	}

	if resp.IsError() {
		return resp.Err()
	}

	fmt.Println(string(resp.Body()))
	return nil
}

func dialOptions(cmd *cli.Command) ([]transport.DialOption, error) {
	var opts []transport.DialOption

	opts = append(opts, transport.WithConnectionOptions(
		blip.WithLogger(newZerologAdapter(log.Logger)),
	))

	keyHex := cmd.String("signing-key-hex")
	if keyHex == "" {
		return opts, nil
	}

	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid signing-key-hex: %w", err)
	}

	signer, err := httpsig.NewHMACSHA256Signer(cmd.String("signing-key-id"), key)
	if err != nil {
		return nil, fmt.Errorf("building signer: %w", err)
	}

	opts = append(opts, transport.WithRequestSigner(httpsig.SignConfig{Signer: signer}))
	return opts, nil
}

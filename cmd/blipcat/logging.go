package main

import (
	"github.com/rs/zerolog"

	"github.com/coldwire/blip"
)

// zerologAdapter hands a zerolog.Logger down into a blip.Connection as a
// blip.Logger. See cmd/blipd/logging.go for the server-side counterpart.
type zerologAdapter struct {
	log zerolog.Logger
}

func newZerologAdapter(l zerolog.Logger) blip.Logger {
	return zerologAdapter{log: l}
}

func (a zerologAdapter) Debugf(format string, args ...any) {
	a.log.Debug().Msgf(format, args...)
}

func (a zerologAdapter) Errorf(format string, args ...any) {
	a.log.Error().Msgf(format, args...)
}

package analyzer

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func logger() zerolog.Logger {
	return log.With().Str("component", "analyzer").Logger()
}

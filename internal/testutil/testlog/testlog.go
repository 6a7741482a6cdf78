package testlog

import (
	"testing"

	"github.com/danmuck/chainstream/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("start")
}

// Logger returns the process logger tagged with the running test name.
func Logger(t *testing.T) zerolog.Logger {
	t.Helper()
	logging.ConfigureTests()
	return log.Logger.With().Str("test", t.Name()).Logger()
}

package common

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger configures the global zerolog logger and returns it for
// injection into library types. pretty switches to the console writer.
func SetupLogger(level string, pretty bool) (zerolog.Logger, error) {
	return setupLogger(os.Stderr, level, pretty)
}

func setupLogger(w io.Writer, level string, pretty bool) (zerolog.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return log.Logger, nil
}

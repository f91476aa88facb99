package cli

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// newLogger builds the process logger from CRYOPHILE_LOG/CRYOPHILE_LOG_STYLE
// (spec.md §6 Environment), overridden by -d/--debug (count) and -q/--quiet.
// A logger construction failure (malformed CRYOPHILE_LOG level string) maps
// to exit code 65 (Log init), separate from the cryoerr.Kind taxonomy that
// covers everything after the logger is up.
func newLogger(debugCount int, quiet bool) (*logrus.Logger, error) {
	logger := logrus.New()

	level := logrus.InfoLevel
	if envLevel := os.Getenv("CRYOPHILE_LOG"); envLevel != "" {
		parsed, err := logrus.ParseLevel(envLevel)
		if err != nil {
			return nil, errLogInit{err}
		}
		level = parsed
	}

	switch {
	case quiet:
		level = logrus.ErrorLevel
	case debugCount == 1:
		level = logrus.DebugLevel
	case debugCount >= 2:
		level = logrus.TraceLevel
	}
	logger.SetLevel(level)

	style := strings.ToLower(os.Getenv("CRYOPHILE_LOG_STYLE"))
	formatter := &logrus.TextFormatter{FullTimestamp: true}
	switch style {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
		return logger, nil
	case "plain":
		formatter.DisableColors = true
	case "color":
		formatter.ForceColors = true
	}
	logger.SetFormatter(formatter)

	return logger, nil
}

// errLogInit marks a failure in newLogger itself, mapped to exit code 65
// rather than any cryoerr.Kind (the logger isn't up yet to log through).
type errLogInit struct{ err error }

func (e errLogInit) Error() string { return "log init: " + e.err.Error() }
func (e errLogInit) Unwrap() error { return e.err }

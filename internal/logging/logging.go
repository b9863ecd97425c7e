// Package logging builds the structured logger shared by the binaries.
package logging

import (
	"fmt"
	"strings"

	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sync can fail on Linux when stderr is not a file, see
// https://github.com/uber-go/zap/issues/328
const syncError = "invalid argument"

// New returns a zap-backed logr.Logger and a flush function. Production
// loggers write JSON; others write the console format.
func New(level string, production bool) (logr.Logger, func() error, error) {
	lvl := zapcore.InfoLevel
	if raw := strings.TrimSpace(level); raw != "" {
		parsed, err := zapcore.ParseLevel(raw)
		if err != nil {
			return logr.Discard(), nil, fmt.Errorf("%w: log level %q", commonerrors.ErrInvalid, raw)
		}
		lvl = parsed
	}

	cfg := zap.NewDevelopmentConfig()
	if production {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	zl, err := cfg.Build()
	if err != nil {
		return logr.Discard(), nil, err
	}
	return FromZap(zl), func() error { return sync(zl) }, nil
}

// FromZap adapts an existing zap logger.
func FromZap(zl *zap.Logger) logr.Logger {
	return zapr.NewLogger(zl)
}

func sync(zl *zap.Logger) error {
	err := zl.Sync()
	if commonerrors.CorrespondTo(err, syncError) {
		return nil
	}
	return err
}

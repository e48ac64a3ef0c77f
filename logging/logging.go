// Package logging is a thin wrapper of the zap logging library.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var root = func() *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		os.Stderr,
		zap.DebugLevel,
	)
	return zap.New(core)
}()

// Named creates a named logger without level configuration.
func Named(pkg string) *zap.Logger {
	return root.Named(pkg)
}

// New creates a logger whose level comes from the HERMETIC_LOG_<PKG>
// environment variable, falling back to HERMETIC_LOG, then to info.
//
// By convention this appears in the same .go file as the package docstring:
//
//	var logger = logging.New("elfmod")
func New(pkg string) *zap.Logger {
	return Named(pkg).WithOptions(zap.IncreaseLevel(levelFor(pkg)))
}

func levelFor(pkg string) zapcore.Level {
	v, ok := os.LookupEnv("HERMETIC_LOG_" + strings.ToUpper(pkg))
	if !ok {
		v = os.Getenv("HERMETIC_LOG")
	}
	return parseLevel(v)
}

// parseLevel maps the first letter of input to a level: V and D select debug,
// I info, W warn, E error, F and N dpanic. Anything else selects info.
func parseLevel(input string) zapcore.Level {
	if len(input) == 0 {
		return zap.InfoLevel
	}
	switch input[0] {
	case 'V', 'D':
		return zap.DebugLevel
	case 'I':
		return zap.InfoLevel
	case 'W':
		return zap.WarnLevel
	case 'E':
		return zap.ErrorLevel
	case 'F', 'N':
		return zap.DPanicLevel
	}
	return zap.InfoLevel
}

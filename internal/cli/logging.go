package cli

import (
	"io"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLoggers builds the slog logger used by the engine and the zap logger
// used by the HTTP layer. Both write to w; verbose lowers both to debug.
func newLoggers(w io.Writer, verbose bool) (*slog.Logger, *zap.Logger) {
	level := slog.LevelInfo
	zapLevel := zapcore.InfoLevel
	if verbose {
		level = slog.LevelDebug
		zapLevel = zapcore.DebugLevel
	}

	slogger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), zapLevel)
	return slogger, zap.New(core).Named("http")
}

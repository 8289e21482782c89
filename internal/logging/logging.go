package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls where the daemon logs.
type Options struct {
	// Path is the JSON log file. Its directory is created if missing.
	Path   string
	UserID string
	Level  zapcore.Level
	// Quiet disables the stderr console copy.
	Quiet bool
}

// New creates a zap logger that writes JSON to opts.Path and a console copy
// to stderr. The user ID and PID are attached to every entry.
func New(opts Options) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), opts.Level),
	}
	if !opts.Quiet {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), opts.Level))
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.Fields(
			zap.String("user", opts.UserID),
			zap.Int("pid", os.Getpid()),
		),
	), nil
}

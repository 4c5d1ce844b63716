// Package logging builds the relayd logger.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options tunes the logger. The zero value logs at info level to stderr and file.
type Options struct {
	Level   zapcore.Level
	Quiet   bool // no stderr core
	Console zapcore.WriteSyncer
}

// New creates a zap logger that writes JSON to logPath and human-readable
// lines to stderr. The instance name and PID are included as initial fields.
func New(logPath, instanceName string, opts Options) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
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
		console := opts.Console
		if console == nil {
			console = zapcore.Lock(os.Stderr)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), console, opts.Level))
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.Fields(
			zap.String("instance", instanceName),
			zap.Int("pid", os.Getpid()),
		),
	)

	return logger, nil
}

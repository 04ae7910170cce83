// Package logger builds the zap logger shared by the binaries.
package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level string // debug, info, warn, error
	File  string // optional rotated file sink
	JSON  bool   // JSON console output instead of the human-readable encoder
	// Console defaults to stdout.
	Console io.Writer
}

// New returns a logger writing to the console and, when File is set, to a
// rotated JSON file. cleanup flushes and closes the sinks.
func New(opts Options) (log *zap.Logger, cleanup func(), err error) {
	level := zapcore.InfoLevel
	if strings.TrimSpace(opts.Level) != "" {
		if level, err = zapcore.ParseLevel(opts.Level); err != nil {
			return nil, nil, err
		}
	}

	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig())
	consoleEncoder := jsonEncoder
	if !opts.JSON {
		consoleEncoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(zapcore.AddSync(console)), level),
	}

	var rotator *lumberjack.Logger
	if file := strings.TrimSpace(opts.File); file != "" {
		rotator = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator), level))
	}

	log = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	cleanup = func() {
		_ = log.Sync()
		if rotator != nil {
			_ = rotator.Close()
		}
	}
	return log, cleanup, nil
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.MessageKey = "message"
	cfg.LevelKey = "level"
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// Package logging builds the orchestrator's zap logger and the in-memory log
// stream served to the desktop log viewer.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options describes logger construction parameters.
type Options struct {
	Level       string
	Format      string
	Development bool
	Output      io.Writer
}

// New constructs a zap logger writing to Output (stdout by default) and, when
// hub is non-nil, publishing every record to the hub.
func New(opts Options, hub *StreamHub) (*zap.Logger, error) {
	level := ParseLevel(opts.Level)

	encoder, err := newEncoder(opts.Format)
	if err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(out), level),
	}
	if hub != nil {
		cores = append(cores, NewHubCore(hub, level))
	}

	zopts := []zap.Option{zap.ErrorOutput(zapcore.AddSync(os.Stderr))}
	if opts.Development {
		zopts = append(zopts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), zopts...), nil
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newEncoder(format string) (zapcore.Encoder, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return zapcore.NewJSONEncoder(cfg), nil
	// morgan format names from older deployments map to the console encoder
	case "", "console", "combined", "common", "dev", "short", "tiny":
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(cfg), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", format)
	}
}

// Service logs traffic to a downstream service at debug level.
func Service(logger *zap.Logger, serviceName, action string, fields ...zap.Field) {
	if logger == nil {
		return
	}
	fields = append(fields, zap.String("service", serviceName))
	logger.Debug(fmt.Sprintf("Service: %s - %s", serviceName, action), fields...)
}

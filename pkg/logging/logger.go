// Package logging builds the process logger on top of controller-runtime's zap
// integration.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	ctrlzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config defines the logging configuration.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`

	// Format is json or console.
	Format string `yaml:"format" json:"format"`

	// Redact hashes patch values before they are logged.
	Redact bool `yaml:"redact" json:"redact"`

	// AccessLog enables per-request HTTP access logging.
	AccessLog bool `yaml:"accessLog" json:"accessLog"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: FormatJSON,
		Redact: true,
	}
}

// Validate checks level and format.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case FormatJSON, FormatConsole:
		return nil
	default:
		return fmt.Errorf("unknown log format %q, expected %q or %q", c.Format, FormatJSON, FormatConsole)
	}
}

// NewLogger creates a logr.Logger writing to stderr.
func NewLogger(cfg Config) (logr.Logger, error) {
	return NewLoggerTo(os.Stderr, cfg)
}

// NewLoggerTo creates a logr.Logger writing to w.
func NewLoggerTo(w io.Writer, cfg Config) (logr.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return logr.Discard(), err
	}
	level, _ := ParseLevel(cfg.Level)

	opts := ctrlzap.Options{
		Development: false,
		DestWriter:  w,
		Level:       level,
	}
	if cfg.Format == FormatJSON {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "time"
		encoderConfig.LevelKey = "level"
		encoderConfig.MessageKey = "msg"
		encoderConfig.CallerKey = "caller"
		encoderConfig.StacktraceKey = "stacktrace"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		opts.Encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		opts.Encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	return ctrlzap.New(ctrlzap.UseFlagOptions(&opts)), nil
}

// ParseLevel converts a level name to a zapcore.Level. logr's V(1) maps to
// debug.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

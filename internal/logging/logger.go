// Package logging builds the zap loggers used by the command line tools.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ivlev/nletimeline/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool
}

// New constructs a zap logger from opts. Unknown levels fall back to info.
// The caller is only annotated at debug level or in development mode.
func New(opts Options) (*zap.Logger, error) {
	level := parseLevel(opts.Level)

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "console"
	}
	if format != "console" && format != "json" {
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	outputs := defaultSlice(opts.OutputPaths, []string{"stderr"})
	errOutputs := defaultSlice(opts.ErrorOutputPaths, []string{"stderr"})
	for _, p := range append(append([]string{}, outputs...), errOutputs...) {
		if err := ensureLogDir(p); err != nil {
			return nil, err
		}
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	if format == "console" {
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		if colorize(outputs) {
			enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	}

	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       opts.Development,
		DisableCaller:     !(opts.Development || level <= zapcore.DebugLevel),
		DisableStacktrace: !opts.Development,
		Encoding:          format,
		EncoderConfig:     enc,
		OutputPaths:       outputs,
		ErrorOutputPaths:  errOutputs,
	}
	return cfg.Build()
}

// NewFromConfig creates a logger from the log section of a project config.
func NewFromConfig(cfg config.LogConfig) (*zap.Logger, error) {
	return New(Options{
		Level:            cfg.Level,
		Format:           cfg.Format,
		OutputPaths:      cfg.Outputs,
		ErrorOutputPaths: []string{"stderr"},
	})
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error", "dpanic", "panic", "fatal":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// colorize reports whether every console output is an interactive terminal.
func colorize(outputs []string) bool {
	for _, p := range outputs {
		var f *os.File
		switch p {
		case "stdout":
			f = os.Stdout
		case "stderr":
			f = os.Stderr
		default:
			return false
		}
		fd := f.Fd()
		if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
			return false
		}
	}
	return true
}

func defaultSlice(value, fallback []string) []string {
	src := value
	if len(src) == 0 {
		src = fallback
	}
	out := make([]string, 0, len(src))
	for _, v := range src {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func ensureLogDir(path string) error {
	if path == "stdout" || path == "stderr" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure log directory: %w", err)
	}
	return nil
}

package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ivlev/nletimeline/internal/config"
	"github.com/ivlev/nletimeline/internal/logging"
)

func newFileLogger(t *testing.T, format, level string) (*zap.Logger, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "logs", "nle.log")
	logger, err := logging.New(logging.Options{
		Format:           format,
		Level:            level,
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return logger, logPath
}

func readLog(t *testing.T, logger *zap.Logger, path string) string {
	t.Helper()
	logger.Sync() //nolint:errcheck
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logger, path := newFileLogger(t, "console", "info")
	logger.Info("message without caller")

	content := readLog(t, logger, path)
	if !strings.Contains(content, "message without caller") {
		t.Fatalf("message missing from log: %q", content)
	}
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logger, path := newFileLogger(t, "console", "debug")
	logger.Debug("message with caller")

	content := readLog(t, logger, path)
	if !strings.Contains(content, "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestJSONLogger(t *testing.T) {
	logger, path := newFileLogger(t, "json", "warn")
	logger.Info("dropped")
	logger.Warn("kept", zap.String("clip", "clip0"))

	content := readLog(t, logger, path)
	if strings.Contains(content, "dropped") {
		t.Errorf("info message logged at warn level: %q", content)
	}
	if !strings.Contains(content, `"clip":"clip0"`) {
		t.Errorf("json field missing: %q", content)
	}
}

func TestInvalidLevelDefaultsToInfo(t *testing.T) {
	logger, path := newFileLogger(t, "console", "chatty")
	logger.Debug("hidden")
	logger.Info("visible")

	content := readLog(t, logger, path)
	if strings.Contains(content, "hidden") || !strings.Contains(content, "visible") {
		t.Fatalf("expected info level, got %q", content)
	}
}

func TestUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default().Log
	cfg.Outputs = []string{filepath.Join(t.TempDir(), "project.log")}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("project opened")
	logger.Sync() //nolint:errcheck
}

func TestObserverFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core).Named("tree").With(zap.String("timeline", "timeline0"))
	logger.Debug("edit refused", zap.String("mode", "ripple"))

	entries := logs.FilterMessage("edit refused").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["timeline"] != "timeline0" || fields["mode"] != "ripple" {
		t.Errorf("unexpected fields: %v", fields)
	}
	if entries[0].LoggerName != "tree" {
		t.Errorf("logger name: got %q", entries[0].LoggerName)
	}
}

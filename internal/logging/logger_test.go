package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/borgsave/borgsave/internal/types"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelWarning, false)
	logger.SetOutput(&buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warning("warning message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below level leaked into output: %q", out)
	}
	if !strings.Contains(out, "warning message") || !strings.Contains(out, "error message") {
		t.Errorf("expected warning and error in output, got %q", out)
	}
}

func TestLoggerStepAndSkipLabels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(&buf)

	logger.Step("entering backup stage")
	logger.Skip("dry run: nothing done")

	out := buf.String()
	if !strings.Contains(out, "STEP") || !strings.Contains(out, "entering backup stage") {
		t.Errorf("missing STEP line in output: %q", out)
	}
	if !strings.Contains(out, "SKIP") || !strings.Contains(out, "dry run: nothing done") {
		t.Errorf("missing SKIP line in output: %q", out)
	}
}

func TestLoggerMirrorsToLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "run.log")
	logger := New(types.LogLevelDebug, true)
	logger.SetOutput(&bytes.Buffer{})

	if err := logger.OpenLogFile(logPath); err != nil {
		t.Fatalf("OpenLogFile: %v", err)
	}
	logger.Info("mirrored line")
	if err := logger.CloseLogFile(); err != nil {
		t.Fatalf("CloseLogFile: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "mirrored line") {
		t.Errorf("log file missing message: %q", content)
	}
	if strings.Contains(content, "\033[") {
		t.Errorf("log file must not contain color codes: %q", content)
	}
}

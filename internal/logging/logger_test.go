package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "json format", config: &Config{Level: LevelInfo, Format: "json", Output: &bytes.Buffer{}, Sync: true, NoColor: true}},
		{name: "text format", config: &Config{Level: LevelDebug, Format: "text", Output: &bytes.Buffer{}, Sync: true, NoColor: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true})

	ctrlLogger := logger.WithController(42)
	ctrlLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "ctrl_id=42") {
		t.Errorf("expected ctrl_id=42 in output, got: %s", output)
	}

	buf.Reset()
	queueLogger := ctrlLogger.WithQueue(1)
	queueLogger.Info("queue message")

	output = buf.String()
	if !strings.Contains(output, "ctrl_id=42") {
		t.Errorf("expected ctrl_id=42 in queue logger output, got: %s", output)
	}
	if !strings.Contains(output, "qid=1") {
		t.Errorf("expected qid=1 in output, got: %s", output)
	}
}

func TestLoggerWithCommand(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true})
	cmdLogger := logger.WithCommand(123, "READ")
	cmdLogger.Debug("processing command")

	output := buf.String()
	if !strings.Contains(output, "cid=123") {
		t.Errorf("expected cid=123 in output, got: %s", output)
	}
	if !strings.Contains(output, "opcode=READ") {
		t.Errorf("expected opcode=READ in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true})
	errorLogger := logger.WithError(errors.New("test error"))
	errorLogger.Error("operation failed")

	output := buf.String()
	if !strings.Contains(output, "test error") {
		t.Errorf("expected 'test error' in output, got: %s", output)
	}
}

func TestAdminLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelInfo, Format: "text", Output: &buf, Sync: true, NoColor: true})

	logger.AdminStart("IDENTIFY_CONTROLLER")
	if !strings.Contains(buf.String(), "admin command starting") {
		t.Errorf("expected admin start message, got: %s", buf.String())
	}

	buf.Reset()
	logger.AdminSuccess("IDENTIFY_CONTROLLER")
	if !strings.Contains(buf.String(), "admin command succeeded") {
		t.Errorf("expected admin success message, got: %s", buf.String())
	}

	buf.Reset()
	logger.AdminError("CREATE_IOSQ", errors.New("device command failure"))
	out := buf.String()
	if !strings.Contains(out, "admin command failed") || !strings.Contains(out, "device command failure") {
		t.Errorf("expected admin error message, got: %s", out)
	}
}

func TestIOLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true})

	logger.IOStart("READ", 4096, 8)
	out := buf.String()
	if !strings.Contains(out, "I/O operation starting") || !strings.Contains(out, "slba=4096") || !strings.Contains(out, "nlb=8") {
		t.Errorf("expected I/O start fields, got: %s", out)
	}

	buf.Reset()
	logger.IOComplete("READ", 4096, 8, 150)
	out = buf.String()
	if !strings.Contains(out, "I/O operation completed") || !strings.Contains(out, "latency_us=150") {
		t.Errorf("expected I/O complete fields, got: %s", out)
	}

	buf.Reset()
	logger.IOError("READ", 4096, 8, errors.New("read failed"))
	out = buf.String()
	if !strings.Contains(out, "I/O operation failed") || !strings.Contains(out, "read failed") {
		t.Errorf("expected I/O error fields, got: %s", out)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true}))

	Debug("debug message", "key", "value")
	if out := buf.String(); !strings.Contains(out, "debug message") || !strings.Contains(out, "key=value") {
		t.Errorf("expected debug message with key=value, got: %s", out)
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}

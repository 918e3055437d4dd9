package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestStandardLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewStandardLogger(
		WithOutput(&buf),
		WithLevel(LevelDebug),
	)

	logger.Debug("bucket %d has %d tables", 1700000000000, 3)
	if !strings.Contains(buf.String(), "[DEBUG]") || !strings.Contains(buf.String(), "bucket 1700000000000 has 3 tables") {
		t.Errorf("Debug logging failed, got: %s", buf.String())
	}
	buf.Reset()

	logger.Warn("This is a warning message")
	if !strings.Contains(buf.String(), "[WARN]") || !strings.Contains(buf.String(), "This is a warning message") {
		t.Errorf("Warn logging failed, got: %s", buf.String())
	}
	buf.Reset()

	logger.Error("This is an error message")
	if !strings.Contains(buf.String(), "[ERROR]") {
		t.Errorf("Error logging failed, got: %s", buf.String())
	}
	buf.Reset()

	// Level filtering
	logger.SetLevel(LevelError)
	logger.Debug("This debug message should not appear")
	logger.Info("This info message should not appear")
	logger.Error("This error message should appear")
	output := buf.String()
	if strings.Contains(output, "should not appear") || !strings.Contains(output, "should appear") {
		t.Errorf("Level filtering failed, got: %s", output)
	}

	if logger.GetLevel() != LevelError {
		t.Errorf("GetLevel failed, expected LevelError, got: %v", logger.GetLevel())
	}
}

func TestFieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf))

	logger.WithFields(map[string]interface{}{
		"zeta":      1,
		"component": "twcs",
		"alpha":     true,
	}).Info("ordered")

	output := buf.String()
	if !strings.Contains(output, " alpha=true component=twcs zeta=1 ordered") {
		t.Errorf("fields not rendered in sorted order, got: %s", output)
	}
}

func TestChildSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewStandardLogger(WithOutput(&buf), WithLevel(LevelInfo))
	child := parent.WithField("strategy", "twcs")

	parent.SetLevel(LevelError)
	child.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("child logger ignored parent level change, got: %s", buf.String())
	}

	child.Error("visible")
	if !strings.Contains(buf.String(), "strategy=twcs visible") {
		t.Errorf("child logger lost its field, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"":        LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"off":     LevelOff,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Error("nothing happens")
	if logger.GetLevel() != LevelOff {
		t.Errorf("expected LevelOff, got %v", logger.GetLevel())
	}
}

func TestDefaultLogger(t *testing.T) {
	original := GetDefaultLogger()
	defer SetDefaultLogger(original)

	var buf bytes.Buffer
	SetDefaultLogger(NewStandardLogger(
		WithOutput(&buf),
		WithLevel(LevelInfo),
	))

	WithField("global", true).Info("Global with field")
	output := buf.String()
	if !strings.Contains(output, "[INFO]") || !strings.Contains(output, "global=true") {
		t.Errorf("Global logging with field failed, got: %s", output)
	}
}

package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	gogperr "github.com/YuminosukeSato/gogp/pkg/errors"
)

// decodeLines parses each JSON log line written to buf.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(&buf)

	logger.Debug("debug message", "key1", "value1", "number", 42)
	logger.Info("info message", OperationKey, "fit")
	logger.Warn("warning message")
	logger.Error("error message", fmt.Errorf("boom"), "code", "TEST")

	events := decodeLines(t, &buf)
	if len(events) != 4 {
		t.Fatalf("expected 4 log events, got %d", len(events))
	}

	if events[0]["message"] != "debug message" || events[0]["key1"] != "value1" {
		t.Errorf("unexpected debug event: %v", events[0])
	}
	// JSON numbers decode as float64
	if events[0]["number"] != 42.0 {
		t.Errorf("expected number=42, got %v", events[0]["number"])
	}
	if events[1][OperationKey] != "fit" {
		t.Errorf("expected %s=fit, got %v", OperationKey, events[1][OperationKey])
	}
	if events[3]["error"] != "boom" {
		t.Errorf("leading error should be attached as event error, got %v", events[3]["error"])
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(&buf).With(ModelNameKey, "GaussianProcess")

	logger.Info("first", StepKey, 1)
	logger.Info("second", StepKey, 2)

	events := decodeLines(t, &buf)
	if len(events) != 2 {
		t.Fatalf("expected 2 log events, got %d", len(events))
	}
	for _, ev := range events {
		if ev[ModelNameKey] != "GaussianProcess" {
			t.Errorf("contextual field missing from event: %v", ev)
		}
	}
	if events[0][StepKey] != 1.0 || events[1][StepKey] != 2.0 {
		t.Errorf("per-event fields not preserved: %v", events)
	}
}

func TestSetupRoutesLibraryWarnings(t *testing.T) {
	var buf bytes.Buffer
	prev := GetLogger()
	t.Cleanup(func() {
		SetLogger(prev)
		gogperr.SetZerologWarnFunc(nil)
	})

	Setup(&buf, "warn")

	gogperr.Warn(gogperr.NewNegativeVarianceWarning("Predict", 0, -1e-12))

	events := decodeLines(t, &buf)
	if len(events) != 1 {
		t.Fatalf("expected 1 warning event, got %d", len(events))
	}
	if events[0]["message"] != "library warning" {
		t.Errorf("unexpected warning message: %v", events[0]["message"])
	}
	if events[0]["level"] != "warn" {
		t.Errorf("expected warn level, got %v", events[0]["level"])
	}
}

func TestSetupPanicsOnInvalidLevel(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for invalid log level")
		}
	}()
	toLevel("verbose")
}

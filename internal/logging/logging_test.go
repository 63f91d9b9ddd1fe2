package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_ErrorLevel(t *testing.T) {
	logger := New("error", "text")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Expected info level to be disabled at error level")
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")
	logger.Info("hello", "k", "v")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if line["k"] != "v" {
		t.Errorf("expected attribute k=v, got %v", line["k"])
	}
}

func TestNewErrorChannel_TagsAndFilters(t *testing.T) {
	var buf bytes.Buffer
	ch := NewErrorChannel(&buf)

	ch.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}

	ch.Error("decision log write failed", "trace_id", "t-1")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if line["channel"] != "error" {
		t.Errorf("expected channel=error, got %v", line["channel"])
	}
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" || TraceID(ctx) != "" {
		t.Fatal("expected empty ids on bare context")
	}

	ctx = WithRequestID(ctx, "req-123")
	ctx = WithTraceID(ctx, "trace-9")
	if RequestID(ctx) != "req-123" {
		t.Errorf("Expected req-123, got %q", RequestID(ctx))
	}
	if TraceID(ctx) != "trace-9" {
		t.Errorf("Expected trace-9, got %q", TraceID(ctx))
	}
}

func TestL_DecoratesWithIDs(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "json"))
	ctx = WithRequestID(ctx, "req-456")
	ctx = WithTraceID(ctx, "trace-456")

	L(ctx).Info("gate evaluated")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if line["request_id"] != "req-456" || line["trace_id"] != "trace-456" {
		t.Errorf("expected ids on log line, got %v", line)
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("Expected default logger")
	}
}

package logger

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{" warn ", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", c.in, err, c.wantErr)
		}
		if got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestRunID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// No run ID set
	if id := RunID(ctx); id != "" {
		t.Errorf("expected empty run id, got %q", id)
	}

	// Set and retrieve
	ctx = WithRunID(ctx, "finnhub-123")
	if id := RunID(ctx); id != "finnhub-123" {
		t.Errorf("expected 'finnhub-123', got %q", id)
	}
}

func TestNewRunID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	id := NewRunID("finnhub", ts)

	if id == "" {
		t.Fatal("expected non-empty run id")
	}
	if !strings.HasPrefix(id, "finnhub-") {
		t.Errorf("expected run id to start with 'finnhub-', got %s", id)
	}
	// Verify it contains the nano timestamp
	if !strings.Contains(id, "123456789") {
		t.Errorf("expected run id to contain nanoseconds, got %s", id)
	}
}

func TestRunAttrs(t *testing.T) {
	ctx := context.Background()

	// No run ID
	attrs := RunAttrs(ctx)
	if attrs != nil {
		t.Errorf("expected nil attrs when no run id, got %v", attrs)
	}

	// With run ID set
	ctx = WithRunID(ctx, "abc-123")
	attrs = RunAttrs(ctx)
	if len(attrs) == 0 {
		t.Fatal("expected non-empty attrs with run id set")
	}
}

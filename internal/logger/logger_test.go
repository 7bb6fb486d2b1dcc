package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"  Debug ", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTraceAndSessionContext(t *testing.T) {
	ctx := context.Background()
	if GetTraceID(ctx) != "" || GetSessionID(ctx) != "" {
		t.Fatal("empty context should carry no ids")
	}

	ctx = WithTraceID(ctx, "req-1")
	ctx = WithSessionID(ctx, "sess-1")
	if got := GetTraceID(ctx); got != "req-1" {
		t.Errorf("trace id = %q, want req-1", got)
	}
	if got := GetSessionID(ctx); got != "sess-1" {
		t.Errorf("session id = %q, want sess-1", got)
	}
}

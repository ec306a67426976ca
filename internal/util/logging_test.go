package util

import (
	"context"
	"log/slog"
	"testing"
)

func TestLoggerFromContextFallsBackToDefault(t *testing.T) {
	if got := LoggerFromContext(context.Background()); got != slog.Default() {
		t.Fatalf("expected default logger")
	}
}

func TestLoggerFromContextReturnsStoredLogger(t *testing.T) {
	logger := slog.Default().With("request_id", "abc")
	ctx := ContextWithLogger(context.Background(), logger)
	if got := LoggerFromContext(ctx); got != logger {
		t.Fatalf("expected stored logger")
	}
}

package util

import (
	"context"
	"testing"
)

func TestLoggerFromContextFallsBackToDefault(t *testing.T) {
	if LoggerFromContext(nil) == nil {
		t.Fatal("expected default logger for nil context")
	}
	if LoggerFromContext(context.Background()) == nil {
		t.Fatal("expected default logger for bare context")
	}
	ctx := ContextWithLogger(context.Background(), InitLogger("debug"))
	if LoggerFromContext(ctx) == nil {
		t.Fatal("expected logger from context")
	}
}

package logger_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/astro-web3/spacecat-auth/pkg/logger"
)

func TestNamed_PrefixesMessages(t *testing.T) {
	var buf bytes.Buffer
	logger.SetDefault(logger.New(&buf, "debug", "text", false))
	t.Cleanup(func() { logger.SetDefault(nil) })

	logger.WithName("jwt").ErrorContext(context.Background(), "token rejected", slog.String("error", "boom"))

	out := buf.String()
	if !strings.Contains(out, "[jwt] token rejected") {
		t.Errorf("expected prefixed message, got %q", out)
	}
	if !strings.Contains(out, "error=boom") {
		t.Errorf("expected error attribute, got %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger.SetDefault(logger.New(&buf, "warn", "json", false))
	t.Cleanup(func() { logger.SetDefault(nil) })

	logger.InfoContext(context.Background(), "hidden")
	logger.WarnContext(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"timestamp"`) {
		t.Errorf("expected json warn record with timestamp key, got %q", out)
	}
}

func TestNoLoggerIsSilent(t *testing.T) {
	logger.SetDefault(nil)
	logger.ErrorContext(context.Background(), "nobody listens")
}

package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("runner")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("connected", "sessionId", "abc123")

	out := buf.String()
	if strings.Contains(out, `msg="INFO connected`) {
		t.Fatalf("unexpected nested severity prefix in message: %s", out)
	}
	if !strings.Contains(out, "msg=connected") {
		t.Fatalf("expected plain connected message, got: %s", out)
	}
	if !strings.Contains(out, "component=runner") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "sessionId=abc123") {
		t.Fatalf("expected sessionId field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("runner")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestWithSessionAttachesField(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger := WithSession(L("runner"), "s3ss10n")
	logger.Info("phase started")

	out := buf.String()
	if !strings.Contains(out, "sessionId=s3ss10n") {
		t.Fatalf("expected sessionId field, got: %s", out)
	}
}

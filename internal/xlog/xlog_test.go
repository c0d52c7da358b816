package xlog

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestErrorfIncludesCallerAndMessage(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Errorf("dial %s failed: %v", "example.org", "refused")

	got := buf.String()
	if !strings.Contains(got, "xlog_test.go") {
		t.Fatalf("expected caller file name in output, got %q", got)
	}
	if !strings.Contains(got, "dial example.org failed: refused") {
		t.Fatalf("expected formatted message in output, got %q", got)
	}
}

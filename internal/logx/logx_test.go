package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
)

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithSessionAndTurnAddFields(t *testing.T) {
	capture := &logCapture{}
	log := WithTurn(WithSession(newCaptureLogger(capture), "s1"), 3)
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["session"] != "s1" {
		t.Fatalf("expected session field, got %+v", entry)
	}
	if entry["turn"] != float64(3) {
		t.Fatalf("expected turn field, got %+v", entry)
	}
}

func TestWithTurnSkipsZero(t *testing.T) {
	capture := &logCapture{}
	WithTurn(newCaptureLogger(capture), 0).Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["turn"]; ok {
		t.Fatalf("did not expect turn field for zero turn")
	}
}

func TestWithTunnelAddsEndpoints(t *testing.T) {
	capture := &logCapture{}
	WithTunnel(newCaptureLogger(capture), "jump:22", "127.0.0.1:8888", "").Info("hello")

	entry := capture.firstEntry(t)
	if entry["ssh"] != "jump:22" || entry["local"] != "127.0.0.1:8888" {
		t.Fatalf("expected tunnel fields, got %+v", entry)
	}
	if _, ok := entry["remote"]; ok {
		t.Fatalf("did not expect remote field when empty")
	}
}

func TestWithModelDeduplicatesContextMarker(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture).With("model", "m1")
	ctx := ContextWithModelLogger(context.Background(), logger, "m1")
	WithModel(ctx, "m1").Info("hello")

	line := capture.buf.String()
	if n := bytes.Count([]byte(line), []byte(`"model"`)); n != 1 {
		t.Fatalf("expected model once, got %d in %s", n, line)
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}

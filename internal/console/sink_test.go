package console

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"pkt.systems/tunnelchat/schema"
)

func renderTurn(t *testing.T, sink *Sink, segments []schema.Segment, end schema.TurnEnd) {
	t.Helper()
	if err := sink.BeginTurn(schema.TurnStart{Turn: 1, Model: "deepseek-r1:70b", Prompt: "hi"}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, seg := range segments {
		if err := sink.Write(seg); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := sink.EndTurn(end); err != nil {
		t.Fatalf("end: %v", err)
	}
}

func TestSinkFramesReply(t *testing.T) {
	var out bytes.Buffer
	sink := NewSink(&out)
	renderTurn(t, sink, []schema.Segment{
		{Kind: schema.SegmentThinking, Text: "\n"},
		{Kind: schema.SegmentThinking, Text: "reasoning here\n"},
		{Kind: schema.SegmentAnswer, Text: "final answer\n"},
	}, schema.TurnEnd{Turn: 1})

	want := "Thinking...\n" +
		"========== deepseek-r1:70b reply ==========\n" +
		"\nreasoning here\n" +
		"final answer\n" +
		strings.Repeat("=", 30) + "\n"
	if got := out.String(); got != want {
		t.Fatalf("unexpected output:\n%q\nwant:\n%q", got, want)
	}
}

func TestSinkHidesThinking(t *testing.T) {
	var out bytes.Buffer
	sink := NewSink(&out, WithThinking(false))
	renderTurn(t, sink, []schema.Segment{
		{Kind: schema.SegmentThinking, Text: "secret\n"},
		{Kind: schema.SegmentAnswer, Text: "Hello"},
	}, schema.TurnEnd{Turn: 1})

	got := out.String()
	if strings.Contains(got, "secret") {
		t.Fatalf("expected thinking to be hidden, got %q", got)
	}
	if !strings.Contains(got, "Hello\n"+strings.Repeat("=", 30)) {
		t.Fatalf("expected answer terminated before footer, got %q", got)
	}
}

func TestSinkReportsAbort(t *testing.T) {
	var out bytes.Buffer
	sink := NewSink(&out)
	renderTurn(t, sink, nil, schema.TurnEnd{Turn: 1, Err: errors.New("boom"), Skipped: 2})

	got := out.String()
	if strings.Contains(got, "reply ==========") {
		t.Fatalf("expected no banner without segments, got %q", got)
	}
	if !strings.Contains(got, "error: boom\n") {
		t.Fatalf("expected abort reason, got %q", got)
	}
	if !strings.Contains(got, "(2 malformed stream events skipped)") {
		t.Fatalf("expected skipped note, got %q", got)
	}
}

func TestRenderLinesKeepsBreaks(t *testing.T) {
	var out bytes.Buffer
	style := NewSink(&out).thinking
	if got := renderLines(style, "a\n\nb\n"); got != "a\n\nb\n" {
		t.Fatalf("unexpected render: %q", got)
	}
}

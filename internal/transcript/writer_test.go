package transcript

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"pkt.systems/tunnelchat/schema"
)

func TestWriterFormatsTurn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "output.md")
	w, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	steps := []error{
		w.BeginTurn(schema.TurnStart{Turn: 1, Prompt: "Why is the sky blue?\n"}),
		w.Write(schema.Segment{Kind: schema.SegmentThinking, Text: "\n"}),
		w.Write(schema.Segment{Kind: schema.SegmentThinking, Text: "Rayleigh scattering.\n"}),
		w.Write(schema.Segment{Kind: schema.SegmentAnswer, Text: "Because of scattering.\n"}),
		w.EndTurn(schema.TurnEnd{Turn: 1}),
	}
	for i, err := range steps {
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "## User\n\nWhy is the sky blue?\n\n## Assistant\n\n" +
		"<details>\n<summary>Thinking</summary>\n\n\nRayleigh scattering.\n\n</details>\n\n" +
		"Because of scattering.\n\n\n"
	if string(data) != want {
		t.Fatalf("unexpected transcript:\n%q\nwant:\n%q", data, want)
	}
}

func TestWriterClosesThinkingAndRecordsAbort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.md")
	w, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = w.BeginTurn(schema.TurnStart{Prompt: "q"})
	_ = w.Write(schema.Segment{Kind: schema.SegmentThinking, Text: "partial"})
	_ = w.EndTurn(schema.TurnEnd{Err: &schema.TruncatedStreamError{}})
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, _ := os.ReadFile(path)
	want := "## User\n\nq\n\n## Assistant\n\n<details>\n<summary>Thinking</summary>\n\npartial\n</details>\n\n" +
		"\n> turn aborted: stream ended without [DONE]\n\n\n"
	if string(data) != want {
		t.Fatalf("unexpected transcript:\n%q\nwant:\n%q", data, want)
	}
}

func TestWriterAppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.md")
	for i := 0; i < 2; i++ {
		w, err := Open(path, nil)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		_ = w.BeginTurn(schema.TurnStart{Prompt: "hi"})
		_ = w.Write(schema.Segment{Kind: schema.SegmentAnswer, Text: "hello\n"})
		_ = w.EndTurn(schema.TurnEnd{})
		_ = w.Close()
	}
	data, _ := os.ReadFile(path)
	one := "## User\n\nhi\n\n## Assistant\n\nhello\n\n\n"
	if string(data) != one+one {
		t.Fatalf("expected two appended turns, got %q", data)
	}
}

func TestWriterAfterClose(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "output.md"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := w.Write(schema.Segment{Kind: schema.SegmentAnswer, Text: "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestWriterExclusiveLock(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("advisory locks are unix only")
	}
	path := filepath.Join(t.TempDir(), "output.md")
	first, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer first.Close()
	if _, err := Open(path, nil); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected lock error, got %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  ", nil); err == nil {
		t.Fatalf("expected path error")
	}
}

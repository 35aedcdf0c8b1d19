package chatstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"go.uber.org/goleak"

	"pkt.systems/tunnelchat/schema"
)

func collect(t *testing.T, ctx context.Context, stream *eventStream) ([]schema.StreamEvent, error) {
	t.Helper()
	var events []schema.StreamEvent
	for {
		event, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return events, err
		}
		events = append(events, event)
	}
}

func TestEventStreamSkipsInvalidJSON(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r, w := io.Pipe()
	stream := newEventStream(ctx, r, time.Second)
	defer stream.Close()

	go func() {
		_, _ = fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"before\n"}}]}`)
		_, _ = fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":`)
		_, _ = fmt.Fprintln(w, "")
		_, _ = fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"after\n"}}]}`)
		_, _ = fmt.Fprintln(w, "data: [DONE]")
		_ = w.Close()
	}()

	events, err := collect(t, ctx, stream)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	if events[0].Delta != "before\n" || events[1].Delta != "after\n" || events[2].Type != schema.StreamDone {
		t.Fatalf("unexpected events: %+v", events)
	}
	if stream.Skipped() != 1 {
		t.Fatalf("expected 1 skipped line, got %d", stream.Skipped())
	}
}

func TestEventStreamTruncatedWithoutDone(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r, w := io.Pipe()
	stream := newEventStream(ctx, r, time.Second)
	defer stream.Close()

	go func() {
		_, _ = fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"partial"}}]}`)
		_ = w.Close()
	}()

	events, err := collect(t, ctx, stream)
	var truncated *schema.TruncatedStreamError
	if !errors.As(err, &truncated) {
		t.Fatalf("expected truncated stream error, got %v", err)
	}
	if truncated.Stalled {
		t.Fatalf("did not expect stalled flag")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF cause, got %v", err)
	}
	if len(events) != 1 || events[0].Delta != "partial" {
		t.Fatalf("expected the delivered delta before truncation, got %+v", events)
	}
}

func TestEventStreamNetworkErrorIsTruncated(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r, w := io.Pipe()
	stream := newEventStream(ctx, r, time.Second)
	defer stream.Close()

	reset := errors.New("connection reset")
	go func() {
		_ = w.CloseWithError(reset)
	}()

	_, err := collect(t, ctx, stream)
	if !errors.Is(err, reset) {
		t.Fatalf("expected reset cause, got %v", err)
	}
}

func TestEventStreamStallTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r, w := io.Pipe()
	defer w.Close()
	stream := newEventStream(ctx, r, 20*time.Millisecond)
	defer stream.Close()

	_, err := stream.Next(ctx)
	var truncated *schema.TruncatedStreamError
	if !errors.As(err, &truncated) || !truncated.Stalled {
		t.Fatalf("expected stalled truncation, got %v", err)
	}
}

func TestEventStreamCommentsKeepStreamAlive(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, w := io.Pipe()
	stream := newEventStream(ctx, r, 150*time.Millisecond)
	defer stream.Close()

	written := make(chan struct{})
	go func() {
		defer close(written)
		for i := 0; i < 10; i++ {
			time.Sleep(50 * time.Millisecond)
			if _, err := fmt.Fprintln(w, ": keepalive"); err != nil {
				return
			}
		}
		_, _ = fmt.Fprintln(w, `data: {"choices":[{"delta":{"role":"assistant"}}]}`)
		_, _ = fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"late\n"}}]}`)
		_, _ = fmt.Fprintln(w, "data: [DONE]")
		_ = w.Close()
	}()

	events, err := collect(t, ctx, stream)
	<-written
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(events) != 2 || events[0].Delta != "late\n" || events[1].Type != schema.StreamDone {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestEventStreamContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	r, w := io.Pipe()
	defer w.Close()
	stream := newEventStream(context.Background(), r, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := stream.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

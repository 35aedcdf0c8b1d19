package chatstream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/schema"
)

type eventStream struct {
	body      io.ReadCloser
	events    chan schema.StreamEvent
	stop      chan struct{}
	stall     time.Duration
	errMu     sync.Mutex
	err       error
	skipped   atomic.Int64
	lastRead  atomic.Int64
	wg        sync.WaitGroup
	closeOnce sync.Once
	log       pslog.Logger
}

func newEventStream(ctx context.Context, body io.ReadCloser, stall time.Duration) *eventStream {
	stream := &eventStream{
		body:   body,
		events: make(chan schema.StreamEvent, 256),
		stop:   make(chan struct{}),
		stall:  stall,
		log:    pslog.Ctx(ctx),
	}
	stream.lastRead.Store(time.Now().UnixNano())
	stream.wg.Add(1)
	go stream.read()
	return stream
}

func (s *eventStream) read() {
	defer s.wg.Done()
	defer close(s.events)
	reader := bufio.NewReader(s.body)
	lines := 0
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			s.lastRead.Store(time.Now().UnixNano())
			lines++
			event, ok, decodeErr := decodeLine(line)
			if decodeErr != nil {
				s.skipped.Add(1)
				var malformed *schema.MalformedEventError
				if errors.As(decodeErr, &malformed) {
					preview := previewText(string(malformed.Line), 200)
					s.log.Warn("chat stream decode failed", "preview", preview, "truncated", len(preview) < len(malformed.Line), "err", decodeErr)
				}
			} else if ok {
				if !s.send(event) {
					return
				}
				if event.Type == schema.StreamDone {
					s.log.Debug("chat stream completed", "lines", lines, "skipped", s.Skipped())
					return
				}
			}
		}
		if err != nil {
			if s.stopping() {
				return
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			s.log.Warn("chat stream ended before terminator", "lines", lines, "err", err)
			s.setErr(&schema.TruncatedStreamError{Err: err})
			return
		}
	}
}

func (s *eventStream) send(event schema.StreamEvent) bool {
	select {
	case s.events <- event:
		return true
	case <-s.stop:
		return false
	}
}

func (s *eventStream) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *eventStream) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *eventStream) streamErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Next returns the next decoded event. After the terminator it returns io.EOF.
// The stall timeout measures time since the last line read from the body, so
// comments and dropped lines keep the stream alive.
func (s *eventStream) Next(ctx context.Context) (schema.StreamEvent, error) {
	if s.stall <= 0 {
		select {
		case <-ctx.Done():
			return schema.StreamEvent{}, ctx.Err()
		case event, ok := <-s.events:
			return s.received(event, ok)
		}
	}
	timer := time.NewTimer(s.stall)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return schema.StreamEvent{}, ctx.Err()
		case event, ok := <-s.events:
			return s.received(event, ok)
		case <-timer.C:
			idle := s.idle()
			if idle < s.stall {
				timer.Reset(s.stall - idle)
				continue
			}
			return s.stalled(idle)
		}
	}
}

func (s *eventStream) received(event schema.StreamEvent, ok bool) (schema.StreamEvent, error) {
	if ok {
		return event, nil
	}
	if err := s.streamErr(); err != nil {
		return schema.StreamEvent{}, err
	}
	return schema.StreamEvent{}, io.EOF
}

func (s *eventStream) idle() time.Duration {
	return time.Since(time.Unix(0, s.lastRead.Load()))
}

func (s *eventStream) stalled(idle time.Duration) (schema.StreamEvent, error) {
	s.log.Warn("chat stream stalled", "stall", s.stall, "idle", idle)
	_ = s.Close()
	return schema.StreamEvent{}, &schema.TruncatedStreamError{Stalled: true, Err: context.DeadlineExceeded}
}

// Skipped reports how many data lines were dropped as malformed.
func (s *eventStream) Skipped() int {
	return int(s.skipped.Load())
}

// Close releases the response body and waits for the reader to exit.
func (s *eventStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.body.Close()
		s.wg.Wait()
	})
	return err
}

func previewText(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max]
}

package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/internal/logx"
	"pkt.systems/tunnelchat/internal/segment"
	"pkt.systems/tunnelchat/schema"
)

// TurnResult summarizes a completed turn.
type TurnResult struct {
	Turn     schema.TurnID
	Answer   string
	Thinking string
	Segments int
	Skipped  int
	Duration time.Duration
}

// Session orchestrates the tunnel and one conversation.
type Session struct {
	id      schema.SessionID
	cfg     schema.SessionConfig
	tunnel  Tunnel
	sources SourceFactory
	sink    Sink
	history *History
	log     pslog.Logger

	mu     sync.Mutex
	handle TunnelHandle
	source ChatSource
	closed bool

	turnMu sync.Mutex
	turns  int
}

// NewSession constructs a Session. The tunnel is not opened until Start.
func NewSession(cfg schema.SessionConfig, deps SessionDeps) (*Session, error) {
	normalized, err := schema.NormalizeSessionConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Tunnel == nil {
		return nil, errors.New("session tunnel is required")
	}
	if deps.Sources == nil {
		return nil, errors.New("session chat source factory is required")
	}
	sink := deps.Sink
	if sink == nil {
		sink = discardSink{}
	}
	id := newSessionID()
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Session{
		id:      id,
		cfg:     normalized,
		tunnel:  deps.Tunnel,
		sources: deps.Sources,
		sink:    sink,
		history: NewHistory(),
		log:     logx.WithSession(logger, id),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() schema.SessionID {
	return s.id
}

// Model returns the configured model.
func (s *Session) Model() schema.ModelID {
	return s.cfg.Model
}

// History returns a copy of the committed conversation.
func (s *Session) History() []schema.Message {
	return s.history.Entries()
}

// Start opens and verifies the tunnel. A failed verify releases the tunnel.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return schema.ErrTunnelClosed
	}
	if s.handle != nil {
		return nil
	}
	s.log.Info("session tunnel open start")
	handle, err := s.tunnel.Open(ctx)
	if err != nil {
		s.log.Warn("session tunnel open failed", "err", err)
		return err
	}
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	if err := s.tunnel.Verify(probeCtx, handle); err != nil {
		s.log.Warn("session tunnel verify failed", "err", err)
		s.tunnel.Close(handle)
		return err
	}
	s.handle = handle
	s.source = s.sources(handle)
	s.log.Info("session tunnel ready", "base_url", handle.BaseURL())
	return nil
}

// Handle returns the live tunnel handle, or nil before Start and after Close.
func (s *Session) Handle() TunnelHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Close releases the tunnel. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.source = nil
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	if alreadyClosed {
		return
	}
	s.tunnel.Close(handle)
	s.log.Info("session closed", "turns", s.turnCount(), "history", s.history.Len())
}

// Run drives the interactive loop until the input ends, the context is
// cancelled or the tunnel cannot be established. The tunnel is always released.
func (s *Session) Run(ctx context.Context, input InputSource) error {
	defer s.Close()
	if input == nil {
		return errors.New("session input is required")
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	for {
		text, err := input.NextInput(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Info("session input ended")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if strings.TrimSpace(text) == "" {
			s.log.Info("session input ended", "reason", "empty")
			return nil
		}
		if _, err := s.Turn(ctx, text); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, schema.ErrTunnelClosed) {
				return err
			}
			// Request and stream failures abort the turn only.
			continue
		}
	}
}

// Turn sends one user message and streams the response to the sink. History
// is updated only when the stream reaches its terminator.
func (s *Session) Turn(ctx context.Context, text string) (TurnResult, error) {
	if !s.turnMu.TryLock() {
		return TurnResult{}, schema.ErrTurnBusy
	}
	defer s.turnMu.Unlock()

	prompt, err := schema.NormalizePrompt(text)
	if err != nil {
		return TurnResult{}, err
	}
	s.mu.Lock()
	source := s.source
	s.mu.Unlock()
	if source == nil {
		return TurnResult{}, schema.ErrTunnelClosed
	}

	s.turns++
	turnID := schema.TurnID(s.turns)
	log := logx.WithTurn(s.log, turnID)
	staged := schema.Message{Role: schema.RoleUser, Content: prompt}
	request := s.history.request(s.cfg.SystemPrompt, s.cfg.HistoryMax, staged)
	started := time.Now()
	s.begin(log, schema.TurnStart{Session: s.id, Turn: turnID, Model: s.cfg.Model, Prompt: prompt, Started: started})

	log.Info("session turn start", "messages", len(request), "prompt_len", len(prompt))
	ctx = pslog.ContextWithLogger(ctx, log)
	stream, err := source.Send(ctx, request)
	if err != nil {
		log.Warn("session turn request failed", "err", err)
		s.end(log, schema.TurnEnd{Session: s.id, Turn: turnID, Duration: time.Since(started), Err: err})
		return TurnResult{Turn: turnID}, err
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Debug("session turn stream close failed", "err", err)
		}
	}()

	parser := segment.New()
	result := TurnResult{Turn: turnID}
	var answer strings.Builder
	var thinking strings.Builder
	emit := func(segments []schema.Segment) {
		for _, seg := range segments {
			result.Segments++
			if seg.IsThinking() {
				thinking.WriteString(seg.Text)
			} else {
				answer.WriteString(seg.Text)
			}
			if err := s.sink.Write(seg); err != nil {
				log.Warn("session sink write failed", "kind", seg.Kind, "err", err)
			}
		}
	}

	for done := false; !done; {
		event, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = &schema.TruncatedStreamError{Err: io.ErrUnexpectedEOF}
			}
			dropped := parser.Discard()
			result.Skipped = stream.Skipped()
			result.Duration = time.Since(started)
			log.Warn("session turn aborted", "err", err, "segments", result.Segments, "discarded_bytes", dropped)
			s.end(log, schema.TurnEnd{
				Session:  s.id,
				Turn:     turnID,
				Segments: result.Segments,
				Skipped:  result.Skipped,
				Duration: result.Duration,
				Err:      err,
			})
			return result, err
		}
		switch event.Type {
		case schema.StreamDelta:
			emit(parser.Feed(event.Delta))
		case schema.StreamDone:
			emit(parser.Finish())
			done = true
		}
	}

	result.Answer = answer.String()
	result.Thinking = thinking.String()
	result.Skipped = stream.Skipped()
	result.Duration = time.Since(started)
	s.history.Commit(staged, schema.Message{Role: schema.RoleAssistant, Content: result.Answer})
	log.Info("session turn complete", "segments", result.Segments, "answer_len", len(result.Answer), "thinking_len", len(result.Thinking), "skipped", result.Skipped, "duration", result.Duration)
	s.end(log, schema.TurnEnd{
		Session:  s.id,
		Turn:     turnID,
		Answer:   result.Answer,
		Segments: result.Segments,
		Skipped:  result.Skipped,
		Duration: result.Duration,
	})
	return result, nil
}

func (s *Session) begin(log pslog.Logger, turn schema.TurnStart) {
	if err := s.sink.BeginTurn(turn); err != nil {
		log.Warn("session sink begin failed", "err", err)
	}
}

func (s *Session) end(log pslog.Logger, turn schema.TurnEnd) {
	if err := s.sink.EndTurn(turn); err != nil {
		log.Warn("session sink end failed", "err", err)
	}
}

func (s *Session) turnCount() int {
	if !s.turnMu.TryLock() {
		return -1
	}
	defer s.turnMu.Unlock()
	return s.turns
}

package tunnelchat

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/core"
	"pkt.systems/tunnelchat/schema"
)

type namedSink struct {
	name string
	sink core.Sink
}

// Multiplexer fans turn boundaries and segments out to registered sinks in
// registration order. A failing sink does not stop delivery to the others.
type Multiplexer struct {
	mu    sync.RWMutex
	sinks []namedSink
	log   pslog.Logger
}

// NewMultiplexer returns an empty Multiplexer.
func NewMultiplexer(logger pslog.Logger) *Multiplexer {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Multiplexer{log: logger}
}

// Register appends a sink. Nil sinks are ignored.
func (m *Multiplexer) Register(name string, sink core.Sink) {
	if sink == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, namedSink{name: name, sink: sink})
	count := len(m.sinks)
	m.mu.Unlock()
	m.log.Debug("sink registered", "sink", name, "sinks", count)
}

// Len returns the number of registered sinks.
func (m *Multiplexer) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sinks)
}

// Emit delivers one segment to every sink. Failures are returned joined as
// *schema.SinkWriteError values.
func (m *Multiplexer) Emit(seg schema.Segment) error {
	return m.each(func(s core.Sink) error { return s.Write(seg) })
}

// Write implements core.Sink.
func (m *Multiplexer) Write(seg schema.Segment) error {
	return m.Emit(seg)
}

// BeginTurn implements core.Sink.
func (m *Multiplexer) BeginTurn(turn schema.TurnStart) error {
	return m.each(func(s core.Sink) error { return s.BeginTurn(turn) })
}

// EndTurn implements core.Sink.
func (m *Multiplexer) EndTurn(turn schema.TurnEnd) error {
	return m.each(func(s core.Sink) error { return s.EndTurn(turn) })
}

func (m *Multiplexer) each(fn func(core.Sink) error) error {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()
	var errs []error
	for _, entry := range sinks {
		if err := fn(entry.sink); err != nil {
			errs = append(errs, &schema.SinkWriteError{Sink: entry.name, Err: err})
		}
	}
	return errors.Join(errs...)
}

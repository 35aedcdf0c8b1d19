package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventTurnStart marks the beginning of a turn.
	EventTurnStart EventType = "turn_start"
	// EventSegment carries one parsed segment.
	EventSegment EventType = "segment"
	// EventTurnEnd marks the end of a turn.
	EventTurnEnd EventType = "turn_end"
)

// Event represents a UI-facing event emitted by a session.
type Event struct {
	Type    EventType
	Session schema.SessionID
	Start   schema.TurnStart
	Segment schema.Segment
	End     schema.TurnEnd
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Bus fans session events out to subscribers. Delivery is ordered and
// lossless: a publish waits for every live subscriber of the session to
// accept the event or to unsubscribe.
type Bus struct {
	mu    sync.RWMutex
	subs  map[schema.SessionID]map[*subscriber]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.SessionID]map[*subscriber]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the session and returns a channel + cancel.
// The cancel func is idempotent and closes the channel.
func (b *Bus) Subscribe(sessionID schema.SessionID) (<-chan Event, func()) {
	if b == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{ch: make(chan Event, b.depth), done: make(chan struct{})}
	b.mu.Lock()
	sessionSubs := b.subs[sessionID]
	if sessionSubs == nil {
		sessionSubs = make(map[*subscriber]struct{})
		b.subs[sessionID] = sessionSubs
	}
	sessionSubs[sub] = struct{}{}
	count := len(sessionSubs)
	b.mu.Unlock()
	log := b.log.With("session", sessionID)
	log.Debug("eventbus subscribe", "subs", count)
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			// Release publishers blocked on this subscriber before taking the lock.
			close(sub.done)
			b.mu.Lock()
			if subs := b.subs[sessionID]; subs != nil {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(b.subs, sessionID)
				}
			}
			b.mu.Unlock()
			close(sub.ch)
			log.Debug("eventbus unsubscribe")
		})
	}
}

// Subscribers reports the live subscriber count for a session.
func (b *Bus) Subscribers(sessionID schema.SessionID) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// OnTurnStart publishes a turn start event.
func (b *Bus) OnTurnStart(turn schema.TurnStart) {
	b.publish(turn.Session, Event{Type: EventTurnStart, Session: turn.Session, Start: turn})
}

// OnSegment publishes a segment event.
func (b *Bus) OnSegment(sessionID schema.SessionID, seg schema.Segment) {
	b.publish(sessionID, Event{Type: EventSegment, Session: sessionID, Segment: seg})
}

// OnTurnEnd publishes a turn end event.
func (b *Bus) OnTurnEnd(turn schema.TurnEnd) {
	b.publish(turn.Session, Event{Type: EventTurnEnd, Session: turn.Session, End: turn})
}

func (b *Bus) publish(sessionID schema.SessionID, event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	sessionSubs := b.subs[sessionID]
	if len(sessionSubs) == 0 {
		return
	}
	gone := 0
	for sub := range sessionSubs {
		select {
		case <-sub.done:
			gone++
			continue
		default:
		}
		select {
		case sub.ch <- event:
		case <-sub.done:
			gone++
		}
	}
	if gone > 0 {
		b.log.With("session", sessionID).Trace("eventbus skipped closed subscribers", "count", gone, "type", event.Type)
	}
}

// Sink adapts the bus to the session sink contract for one session.
func (b *Bus) Sink(sessionID schema.SessionID) *Sink {
	return &Sink{bus: b, session: sessionID}
}

// Sink publishes turn boundaries and segments onto the bus.
type Sink struct {
	bus     *Bus
	session schema.SessionID
}

// BeginTurn publishes the turn start. The session id on the turn is replaced
// with the sink's session when empty.
func (s *Sink) BeginTurn(turn schema.TurnStart) error {
	if turn.Session == "" {
		turn.Session = s.session
	}
	s.bus.OnTurnStart(turn)
	return nil
}

// Write publishes one segment.
func (s *Sink) Write(seg schema.Segment) error {
	s.bus.OnSegment(s.session, seg)
	return nil
}

// EndTurn publishes the turn end.
func (s *Sink) EndTurn(turn schema.TurnEnd) error {
	if turn.Session == "" {
		turn.Session = s.session
	}
	s.bus.OnTurnEnd(turn)
	return nil
}

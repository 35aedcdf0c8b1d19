// Package segment reclassifies a streamed token sequence into thinking and
// answer segments.
package segment

import (
	"strings"

	"pkt.systems/tunnelchat/schema"
)

const (
	// OpenMarker starts a reasoning span.
	OpenMarker = "<think>"
	// CloseMarker ends a reasoning span.
	CloseMarker = "</think>"
)

// maxHeld bounds the unconfirmed tail: a proper prefix of the longest marker.
const maxHeld = len(CloseMarker) - 1

// Mode is the parser state.
type Mode int

const (
	// ModeNormal classifies text as answer.
	ModeNormal Mode = iota
	// ModeThinking classifies text as reasoning.
	ModeThinking
)

func (m Mode) String() string {
	if m == ModeThinking {
		return "thinking"
	}
	return "normal"
}

func (m Mode) kind() schema.SegmentKind {
	if m == ModeThinking {
		return schema.SegmentThinking
	}
	return schema.SegmentAnswer
}

// Parser is a line-buffered state machine over delta tokens. It is not safe
// for concurrent use; a turn owns exactly one Parser.
type Parser struct {
	mode    Mode
	pending strings.Builder
	held    string
	done    bool
}

// New returns a parser in normal mode.
func New() *Parser {
	return &Parser{}
}

// Mode returns the current state.
func (p *Parser) Mode() Mode {
	return p.mode
}

// Feed consumes one delta token and returns the segments it completes, in order.
func (p *Parser) Feed(delta string) []schema.Segment {
	if p.done || delta == "" {
		return nil
	}
	var out []schema.Segment
	work := p.held + delta
	p.held = ""
	for work != "" {
		idx, marker := p.findMarker(work)
		if idx < 0 {
			keep := heldSuffix(work, p.markers())
			out = p.appendText(out, work[:len(work)-keep])
			p.held = work[len(work)-keep:]
			break
		}
		out = p.appendText(out, work[:idx])
		out = p.applyMarker(out, marker)
		work = work[idx+len(marker):]
	}
	return out
}

// Finish releases any held text and flushes the remainder as a final segment.
// It is called once the stream terminator is observed.
func (p *Parser) Finish() []schema.Segment {
	if p.done {
		return nil
	}
	var out []schema.Segment
	if p.held != "" {
		p.pending.WriteString(p.held)
		p.held = ""
	}
	out = p.flush(out)
	p.done = true
	return out
}

// Discard drops all unflushed text. It is used when the stream ends without
// its terminator so partial lines are never reported as complete segments.
func (p *Parser) Discard() int {
	dropped := p.pending.Len() + len(p.held)
	p.pending.Reset()
	p.held = ""
	p.done = true
	return dropped
}

// Pending reports the number of bytes accepted but not yet emitted.
func (p *Parser) Pending() int {
	return p.pending.Len() + len(p.held)
}

// markers lists the markers recognized in the current mode. A stray close
// marker in normal mode is plain text.
func (p *Parser) markers() []string {
	if p.mode == ModeThinking {
		return []string{CloseMarker, OpenMarker}
	}
	return []string{OpenMarker}
}

func (p *Parser) findMarker(s string) (int, string) {
	best := -1
	found := ""
	for _, marker := range p.markers() {
		idx := strings.Index(s, marker)
		if idx < 0 {
			continue
		}
		if best < 0 || idx < best {
			best = idx
			found = marker
		}
	}
	return best, found
}

func (p *Parser) applyMarker(out []schema.Segment, marker string) []schema.Segment {
	switch {
	case marker == OpenMarker && p.mode == ModeNormal:
		out = p.flush(out)
		p.mode = ModeThinking
	case marker == CloseMarker && p.mode == ModeThinking:
		out = p.flush(out)
		p.mode = ModeNormal
	}
	// A nested open marker while thinking is consumed without a state change.
	return out
}

// appendText adds confirmed text, flushing one segment per completed line.
func (p *Parser) appendText(out []schema.Segment, text string) []schema.Segment {
	for text != "" {
		nl := strings.IndexByte(text, '\n')
		if nl < 0 {
			p.pending.WriteString(text)
			return out
		}
		p.pending.WriteString(text[:nl+1])
		out = p.flush(out)
		text = text[nl+1:]
	}
	return out
}

func (p *Parser) flush(out []schema.Segment) []schema.Segment {
	if p.pending.Len() == 0 {
		return out
	}
	out = append(out, schema.Segment{Kind: p.mode.kind(), Text: p.pending.String()})
	p.pending.Reset()
	return out
}

// heldSuffix returns the length of the longest suffix of s that is a proper
// prefix of one of the markers.
func heldSuffix(s string, markers []string) int {
	limit := maxHeld
	if len(s) < limit {
		limit = len(s)
	}
	for n := limit; n > 0; n-- {
		tail := s[len(s)-n:]
		for _, marker := range markers {
			if len(tail) < len(marker) && strings.HasPrefix(marker, tail) {
				return n
			}
		}
	}
	return 0
}

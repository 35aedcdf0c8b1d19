package core

import "pkt.systems/tunnelchat/schema"

// Sink receives turn boundaries and segments in parser-emission order.
type Sink interface {
	BeginTurn(turn schema.TurnStart) error
	Write(segment schema.Segment) error
	EndTurn(turn schema.TurnEnd) error
}

type discardSink struct{}

func (discardSink) BeginTurn(schema.TurnStart) error { return nil }
func (discardSink) Write(schema.Segment) error       { return nil }
func (discardSink) EndTurn(schema.TurnEnd) error     { return nil }

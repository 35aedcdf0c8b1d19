package core

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/schema"
)

// TunnelHandle is the opaque token for a live forwarded endpoint.
type TunnelHandle interface {
	// BaseURL is the locally reachable API root, e.g. http://127.0.0.1:8888/v1.
	BaseURL() string
}

// Tunnel makes the chat endpoint locally reachable for the session lifetime.
type Tunnel interface {
	Open(ctx context.Context) (TunnelHandle, error)
	Verify(ctx context.Context, handle TunnelHandle) error
	// Close is idempotent and never fails past this boundary.
	Close(handle TunnelHandle)
}

// EventStream yields decoded chat stream events for one turn.
type EventStream interface {
	// Next returns io.EOF after the terminator has been delivered.
	Next(ctx context.Context) (schema.StreamEvent, error)
	// Skipped reports data lines dropped as malformed so far.
	Skipped() int
	Close() error
}

// ChatSource issues one streaming chat request per turn.
type ChatSource interface {
	Send(ctx context.Context, history []schema.Message) (EventStream, error)
}

// SourceFactory binds a ChatSource to a live tunnel handle.
type SourceFactory func(handle TunnelHandle) ChatSource

// InputSource supplies user turns. An empty string or io.EOF ends the session.
type InputSource interface {
	NextInput(ctx context.Context) (string, error)
}

// SessionDeps captures collaborators for a Session.
type SessionDeps struct {
	Tunnel  Tunnel
	Sources SourceFactory
	Sink    Sink
	Logger  pslog.Logger
}

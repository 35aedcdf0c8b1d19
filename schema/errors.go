package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyPrompt indicates the prompt was empty.
	ErrEmptyPrompt = errors.New("empty prompt")
	// ErrInvalidModel indicates an invalid model identifier.
	ErrInvalidModel = errors.New("invalid model")
	// ErrTurnBusy indicates a turn is already streaming for the session.
	ErrTurnBusy = errors.New("turn already in progress")
	// ErrTunnelActive indicates the manager already holds an open tunnel.
	ErrTunnelActive = errors.New("tunnel already open")
	// ErrTunnelClosed indicates the tunnel handle was closed or never opened.
	ErrTunnelClosed = errors.New("tunnel closed")
	// ErrInvalidHandle indicates a handle from another manager was supplied.
	ErrInvalidHandle = errors.New("invalid tunnel handle")
)

// ConnectReason classifies tunnel setup failures.
type ConnectReason string

const (
	// ConnectAuthFailure indicates the SSH server rejected the credentials.
	ConnectAuthFailure ConnectReason = "auth_failure"
	// ConnectNetworkUnreachable indicates the SSH endpoint or local bind failed.
	ConnectNetworkUnreachable ConnectReason = "network_unreachable"
	// ConnectTimeout indicates the setup did not complete in time.
	ConnectTimeout ConnectReason = "timeout"
)

// ConnectError reports a failed tunnel setup.
type ConnectError struct {
	Reason ConnectReason
	Op     string
	Addr   string
	Err    error
}

func (e *ConnectError) Error() string {
	if e == nil {
		return "tunnel connect error"
	}
	var b strings.Builder
	b.WriteString("tunnel ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("failed")
	if e.Addr != "" {
		fmt.Fprintf(&b, " (%s)", e.Addr)
	}
	fmt.Fprintf(&b, ": %s", e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConnectError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// VerifyError reports a failed health probe through the tunnel.
type VerifyError struct {
	URL    string
	Status int
	Err    error
}

func (e *VerifyError) Error() string {
	if e == nil {
		return "tunnel verify error"
	}
	if e.Err != nil {
		return fmt.Sprintf("endpoint unreachable at %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("endpoint unreachable at %s: status %d", e.URL, e.Status)
}

func (e *VerifyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RequestError reports a non-success response to a chat request.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	if e == nil {
		return "request error"
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("chat request failed: status %d", e.Status)
	}
	return fmt.Sprintf("chat request failed: status %d: %s", e.Status, body)
}

// TruncatedStreamError reports a stream that ended before its terminator.
type TruncatedStreamError struct {
	// Stalled is set when no line arrived within the stall timeout.
	Stalled bool
	Err     error
}

func (e *TruncatedStreamError) Error() string {
	if e == nil {
		return "stream truncated"
	}
	msg := "stream ended without [DONE]"
	if e.Stalled {
		msg = "stream stalled before [DONE]"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *TruncatedStreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MalformedEventError reports a data line whose payload could not be decoded.
type MalformedEventError struct {
	Line RawEventLine
	Err  error
}

func (e *MalformedEventError) Error() string {
	if e == nil || e.Err == nil {
		return "malformed stream event"
	}
	return "malformed stream event: " + e.Err.Error()
}

func (e *MalformedEventError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// SinkWriteError reports a sink that failed to accept a segment or turn boundary.
type SinkWriteError struct {
	Sink string
	Err  error
}

func (e *SinkWriteError) Error() string {
	if e == nil {
		return "sink write error"
	}
	if e.Err == nil {
		return fmt.Sprintf("sink %s write failed", e.Sink)
	}
	return fmt.Sprintf("sink %s write failed: %v", e.Sink, e.Err)
}

func (e *SinkWriteError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

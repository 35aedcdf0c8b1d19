package tunnel

import (
	"context"
	"errors"
	"net"
	"strings"

	"pkt.systems/tunnelchat/schema"
)

func connectError(op, addr string, err error) *schema.ConnectError {
	return &schema.ConnectError{Reason: classify(err), Op: op, Addr: addr, Err: err}
}

func classify(err error) schema.ConnectReason {
	if err == nil {
		return schema.ConnectNetworkUnreachable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.ConnectTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return schema.ConnectTimeout
	}
	if isHostKeyError(err) {
		return schema.ConnectAuthFailure
	}
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain") {
		return schema.ConnectAuthFailure
	}
	return schema.ConnectNetworkUnreachable
}

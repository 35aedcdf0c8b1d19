package tunnel

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/core"
	"pkt.systems/tunnelchat/schema"
)

// Direct satisfies the tunnel contract for an endpoint that is already
// reachable, such as a local server or the mock API.
type Direct struct {
	baseURL string
	log     pslog.Logger
	probe   *http.Client

	mu     sync.Mutex
	active *directHandle
}

type directHandle struct {
	baseURL string
	closed  bool
}

func (h *directHandle) BaseURL() string {
	return h.baseURL
}

// NewDirect returns a Direct tunnel for the API root baseURL.
func NewDirect(baseURL string, logger pslog.Logger) *Direct {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &Direct{
		baseURL: baseURL,
		log:     logger.With("endpoint", baseURL),
		probe:   &http.Client{},
	}
}

// Open returns a handle for the endpoint.
func (d *Direct) Open(context.Context) (core.TunnelHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active != nil {
		return nil, schema.ErrTunnelActive
	}
	d.active = &directHandle{baseURL: d.baseURL}
	d.log.Info("tunnel open ok", "mode", "direct")
	return d.active, nil
}

// Verify probes the endpoint.
func (d *Direct) Verify(ctx context.Context, handle core.TunnelHandle) error {
	h, ok := handle.(*directHandle)
	if !ok || h == nil {
		return &schema.VerifyError{Err: schema.ErrInvalidHandle}
	}
	d.mu.Lock()
	closed := h.closed
	d.mu.Unlock()
	if closed {
		return &schema.VerifyError{URL: h.baseURL + ProbePath, Err: schema.ErrTunnelClosed}
	}
	return probe(ctx, d.probe, d.log, h.baseURL)
}

// Close releases the handle. It is idempotent and accepts nil.
func (d *Direct) Close(handle core.TunnelHandle) {
	h, _ := handle.(*directHandle)
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	if d.active == h {
		d.active = nil
	}
	d.log.Info("tunnel closed", "mode", "direct")
}

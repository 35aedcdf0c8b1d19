package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"pkt.systems/pslog"
)

const keepaliveRequest = "keepalive@openssh.com"

// Handle is a live forwarded endpoint returned by Manager.Open.
type Handle struct {
	client     *ssh.Client
	listener   net.Listener
	baseURL    string
	remoteAddr string
	log        pslog.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	connsMu   sync.Mutex
	conns     map[net.Conn]struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	forwarded atomic.Int64
}

// BaseURL returns the locally reachable API root.
func (h *Handle) BaseURL() string {
	return h.baseURL
}

// LocalAddr returns the bound local listener address.
func (h *Handle) LocalAddr() string {
	return h.listener.Addr().String()
}

// Forwarded reports how many local connections have been accepted.
func (h *Handle) Forwarded() int {
	return int(h.forwarded.Load())
}

func (h *Handle) start(keepalive time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.wg.Add(2)
	go h.acceptLoop()
	go h.watch()
	if keepalive > 0 {
		h.wg.Add(1)
		go h.keepalive(ctx, keepalive)
	}
}

func (h *Handle) acceptLoop() {
	defer h.wg.Done()
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			if !h.closed.Load() && !errors.Is(err, net.ErrClosed) {
				h.log.Warn("tunnel accept failed", "err", err)
			}
			return
		}
		if !h.track(conn) {
			_ = conn.Close()
			return
		}
		h.forwarded.Add(1)
		h.wg.Add(1)
		go h.forward(conn)
	}
}

func (h *Handle) forward(local net.Conn) {
	defer h.wg.Done()
	defer h.untrack(local)
	defer local.Close()

	remote, err := h.client.Dial("tcp", h.remoteAddr)
	if err != nil {
		h.log.Warn("tunnel forward dial failed", "client", local.RemoteAddr().String(), "err", err)
		return
	}
	if !h.track(remote) {
		_ = remote.Close()
		return
	}
	defer h.untrack(remote)
	defer remote.Close()

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(remote, local)
		closeWrite(remote)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(local, remote)
		closeWrite(local)
		return err
	})
	if err := g.Wait(); err != nil && !h.closed.Load() && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
		h.log.Debug("tunnel forward ended", "err", err)
	}
}

func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

// watch logs a dropped SSH connection. It returns once the client is closed.
func (h *Handle) watch() {
	defer h.wg.Done()
	err := h.client.Wait()
	if !h.closed.Load() {
		h.log.Warn("tunnel ssh connection lost", "err", err)
		_ = h.listener.Close()
	}
}

func (h *Handle) keepalive(ctx context.Context, interval time.Duration) {
	defer h.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := h.client.SendRequest(keepaliveRequest, true, nil); err != nil {
				if !h.closed.Load() {
					h.log.Warn("tunnel keepalive failed", "err", err)
				}
				return
			}
			h.log.Trace("tunnel keepalive ok")
		}
	}
}

func (h *Handle) track(conn net.Conn) bool {
	h.connsMu.Lock()
	defer h.connsMu.Unlock()
	if h.conns == nil {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *Handle) untrack(conn net.Conn) {
	h.connsMu.Lock()
	defer h.connsMu.Unlock()
	if h.conns != nil {
		delete(h.conns, conn)
	}
}

// close releases the listener, in-flight connections, keepalive and SSH client.
// Only the first call does work; later calls return the same result.
func (h *Handle) close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		if h.cancel != nil {
			h.cancel()
		}
		var errs []error
		if err := h.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		h.connsMu.Lock()
		conns := h.conns
		h.conns = nil
		h.connsMu.Unlock()
		for conn := range conns {
			_ = conn.Close()
		}
		if err := h.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		h.wg.Wait()
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}

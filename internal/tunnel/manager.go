package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/core"
	"pkt.systems/tunnelchat/internal/logx"
	"pkt.systems/tunnelchat/schema"
)

// Manager owns the single SSH forward described by its Spec.
type Manager struct {
	spec  Spec
	log   pslog.Logger
	probe *http.Client

	mu     chan struct{}
	active *Handle
}

// NewManager validates spec and returns a Manager. No connection is made.
func NewManager(spec Spec, logger pslog.Logger) (*Manager, error) {
	normalized, err := spec.normalized()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	logger = logx.WithTunnel(logger, normalized.SSHAddr(), normalized.LocalAddr(), normalized.RemoteAddr())
	m := &Manager{
		spec:  normalized,
		log:   logger,
		probe: &http.Client{},
		mu:    make(chan struct{}, 1),
	}
	return m, nil
}

// Spec returns the normalized spec.
func (m *Manager) Spec() Spec {
	return m.spec
}

func (m *Manager) lock(ctx context.Context) error {
	select {
	case m.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) unlock() {
	<-m.mu
}

// Open dials the SSH server, authenticates and starts forwarding the local
// port. On failure every partially built resource is released.
func (m *Manager) Open(ctx context.Context) (core.TunnelHandle, error) {
	if err := m.lock(ctx); err != nil {
		return nil, connectError("open", m.spec.SSHAddr(), err)
	}
	defer m.unlock()
	if m.active != nil {
		return nil, schema.ErrTunnelActive
	}

	log := m.log
	log.Info("tunnel open start")
	sshAddr := m.spec.SSHAddr()

	hostKeys, err := hostKeyCallback(m.spec)
	if err != nil {
		log.Warn("tunnel open failed", "op", "host_key", "err", err)
		return nil, &schema.ConnectError{Reason: schema.ConnectAuthFailure, Op: "host_key", Addr: sshAddr, Err: err}
	}
	methods, release, err := authMethods(m.spec.Auth)
	if err != nil {
		log.Warn("tunnel open failed", "op", "auth", "err", err)
		return nil, &schema.ConnectError{Reason: schema.ConnectAuthFailure, Op: "auth", Addr: sshAddr, Err: err}
	}
	defer release()

	client, err := m.dial(ctx, sshAddr, &ssh.ClientConfig{
		User:            m.spec.User,
		Auth:            methods,
		HostKeyCallback: hostKeys,
		Timeout:         m.spec.DialTimeout,
	})
	if err != nil {
		log.Warn("tunnel open failed", "op", "ssh", "err", err)
		return nil, err
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", m.spec.LocalAddr())
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			log.Debug("tunnel open cleanup failed", "err", closeErr)
		}
		log.Warn("tunnel open failed", "op", "listen", "err", err)
		return nil, &schema.ConnectError{Reason: schema.ConnectNetworkUnreachable, Op: "listen", Addr: m.spec.LocalAddr(), Err: err}
	}

	handle := &Handle{
		client:     client,
		listener:   listener,
		baseURL:    fmt.Sprintf("http://%s%s", listener.Addr().String(), m.spec.APIPath),
		remoteAddr: m.spec.RemoteAddr(),
		log:        log.With("bound", listener.Addr().String()),
		conns:      make(map[net.Conn]struct{}),
	}
	handle.start(m.spec.KeepaliveInterval)
	m.active = handle
	log.Info("tunnel open ok", "base_url", handle.baseURL)
	return handle, nil
}

// dial establishes the TCP connection and SSH handshake, honouring both ctx
// and the dial timeout.
func (m *Manager) dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.spec.DialTimeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, connectError("dial", addr, err)
	}
	stop := context.AfterFunc(dialCtx, func() {
		_ = conn.Close()
	})
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if !stop() {
		if clientConn != nil {
			_ = clientConn.Close()
		}
		_ = conn.Close()
		cause := dialCtx.Err()
		if err != nil {
			cause = errors.Join(cause, err)
		}
		return nil, connectError("handshake", addr, cause)
	}
	if err != nil {
		_ = conn.Close()
		return nil, connectError("handshake", addr, err)
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

// Verify probes the forwarded endpoint. It does not change the handle.
func (m *Manager) Verify(ctx context.Context, handle core.TunnelHandle) error {
	h, ok := handle.(*Handle)
	if !ok || h == nil {
		return &schema.VerifyError{Err: schema.ErrInvalidHandle}
	}
	if h.closed.Load() {
		return &schema.VerifyError{URL: h.baseURL + ProbePath, Err: schema.ErrTunnelClosed}
	}
	return probe(ctx, m.probe, m.log, h.baseURL)
}

// Close releases the handle. It is idempotent and accepts nil.
func (m *Manager) Close(handle core.TunnelHandle) {
	h, _ := handle.(*Handle)
	if h == nil {
		return
	}
	m.mu <- struct{}{}
	if m.active == h {
		m.active = nil
	}
	<-m.mu
	if h.closed.Load() {
		return
	}
	if err := h.close(); err != nil {
		m.log.Warn("tunnel close failed", "err", err)
		return
	}
	m.log.Info("tunnel closed", "forwarded", h.Forwarded())
}

// Active returns the live handle, or nil.
func (m *Manager) Active() *Handle {
	m.mu <- struct{}{}
	defer func() { <-m.mu }()
	return m.active
}

package tunnel

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"pkt.systems/tunnelchat/internal/mockapi"
)

const (
	testUser     = "tester"
	testPassword = "s3cret"
)

type testEnv struct {
	api  *httptest.Server
	jump *mockapi.JumpHost
}

func newTestEnv(t *testing.T, jump *mockapi.JumpHost, api http.Handler) *testEnv {
	t.Helper()
	if api == nil {
		api = mockapi.NewHandler(mockapi.Options{})
	}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	if jump == nil {
		jump = &mockapi.JumpHost{User: testUser, Password: testPassword}
	}
	if err := jump.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start jump host: %v", err)
	}
	t.Cleanup(func() { _ = jump.Close() })
	return &testEnv{api: srv, jump: jump}
}

func (e *testEnv) spec(t *testing.T) Spec {
	t.Helper()
	sshHost, sshPort := splitHostPort(t, e.jump.Addr())
	apiHost, apiPort := splitHostPort(t, e.api.Listener.Addr().String())
	return Spec{
		SSHHost:            sshHost,
		SSHPort:            sshPort,
		User:               testUser,
		Auth:               Auth{Password: testPassword},
		HostKeyFingerprint: e.jump.Fingerprint(),
		LocalHost:          "127.0.0.1",
		LocalPort:          0,
		RemoteHost:         apiHost,
		RemotePort:         apiPort,
	}
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}
	return host, port
}

func newTestManager(t *testing.T, spec Spec) *Manager {
	t.Helper()
	m, err := NewManager(spec, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func knownHostsLine(addr string, key ssh.PublicKey) string {
	return knownhosts.Line([]string{knownhosts.Normalize(addr)}, key)
}

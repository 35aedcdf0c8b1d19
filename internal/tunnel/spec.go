package tunnel

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultDialTimeout bounds the TCP dial and SSH handshake.
	DefaultDialTimeout = 15 * time.Second
	// DefaultAPIPath is the API root on the forwarded endpoint.
	DefaultAPIPath = "/v1"
	// ProbePath is requested under the API root to verify the endpoint.
	ProbePath = "/models"
)

// Auth lists the credentials offered to the SSH server, in the order they are tried.
type Auth struct {
	UseAgent       bool
	AgentSocket    string
	PrivateKeyPath string
	PrivateKey     []byte
	Passphrase     string
	Password       string
	// TOTPSecret answers keyboard-interactive verification code prompts.
	TOTPSecret string
}

// Spec describes one forwarded connection. It is immutable once handed to a Manager.
type Spec struct {
	SSHHost string
	SSHPort int
	User    string
	Auth    Auth

	KnownHostsPath        string
	HostKeyFingerprint    string
	InsecureIgnoreHostKey bool

	LocalHost  string
	LocalPort  int
	RemoteHost string
	RemotePort int

	DialTimeout       time.Duration
	KeepaliveInterval time.Duration
	APIPath           string
}

// SSHAddr returns the SSH endpoint address.
func (s Spec) SSHAddr() string {
	return net.JoinHostPort(s.SSHHost, strconv.Itoa(s.SSHPort))
}

// LocalAddr returns the local bind address.
func (s Spec) LocalAddr() string {
	return net.JoinHostPort(s.LocalHost, strconv.Itoa(s.LocalPort))
}

// RemoteAddr returns the forward target as seen from the SSH server.
func (s Spec) RemoteAddr() string {
	return net.JoinHostPort(s.RemoteHost, strconv.Itoa(s.RemotePort))
}

func (s Spec) normalized() (Spec, error) {
	s.SSHHost = strings.TrimSpace(s.SSHHost)
	s.User = strings.TrimSpace(s.User)
	s.RemoteHost = strings.TrimSpace(s.RemoteHost)
	s.LocalHost = strings.TrimSpace(s.LocalHost)
	if s.SSHHost == "" {
		return Spec{}, errors.New("ssh host is required")
	}
	if s.User == "" {
		return Spec{}, errors.New("ssh user is required")
	}
	if s.SSHPort == 0 {
		s.SSHPort = 22
	}
	if s.LocalHost == "" {
		s.LocalHost = "127.0.0.1"
	}
	if s.RemoteHost == "" {
		s.RemoteHost = "localhost"
	}
	for name, port := range map[string]int{"ssh": s.SSHPort, "remote": s.RemotePort} {
		if port <= 0 || port > 65535 {
			return Spec{}, fmt.Errorf("%s port %d out of range", name, port)
		}
	}
	if s.LocalPort < 0 || s.LocalPort > 65535 {
		return Spec{}, fmt.Errorf("local port %d out of range", s.LocalPort)
	}
	if s.DialTimeout <= 0 {
		s.DialTimeout = DefaultDialTimeout
	}
	if s.KeepaliveInterval < 0 {
		s.KeepaliveInterval = 0
	}
	s.APIPath = "/" + strings.Trim(strings.TrimSpace(s.APIPath), "/")
	if s.APIPath == "/" {
		s.APIPath = DefaultAPIPath
	}
	return s, nil
}

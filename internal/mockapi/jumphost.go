package mockapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	gliderssh "github.com/gliderlabs/ssh"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
)

// JumpHost is an SSH server that only permits local port forwarding. It
// stands in for the far-side host in development and tests.
type JumpHost struct {
	User           string
	Password       string
	AuthorizedKeys []ssh.PublicKey
	// TOTPSecret, when set, requires a keyboard-interactive verification code.
	TOTPSecret  string
	HostKeyPath string
	Logger      pslog.Logger

	mu       sync.Mutex
	server   *gliderssh.Server
	listener net.Listener
	signer   ssh.Signer
	done     chan error
}

type jumpContextKey string

const passwordOK jumpContextKey = "password-ok"

// Start listens on addr and serves in the background.
func (j *JumpHost) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if err := j.serve(ln); err != nil {
		_ = ln.Close()
		return err
	}
	return nil
}

// Run serves on addr until ctx is cancelled.
func (j *JumpHost) Run(ctx context.Context, addr string) error {
	if err := j.Start(addr); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return j.Close()
	case err := <-j.done:
		if errors.Is(err, gliderssh.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (j *JumpHost) serve(ln net.Listener) error {
	log := j.Logger
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	signer, err := HostKey(j.HostKeyPath, log)
	if err != nil {
		return err
	}
	server := &gliderssh.Server{
		Handler: func(sess gliderssh.Session) {
			_, _ = io.WriteString(sess, "port forwarding only\n")
		},
		LocalPortForwardingCallback: func(ctx gliderssh.Context, host string, port uint32) bool {
			log.Debug("jump forward accepted", "user", ctx.User(), "target_host", host, "target_port", port)
			return true
		},
		ChannelHandlers: map[string]gliderssh.ChannelHandler{
			"session":      gliderssh.DefaultSessionHandler,
			"direct-tcpip": gliderssh.DirectTCPIPHandler,
		},
	}
	if j.Password != "" {
		server.PasswordHandler = func(ctx gliderssh.Context, password string) bool {
			if !j.userOK(ctx) || subtle.ConstantTimeCompare([]byte(password), []byte(j.Password)) != 1 {
				log.Warn("jump password rejected", "user", ctx.User())
				return false
			}
			if j.TOTPSecret != "" {
				ctx.SetValue(passwordOK, true)
				return false
			}
			log.Info("jump password accepted", "user", ctx.User())
			return true
		}
	}
	if len(j.AuthorizedKeys) > 0 {
		server.PublicKeyHandler = func(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
			if !j.userOK(ctx) {
				return false
			}
			for _, allowed := range j.AuthorizedKeys {
				if gliderssh.KeysEqual(key, allowed) {
					log.Info("jump pubkey accepted", "user", ctx.User(), "fingerprint", ssh.FingerprintSHA256(key))
					return true
				}
			}
			return false
		}
	}
	if j.TOTPSecret != "" {
		server.KeyboardInteractiveHandler = func(ctx gliderssh.Context, challenger ssh.KeyboardInteractiveChallenge) bool {
			if ctx.Value(passwordOK) != true && j.Password != "" {
				return false
			}
			answers, err := challenger(ctx.User(), "", []string{"Verification code: "}, []bool{false})
			if err != nil || len(answers) != 1 {
				log.Warn("jump totp rejected", "reason", "challenge failed", "err", err)
				return false
			}
			if !totp.Validate(strings.TrimSpace(answers[0]), j.TOTPSecret) {
				log.Warn("jump totp rejected", "reason", "invalid code")
				return false
			}
			log.Info("jump totp accepted", "user", ctx.User())
			return true
		}
	}
	server.AddHostKey(signer)

	j.mu.Lock()
	j.server = server
	j.listener = ln
	j.signer = signer
	j.done = make(chan error, 1)
	j.mu.Unlock()

	go func() {
		j.done <- server.Serve(ln)
	}()
	log.Info("jump host listening", "addr", ln.Addr().String(), "fingerprint", ssh.FingerprintSHA256(signer.PublicKey()))
	return nil
}

func (j *JumpHost) userOK(ctx gliderssh.Context) bool {
	return j.User == "" || ctx.User() == j.User
}

// Addr returns the listening address.
func (j *JumpHost) Addr() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.listener == nil {
		return ""
	}
	return j.listener.Addr().String()
}

// Fingerprint returns the SHA256 fingerprint of the host key.
func (j *JumpHost) Fingerprint() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.signer == nil {
		return ""
	}
	return ssh.FingerprintSHA256(j.signer.PublicKey())
}

// PublicKey returns the host public key.
func (j *JumpHost) PublicKey() ssh.PublicKey {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.signer == nil {
		return nil
	}
	return j.signer.PublicKey()
}

// Close stops the server and drops open connections.
func (j *JumpHost) Close() error {
	j.mu.Lock()
	server := j.server
	j.mu.Unlock()
	if server == nil {
		return nil
	}
	if err := server.Close(); err != nil && !errors.Is(err, gliderssh.ErrServerClosed) {
		return err
	}
	return nil
}

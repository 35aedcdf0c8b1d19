package mockapi

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/internal/persist"
)

// HostKey returns the jump host key. A key stored at path is reused; a missing
// one is generated and saved there. An empty path gives a key that lives only
// as long as the process. The fingerprint is logged so clients can pin it
// with ssh.host_key_fingerprint.
func HostKey(path string, logger pslog.Logger) (ssh.Signer, error) {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	path = strings.TrimSpace(path)
	signer, origin, err := hostKey(path, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("mock host key ready", "origin", origin, "path", path, "fingerprint", ssh.FingerprintSHA256(signer.PublicKey()))
	return signer, nil
}

func hostKey(path string, logger pslog.Logger) (ssh.Signer, string, error) {
	if path == "" {
		signer, _, err := newHostKey()
		return signer, "ephemeral", err
	}
	data, err := os.ReadFile(path)
	if err == nil {
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, "", fmt.Errorf("parse host key %s: %w", path, err)
		}
		return signer, "loaded", nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("read host key: %w", err)
	}
	signer, encoded, err := newHostKey()
	if err != nil {
		return nil, "", err
	}
	if err := persist.WriteFile(path, encoded, 0o600, logger); err != nil {
		return nil, "", fmt.Errorf("save host key: %w", err)
	}
	return signer, "generated", nil
}

// newHostKey returns an ed25519 signer and its OpenSSH PEM encoding.
func newHostKey() (ssh.Signer, []byte, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, nil, err
	}
	block, err := ssh.MarshalPrivateKey(priv, "tunnelchat-mock")
	if err != nil {
		return nil, nil, fmt.Errorf("marshal host key: %w", err)
	}
	return signer, pem.EncodeToMemory(block), nil
}

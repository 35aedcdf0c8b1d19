package tunnel

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// authMethods builds the client auth chain. The returned release func closes
// the agent connection, if any, and must be called once the handshake is over.
func authMethods(auth Auth) ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	release := func() {}

	if auth.UseAgent {
		socket := strings.TrimSpace(auth.AgentSocket)
		if socket == "" {
			socket = os.Getenv("SSH_AUTH_SOCK")
		}
		if socket == "" {
			return nil, release, errors.New("ssh agent requested but SSH_AUTH_SOCK is not set")
		}
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return nil, release, fmt.Errorf("connect ssh agent: %w", err)
		}
		release = func() { _ = conn.Close() }
		methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
	}

	if signer, err := loadSigner(auth); err != nil {
		release()
		return nil, func() {}, err
	} else if signer != nil {
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if auth.Password != "" {
		methods = append(methods, ssh.Password(auth.Password))
	}
	if auth.Password != "" || auth.TOTPSecret != "" {
		methods = append(methods, ssh.KeyboardInteractive(keyboardInteractive(auth)))
	}
	if len(methods) == 0 {
		release()
		return nil, func() {}, errors.New("no ssh credentials configured")
	}
	return methods, release, nil
}

func loadSigner(auth Auth) (ssh.Signer, error) {
	data := auth.PrivateKey
	if len(data) == 0 && strings.TrimSpace(auth.PrivateKeyPath) != "" {
		read, err := os.ReadFile(auth.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		data = read
	}
	if len(data) == 0 {
		return nil, nil
	}
	if auth.Passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(data, []byte(auth.Passphrase))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, errors.New("private key is encrypted and no passphrase is configured")
		}
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// keyboardInteractive answers verification code prompts with a TOTP code and
// any other prompt with the password.
func keyboardInteractive(auth Auth) ssh.KeyboardInteractiveChallenge {
	return func(_ string, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i, question := range questions {
			lower := strings.ToLower(question)
			if auth.TOTPSecret != "" && (strings.Contains(lower, "code") || strings.Contains(lower, "otp") || strings.Contains(lower, "token")) {
				code, err := totp.GenerateCode(auth.TOTPSecret, time.Now())
				if err != nil {
					return nil, fmt.Errorf("generate totp code: %w", err)
				}
				answers[i] = code
				continue
			}
			answers[i] = auth.Password
		}
		return answers, nil
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/internal/mockapi"
	"pkt.systems/tunnelchat/schema"
)

type mockServerFlags struct {
	addr           string
	scenario       string
	models         []string
	delay          time.Duration
	sshAddr        string
	sshUser        string
	sshPassword    string
	totpSecret     string
	hostKeyPath    string
	authorizedKeys string
}

func newMockServerCmd() *cobra.Command {
	var flags mockServerFlags
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve a mock chat API, optionally behind an SSH jump host",
		Long: "Serves an OpenAI-compatible mock under /v1. Scenarios: " + strings.Join(mockapi.ScenarioNames(), ", ") +
			". A prompt containing #scenario:<name> selects a scenario per request.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMockServer(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", "127.0.0.1:11434", "HTTP listen address for the mock API")
	cmd.Flags().StringVar(&flags.scenario, "scenario", "", "force one scenario for every request")
	cmd.Flags().StringSliceVar(&flags.models, "model", nil, "served model ids (repeatable)")
	cmd.Flags().DurationVar(&flags.delay, "delay", 20*time.Millisecond, "pause between streamed chunks")
	cmd.Flags().StringVar(&flags.sshAddr, "ssh-addr", "", "also run an SSH jump host on this address")
	cmd.Flags().StringVar(&flags.sshUser, "ssh-user", "tunnel", "jump host user")
	cmd.Flags().StringVar(&flags.sshPassword, "ssh-password", "", "jump host password")
	cmd.Flags().StringVar(&flags.totpSecret, "totp-secret", "", "require a TOTP code after password or key auth")
	cmd.Flags().StringVar(&flags.hostKeyPath, "host-key", "", "jump host key path (ephemeral when empty)")
	cmd.Flags().StringVar(&flags.authorizedKeys, "authorized-keys", "", "authorized_keys file for public key auth")
	return cmd
}

func runMockServer(ctx context.Context, flags mockServerFlags) error {
	logger := pslog.Ctx(ctx)
	if flags.scenario != "" {
		if _, ok := mockapi.Scenarios()[flags.scenario]; !ok {
			return fmt.Errorf("unknown scenario %q (known: %s)", flags.scenario, strings.Join(mockapi.ScenarioNames(), ", "))
		}
	}
	models := make([]schema.ModelID, 0, len(flags.models))
	for _, id := range flags.models {
		models = append(models, schema.ModelID(id))
	}

	srv := &http.Server{
		Addr: flags.addr,
		Handler: mockapi.NewHandler(mockapi.Options{
			Models:   models,
			Scenario: flags.scenario,
			Delay:    flags.delay,
			Logger:   logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("mock api listening", "addr", flags.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if flags.sshAddr != "" {
		keys, err := readAuthorizedKeys(flags.authorizedKeys)
		if err != nil {
			return err
		}
		jump := &mockapi.JumpHost{
			User:           flags.sshUser,
			Password:       flags.sshPassword,
			AuthorizedKeys: keys,
			TOTPSecret:     flags.totpSecret,
			HostKeyPath:    flags.hostKeyPath,
			Logger:         logger,
		}
		g.Go(func() error {
			return jump.Run(gctx, flags.sshAddr)
		})
	}
	return g.Wait()
}

func readAuthorizedKeys(path string) ([]ssh.PublicKey, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read authorized keys: %w", err)
	}
	var keys []ssh.PublicKey
	for len(data) > 0 {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(data)
		if err != nil {
			if len(keys) == 0 {
				return nil, fmt.Errorf("parse authorized keys %s: %w", path, err)
			}
			break
		}
		keys = append(keys, key)
		data = rest
	}
	return keys, nil
}

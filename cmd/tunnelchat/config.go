package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/internal/appconfig"
	"pkt.systems/tunnelchat/internal/console"
)

// configFlags are shared by every command that reaches the endpoint.
type configFlags struct {
	path       string
	model      string
	baseURL    string
	askPass    bool
	insecure   bool
	localPort  int
	transcript string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "config", "c", "", "config file (yaml, or legacy config.txt)")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "model id (overrides chat.model)")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "talk to this API root directly instead of tunnelling")
	cmd.Flags().BoolVar(&f.askPass, "ask-password", false, "prompt for the SSH password")
	cmd.Flags().BoolVar(&f.insecure, "insecure-ignore-host-key", false, "skip SSH host key verification")
	cmd.Flags().IntVar(&f.localPort, "local-port", -1, "local forward port (0 picks a free port)")
	cmd.Flags().StringVar(&f.transcript, "transcript", "", "append the conversation to this markdown file")
}

// load reads the config, applies flag overrides and resolves prompted secrets.
func (f *configFlags) load(cmd *cobra.Command) (appconfig.Config, error) {
	logger := pslog.Ctx(cmd.Context())
	cfg, err := appconfig.Load(f.path)
	if err != nil {
		return appconfig.Config{}, err
	}
	if f.model != "" {
		cfg.Chat.Model = f.model
	}
	if f.baseURL != "" {
		cfg.Chat.BaseURL = f.baseURL
	}
	if f.askPass {
		cfg.SSH.AskPassword = true
	}
	if f.insecure {
		cfg.SSH.InsecureIgnoreHostKey = true
	}
	if f.localPort >= 0 {
		cfg.Forward.LocalPort = f.localPort
	}
	if f.transcript != "" {
		cfg.Transcript.Enabled = true
		cfg.Transcript.Path = f.transcript
	}
	if err := appconfig.Validate(cfg); err != nil {
		return appconfig.Config{}, err
	}
	if !cfg.Direct() && cfg.SSH.AskPassword && cfg.SSH.Password == "" {
		prompt := fmt.Sprintf("%s@%s's password: ", cfg.SSH.User, cfg.SSH.Host)
		secret, err := console.ReadSecret(os.Stdin, cmd.ErrOrStderr(), prompt)
		if err != nil {
			return appconfig.Config{}, fmt.Errorf("read password: %w", err)
		}
		cfg.SSH.Password = secret
	}
	logger.Debug("config loaded", "path", f.path, "model", cfg.Chat.Model, "direct", cfg.Direct())
	return cfg, nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the tunnelchat configuration",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var path string
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			written, err := appconfig.WriteDefault(path, overwrite)
			if err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("config wrote", "path", written)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), written)
			return err
		},
	}
	cmd.Flags().StringVarP(&path, "output", "o", "", "config path (default ~/.tunnelchat/config.yaml)")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing config")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the default config path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := appconfig.DefaultConfigPath()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

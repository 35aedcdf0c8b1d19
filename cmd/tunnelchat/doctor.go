package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat"
	"pkt.systems/tunnelchat/internal/chatstream"
	"pkt.systems/tunnelchat/schema"
)

func newDoctorCmd() *cobra.Command {
	var flags configFlags
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Open the tunnel, probe the endpoint and list models",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			out := cmd.OutOrStdout()
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			cfg.Transcript.Enabled = false
			if cfg.Direct() {
				fmt.Fprintf(out, "endpoint  %s (direct)\n", cfg.Chat.BaseURL)
			} else {
				spec := tunnelchat.TunnelSpec(cfg)
				fmt.Fprintf(out, "ssh       %s@%s\n", spec.User, spec.SSHAddr())
				fmt.Fprintf(out, "forward   %s -> %s\n", spec.LocalAddr(), spec.RemoteAddr())
			}
			logger.Info("doctor start", "config", flags.path, "model", cfg.Chat.Model)

			client, err := tunnelchat.New(cfg, tunnelchat.Deps{Logger: logger})
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			started := time.Now()
			if err := client.Start(ctx); err != nil {
				fmt.Fprintf(out, "tunnel    FAIL %v\n", err)
				return err
			}
			fmt.Fprintf(out, "tunnel    ok %s (%s)\n", client.Session().Handle().BaseURL(), time.Since(started).Round(time.Millisecond))

			api, err := client.API()
			if err != nil {
				return err
			}
			return checkModel(ctx, api, schema.ModelID(cfg.Chat.Model), out)
		},
	}
	flags.register(cmd)
	return cmd
}

func checkModel(ctx context.Context, api *chatstream.Client, want schema.ModelID, out io.Writer) error {
	models, err := api.ListModels(ctx)
	if err != nil {
		fmt.Fprintf(out, "models    FAIL %v\n", err)
		return err
	}
	found := false
	for _, model := range models {
		fmt.Fprintf(out, "model     %s\n", model.ID)
		if model.ID == want {
			found = true
		}
	}
	if !found {
		fmt.Fprintf(out, "config    WARN model %s is not served\n", want)
		return nil
	}
	fmt.Fprintf(out, "config    ok model %s is served\n", want)
	return nil
}

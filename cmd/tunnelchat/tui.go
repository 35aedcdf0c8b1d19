package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat"
	"pkt.systems/tunnelchat/internal/eventbus"
	"pkt.systems/tunnelchat/internal/tui"
)

func newTUICmd() *cobra.Command {
	var flags configFlags
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Start a full-screen chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			client, err := tunnelchat.New(cfg, tunnelchat.Deps{Logger: logger})
			if err != nil {
				return err
			}
			defer func() {
				if err := client.Close(); err != nil {
					logger.Warn("tui close failed", "err", err)
				}
			}()

			session := client.Session()
			bus := eventbus.New(logger)
			events, unsubscribe := bus.Subscribe(session.ID())
			defer unsubscribe()
			client.Multiplexer().Register("tui", bus.Sink(session.ID()))

			logger.Info("tui tunnel open start")
			if err := client.Start(ctx); err != nil {
				return err
			}
			err = tui.Run(ctx, session, events, tui.Options{ShowThinking: cfg.Chat.ShowThinking})
			// Release a turn blocked on a full subscriber before the session closes.
			unsubscribe()
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

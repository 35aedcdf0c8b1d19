package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat"
	"pkt.systems/tunnelchat/core"
	"pkt.systems/tunnelchat/internal/console"
)

func newChatCmd() *cobra.Command {
	var flags configFlags
	var system string
	var noThinking bool
	var showModels bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session on the console",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if system != "" {
				cfg.Chat.SystemPrompt = system
			}
			if noThinking {
				cfg.Chat.ShowThinking = false
			}
			client, err := tunnelchat.New(cfg, tunnelchat.Deps{Logger: logger, Console: cmd.OutOrStdout()})
			if err != nil {
				return err
			}
			if showModels {
				if err := client.Start(ctx); err != nil {
					_ = client.Close()
					return err
				}
				if err := printModels(ctx, client, cmd.OutOrStdout()); err != nil {
					logger.Warn("chat model listing failed", "err", err)
				}
			}
			input, closeInput := chatInput(cfg.Chat.HistoryFile, logger)
			defer func() {
				if err := closeInput(); err != nil {
					logger.Debug("chat input close failed", "err", err)
				}
			}()
			return client.Run(ctx, input)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&system, "system", "", "system prompt sent ahead of the conversation")
	cmd.Flags().BoolVar(&noThinking, "no-thinking", false, "hide reasoning segments on the console")
	cmd.Flags().BoolVar(&showModels, "show-models", false, "list the served models after connecting")
	return cmd
}

// chatInput uses a line editor on a terminal and plain line reads otherwise.
func chatInput(historyPath string, logger pslog.Logger) (core.InputSource, func() error) {
	if console.IsTerminal(os.Stdin) {
		in := console.NewLineInput(console.DefaultPrompt, historyPath, logger)
		return in, in.Close
	}
	return console.NewReaderInput(os.Stdin), func() error { return nil }
}

func printModels(ctx context.Context, client *tunnelchat.Client, out io.Writer) error {
	api, err := client.API()
	if err != nil {
		return err
	}
	models, err := api.ListModels(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Supported models:")
	for _, model := range models {
		fmt.Fprintf(out, "  %s\n", model.ID)
	}
	return nil
}

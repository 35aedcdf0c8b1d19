package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/tunnelchat/internal/chatstream"
	"pkt.systems/tunnelchat/schema"
)

func newCompleteCmd() *cobra.Command {
	var flags configFlags
	var chat bool
	cmd := &cobra.Command{
		Use:   "complete [prompt|-]",
		Short: "Run one non-streaming completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := resolvePrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return withAPI(cmd, &flags, func(ctx context.Context, api *chatstream.Client) error {
				var text string
				var err error
				if chat {
					text, err = api.ChatOnce(ctx, []schema.Message{{Role: schema.RoleUser, Content: prompt}})
				} else {
					text, err = api.Complete(ctx, prompt)
				}
				if err != nil {
					return err
				}
				if !strings.HasSuffix(text, "\n") {
					text += "\n"
				}
				_, err = io.WriteString(out, text)
				return err
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&chat, "chat", false, "use the chat endpoint instead of text completion")
	return cmd
}

// resolvePrompt joins args, or reads stdin when the only arg is "-" or none is given.
func resolvePrompt(args []string, stdin io.Reader) (string, error) {
	prompt := joinArgs(args)
	if prompt == "" || prompt == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return "", errors.New("prompt is required")
	}
	return prompt, nil
}

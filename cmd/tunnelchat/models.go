package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat"
	"pkt.systems/tunnelchat/internal/chatstream"
	"pkt.systems/tunnelchat/schema"
)

// withAPI opens and verifies the tunnel, runs fn against it and releases it.
func withAPI(cmd *cobra.Command, flags *configFlags, fn func(ctx context.Context, api *chatstream.Client) error) error {
	ctx := cmd.Context()
	logger := pslog.Ctx(ctx)
	cfg, err := flags.load(cmd)
	if err != nil {
		return err
	}
	cfg.Transcript.Enabled = false
	client, err := tunnelchat.New(cfg, tunnelchat.Deps{Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	if err := client.Start(ctx); err != nil {
		return err
	}
	api, err := client.API()
	if err != nil {
		return err
	}
	return fn(ctx, api)
}

func newModelsCmd() *cobra.Command {
	var flags configFlags
	var id string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models served by the endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return withAPI(cmd, &flags, func(ctx context.Context, api *chatstream.Client) error {
				var value any
				if id != "" {
					model, err := api.GetModel(ctx, schema.ModelID(id))
					if err != nil {
						return err
					}
					if !asJSON {
						_, err = fmt.Fprintf(out, "%s\towned_by=%s\tcreated=%d\n", model.ID, model.OwnedBy, model.Created)
						return err
					}
					value = model
				} else {
					models, err := api.ListModels(ctx)
					if err != nil {
						return err
					}
					if !asJSON {
						for _, model := range models {
							if _, err := fmt.Fprintln(out, model.ID); err != nil {
								return err
							}
						}
						return nil
					}
					value = models
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(value)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "show a single model")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

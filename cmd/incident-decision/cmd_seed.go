package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/incidentgraph/internal/app"
)

var seedFlags struct {
	file string
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load historical incident playbooks into the evidence store",
	Long:  "Embeds each playbook issue with the configured embedder and stores it.\nWithout --file the built-in playbooks are loaded.",
	Args:  cobra.NoArgs,
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFlags.file, "file", "f", "", "YAML playbook file")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	playbooks := app.DefaultPlaybooks()
	if seedFlags.file != "" {
		var err error
		if playbooks, err = app.LoadPlaybooks(seedFlags.file); err != nil {
			return err
		}
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		n, err := app.Seed(ctx, a.Store, a.Embedder, playbooks)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d playbooks (%s, %d dimensions)\n", n, a.Embedder.Model(), a.Embedder.Dimensions())
		return nil
	})
}

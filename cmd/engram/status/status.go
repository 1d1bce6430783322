// Package statuscmder provides the status command for displaying the
// contents of the memory store.
package statuscmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramlabs/engram/pkg/cliui"
	"github.com/engramlabs/engram/pkg/config"
	"github.com/engramlabs/engram/pkg/engine"
	"github.com/engramlabs/engram/pkg/logger"
)

const statusLongDesc string = `Show the contents of the memory store.

Displays per-tier counts: conversations, messages, summaries, indexed
records, journals, observations, and self-model nodes and edges.

Examples:
  engram status`

const statusShortDesc string = "Show memory store contents"

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: statusShortDesc,
		Long:  statusLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runStatus(debug, configDir)
		},
	}

	return cmd
}

func runStatus(debug bool, configDir string) error {
	log := logger.NewLogger(debug)
	defer log.Sync()

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg, err := cfger.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	eng, err := engine.New(cfg, configDir, log)
	if err != nil {
		return fmt.Errorf("opening memory store: %w", err)
	}
	defer eng.Close()

	stats, err := eng.Storage.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("reading store stats: %w", err)
	}

	fmt.Printf("\n  %s\n\n", cliui.SectionStyle.Render("Memory store"))

	rows := []struct {
		label string
		count int
	}{
		{"Conversations", stats.Conversations},
		{"Messages", stats.Messages},
		{"Summaries", stats.Summaries},
		{"Records", stats.Records},
		{"Journals", stats.Journals},
		{"Observations", stats.Observations},
		{"Self-model nodes", stats.Nodes},
		{"Self-model edges", stats.Edges},
	}

	for _, row := range rows {
		fmt.Printf("  %s %d\n",
			cliui.KeyStyle.Render(fmt.Sprintf("%-18s", row.label)),
			row.count,
		)
	}

	fmt.Println()
	return nil
}

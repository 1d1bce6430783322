// Package consolidatecmder provides the consolidate command for running a
// one-shot consolidation pass.
package consolidatecmder

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramlabs/engram/pkg/cliui"
	"github.com/engramlabs/engram/pkg/config"
	"github.com/engramlabs/engram/pkg/engine"
	"github.com/engramlabs/engram/pkg/logger"
)

type consolidateCommander struct {
	owner      string
	windowDays int
	debug      bool
	configDir  string
}

const consolidateLongDesc string = `Run a one-shot consolidation pass.

Repairs compaction gaps, writes daily journals for the window, and grounds
proposed self-model claims against stored records. Without --owner the pass
runs for every owner in the store.

Consolidation is idempotent: re-running the same window replaces journals
wholesale instead of duplicating them.

Examples:
  engram consolidate
  engram consolidate --owner user-1 --window 7`

const consolidateShortDesc string = "Run a one-shot consolidation pass"

func NewConsolidateCmd() *cobra.Command {
	cmder := &consolidateCommander{}

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: consolidateShortDesc,
		Long:  consolidateLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.owner, "owner", "o", "", "Consolidate a single owner (default: all)")
	cmd.Flags().IntVarP(&cmder.windowDays, "window", "w", 0, "Window size in days (default: from config)")

	return cmd
}

func (c *consolidateCommander) run() error {
	log := logger.NewLogger(c.debug)
	defer log.Sync()

	cfger, err := config.NewConfiger(c.configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg, err := cfger.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if c.windowDays > 0 {
		cfg.Consolidation.WindowDays = c.windowDays
	}

	eng, err := engine.New(cfg, c.configDir, log)
	if err != nil {
		return fmt.Errorf("opening memory store: %w", err)
	}
	defer eng.Close()

	ctx := context.Background()

	owners := []string{c.owner}
	if c.owner == "" {
		owners, err = eng.Storage.Owners(ctx)
		if err != nil {
			return fmt.Errorf("listing owners: %w", err)
		}
		if len(owners) == 0 {
			fmt.Printf("  %s Nothing to consolidate.\n", cliui.DimStyle.Render("●"))
			return nil
		}
	}

	for _, owner := range owners {
		start := time.Now()
		if err := eng.Runner.Run(ctx, owner); err != nil {
			fmt.Printf("  %s %s: %v\n", cliui.FailMark, owner, err)
			continue
		}
		fmt.Printf("  %s %s (%s)\n",
			cliui.SuccessMark,
			cliui.KeyStyle.Render(owner),
			cliui.DimStyle.Render(time.Since(start).Round(time.Millisecond).String()),
		)
	}

	return nil
}

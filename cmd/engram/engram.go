// Package engramcmder
package engramcmder

import (
	"github.com/spf13/cobra"

	auditcmder "github.com/engramlabs/engram/cmd/engram/audit"
	configcmder "github.com/engramlabs/engram/cmd/engram/config"
	consolidatecmder "github.com/engramlabs/engram/cmd/engram/consolidate"
	initcmder "github.com/engramlabs/engram/cmd/engram/init"
	statuscmder "github.com/engramlabs/engram/cmd/engram/status"
	versioncmder "github.com/engramlabs/engram/cmd/version"
)

const engramLongDesc string = `Engram is long-horizon memory for conversational agents.

It keeps each conversation's hot context under a token budget by compacting
old spans into summaries, indexes summaries, journals and observations for
owner-scoped semantic retrieval, and maintains a typed self-model graph with
evidence grounding.

Common commands:
  engram status         Show store contents
  engram consolidate    Run a one-shot consolidation pass
  engram audit          Report self-model coherence`

const engramShortDesc string = "Engram - agent memory"

func NewEngramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engram",
		Short: engramShortDesc,
		Long:  engramLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .engram directory location")

	// Add subcommands
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(consolidatecmder.NewConsolidateCmd())
	cmd.AddCommand(auditcmder.NewAuditCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}

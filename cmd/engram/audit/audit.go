// Package auditcmder provides the audit command for reporting self-model
// coherence: which claims are evidenced, which are aspirational, and which
// pairs contradict.
package auditcmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramlabs/engram/pkg/cliui"
	"github.com/engramlabs/engram/pkg/config"
	"github.com/engramlabs/engram/pkg/engine"
	"github.com/engramlabs/engram/pkg/logger"
	"github.com/engramlabs/engram/pkg/memory"
)

const auditLongDesc string = `Report self-model coherence.

Separates grounded claims (backed by at least one evidence reference) from
aspirational ones, and lists node pairs in contradiction, whether linked by
an explicit contradicts edge or flagged by the content heuristic.

Examples:
  engram audit`

const auditShortDesc string = "Report self-model coherence"

func NewAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: auditShortDesc,
		Long:  auditLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runAudit(debug, configDir)
		},
	}

	return cmd
}

func runAudit(debug bool, configDir string) error {
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

	report, err := eng.Graph.Audit(context.Background())
	if err != nil {
		return fmt.Errorf("auditing self-model: %w", err)
	}

	fmt.Printf("\n  %s\n\n", cliui.SectionStyle.Render("Self-model audit"))

	fmt.Printf("  %s\n", cliui.KeyStyle.Render(fmt.Sprintf("Grounded (%d)", len(report.Grounded))))
	printNodes(report.Grounded)

	fmt.Printf("  %s\n", cliui.WarnStyle.Render(fmt.Sprintf("Aspirational (%d)", len(report.Aspirational))))
	printNodes(report.Aspirational)

	fmt.Printf("  %s %d\n\n", cliui.KeyStyle.Render("Superseded:"), report.Superseded)

	if len(report.Contradictions) == 0 {
		fmt.Printf("  %s No contradictions found.\n\n", cliui.SuccessMark)
		return nil
	}

	fmt.Printf("  %s\n", cliui.WarnStyle.Render(fmt.Sprintf("Contradictions (%d)", len(report.Contradictions))))
	for _, c := range report.Contradictions {
		fmt.Printf("    %s %s\n      %s %s\n      %s\n",
			cliui.FailMark,
			cliui.DimStyle.Render("("+c.Source+")"),
			cliui.ValueStyle.Render(cliui.Truncate(c.A.Content, 64)),
			cliui.DimStyle.Render("vs"),
			cliui.ValueStyle.Render(cliui.Truncate(c.B.Content, 64)),
		)
	}
	fmt.Println()

	return nil
}

func printNodes(nodes []*memory.Node) {
	for _, n := range nodes {
		fmt.Printf("    %s %s  %s\n",
			cliui.DimStyle.Render("["+string(n.Type)+"]"),
			cliui.ValueStyle.Render(cliui.Truncate(n.Content, 64)),
			cliui.DimStyle.Render(fmt.Sprintf("evidence: %d", len(n.EvidenceRefs))),
		)
	}
	fmt.Println()
}

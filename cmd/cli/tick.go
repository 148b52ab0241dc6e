package cli

import (
	"encoding/json"
	"fmt"

	"ticketflow/internal/automation"

	"github.com/spf13/cobra"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single automation pass and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		report := a.scheduler.Tick(cmd.Context())
		return printJSON(cmd, report)
	},
}

var (
	dryRunTicket string
	dryRunRules  string
)

var dryRunCmd = &cobra.Command{
	Use:   "dry-run",
	Short: "Evaluate rules against a ticket without executing actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if dryRunTicket == "" {
			return fmt.Errorf("--ticket is required")
		}
		var rules []automation.Rule
		if dryRunRules != "" {
			set, err := automation.LoadRuleSet(dryRunRules)
			if err != nil {
				return err
			}
			rules = set.Rules
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.automation.DryRun(cmd.Context(), dryRunTicket, rules)
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

func init() {
	dryRunCmd.Flags().StringVar(&dryRunTicket, "ticket", "", "ticket key, e.g. PRJ-123")
	dryRunCmd.Flags().StringVar(&dryRunRules, "rules", "", "rules file (.yaml, .json or .jsonc); defaults to the stored rules")
	rootCmd.AddCommand(tickCmd, dryRunCmd)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

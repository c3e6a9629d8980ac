package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func executionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "Inspect the rule execution audit trail",
	}
	cmd.AddCommand(executionsListCmd())
	return cmd
}

func executionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent rule executions for an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			accountID, _ := cmd.Flags().GetString("account")
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			executions, err := store.ListExecutions(cmd.Context(), accountID, limit)
			if err != nil {
				return fmt.Errorf("failed to list executions: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tMESSAGE\tRULE\tSTATUS\tITEMS\tREASON")
			for i := range executions {
				e := &executions[i]
				rule := "-"
				if e.HasRule() {
					rule = fmt.Sprintf("%d", e.RuleID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					e.CreatedAt.Format("2006-01-02 15:04"),
					e.MessageID, rule, e.Status, len(e.ActionItems), e.Reason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("account", "", "account ID (required)")
	cmd.Flags().Int("limit", 50, "maximum records to show")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

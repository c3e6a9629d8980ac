package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Veraticus/mailflow/internal/model"
)

func scheduledCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduled",
		Short: "Manage delayed actions",
	}
	cmd.AddCommand(scheduledListCmd())
	cmd.AddCommand(scheduledCancelCmd())
	cmd.AddCommand(scheduledRetryCmd())
	return cmd
}

func scheduledListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled actions for an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			accountID, _ := cmd.Flags().GetString("account")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			actions, err := store.ListScheduledActions(cmd.Context(), accountID,
				model.ScheduledActionStatus(status), limit)
			if err != nil {
				return fmt.Errorf("failed to list scheduled actions: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tEXECUTE_AT\tRETRIES\tERROR")
			for i := range actions {
				a := &actions[i]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					a.ID, a.Item.Type, a.Status,
					a.ExecuteAt.Format("2006-01-02 15:04"),
					a.RetryCount, a.LastError)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("account", "", "account ID (required)")
	cmd.Flags().String("status", string(model.ScheduledPending), "filter by status")
	cmd.Flags().Int("limit", 50, "maximum actions to show")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func scheduledCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending scheduled action",
		Long: `Cancel a scheduled action that has not yet been claimed by a sweep.
An action already being executed cannot be cancelled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.CancelScheduledAction(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to cancel scheduled action: %w", err)
			}
			fmt.Printf("Scheduled action %s cancelled\n", args[0])
			return nil
		},
	}
}

func scheduledRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a failed scheduled action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.RetryScheduledAction(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to retry scheduled action: %w", err)
			}
			fmt.Printf("Scheduled action %s requeued\n", args[0])
			return nil
		},
	}
}

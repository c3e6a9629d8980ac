package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process [message-id]",
		Short: "Run the rule pipeline against messages",
		Long: `Process a single message by ID, or poll the account for messages
matching a query and process each one.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runProcess,
	}

	cmd.Flags().String("account", "", "account ID (required)")
	cmd.Flags().String("query", "in:inbox", "provider query used when no message ID is given")
	cmd.Flags().Int64("max", 25, "maximum messages to poll")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func runProcess(cmd *cobra.Command, args []string) error {
	accountID, _ := cmd.Flags().GetString("account")
	query, _ := cmd.Flags().GetString("query")
	maxResults, _ := cmd.Flags().GetInt64("max")

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	eng, err := buildEngine(store)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	if len(args) == 1 {
		records, procErr := eng.ProcessMessage(ctx, accountID, args[0])
		if procErr != nil {
			return fmt.Errorf("failed to process message: %w", procErr)
		}
		for _, record := range records {
			slog.Info("Message processed",
				"message", record.MessageID,
				"rule", record.RuleID,
				"status", record.Status,
				"reason", record.Reason)
		}
		return nil
	}

	processed, failed, err := eng.ProcessQuery(ctx, accountID, query, maxResults)
	if err != nil {
		return fmt.Errorf("failed to process query: %w", err)
	}
	slog.Info("✅ Processing complete", "processed", processed, "failed", failed)
	return nil
}

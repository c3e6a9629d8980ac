package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Veraticus/mailflow/internal/model"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage connected email accounts",
	}
	cmd.AddCommand(accountsListCmd())
	cmd.AddCommand(accountsAddCmd())
	return cmd
}

func accountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List connected accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			accounts, err := store.ListAccounts(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tPROVIDER\tMULTI_RULE")
			for i := range accounts {
				a := &accounts[i]
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", a.ID, a.Email, a.Provider, a.MultiRuleSelection)
			}
			return w.Flush()
		},
	}
}

func accountsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Register an email account",
		Long: `Register an account with the engine. Provider credentials are read
from the config file under accounts.<id>, not stored in the database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			provider, _ := cmd.Flags().GetString("provider")
			about, _ := cmd.Flags().GetString("about")
			webhookURL, _ := cmd.Flags().GetString("webhook-url")
			webhookSecret, _ := cmd.Flags().GetString("webhook-secret")
			multiRule, _ := cmd.Flags().GetBool("multi-rule")

			kind := model.ProviderKind(provider)
			if kind != model.ProviderGmail && kind != model.ProviderIMAP {
				return fmt.Errorf("unsupported provider %q (want gmail or imap)", provider)
			}

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			account := &model.Account{
				ID:                 args[0],
				Email:              email,
				Provider:           kind,
				About:              about,
				WebhookURL:         webhookURL,
				WebhookSecret:      webhookSecret,
				MultiRuleSelection: multiRule,
			}
			if err := store.SaveAccount(cmd.Context(), account); err != nil {
				return fmt.Errorf("failed to save account: %w", err)
			}
			fmt.Printf("Account %s registered\n", account.ID)
			return nil
		},
	}
	cmd.Flags().String("email", "", "email address (required)")
	cmd.Flags().String("provider", "gmail", "mail provider (gmail, imap)")
	cmd.Flags().String("about", "", "free-text profile context used in AI prompts")
	cmd.Flags().String("webhook-url", "", "URL to notify after each execution")
	cmd.Flags().String("webhook-secret", "", "shared secret sent with webhook calls")
	cmd.Flags().Bool("multi-rule", false, "allow the chooser to select multiple rules")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Veraticus/mailflow/internal/model"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage email handling rules",
	}
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesImportCmd())
	cmd.AddCommand(rulesEnableCmd(true))
	cmd.AddCommand(rulesEnableCmd(false))
	cmd.AddCommand(rulesTestCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an account's enabled rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			accountID, _ := cmd.Flags().GetString("account")

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rules, err := store.GetEnabledRules(cmd.Context(), accountID)
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tNAME\tACTIONS\tAUTOMATE")
			for i := range rules {
				rule := &rules[i]
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%v\n",
					rule.ID, rule.Type, rule.Name, len(rule.Actions), rule.Automate)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("account", "", "account ID (required)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

// ruleFile is the JSON import format. Each field of an action is either a
// literal string or an object {"ai": true, "prompt": "..."}.
type ruleFile []struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Instructions string   `json:"instructions"`
	From         string   `json:"from"`
	To           string   `json:"to"`
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	Operator     string   `json:"operator"`
	GroupID      int64    `json:"groupId"`
	FilterMode   string   `json:"categoryFilterMode"`
	Filters      []int64  `json:"categoryFilters"`
	Automate     bool     `json:"automate"`
	RunOnThreads bool     `json:"runOnThreads"`
	Position     int      `json:"position"`
	Actions      []struct {
		Type    string        `json:"type"`
		Label   importedField `json:"label"`
		Subject importedField `json:"subject"`
		Content importedField `json:"content"`
		To      importedField `json:"to"`
		CC      importedField `json:"cc"`
		BCC     importedField `json:"bcc"`
		URL     string        `json:"url"`
		Delay   int           `json:"delayInMinutes"`
	} `json:"actions"`
}

// importedField decodes either a bare string (literal) or an object with an
// ai flag and prompt.
type importedField struct {
	Value string
	AI    bool
}

func (f *importedField) UnmarshalJSON(data []byte) error {
	var literal string
	if err := json.Unmarshal(data, &literal); err == nil {
		f.Value = literal
		return nil
	}
	var obj struct {
		Prompt string `json:"prompt"`
		AI     bool   `json:"ai"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	f.Value = obj.Prompt
	f.AI = obj.AI
	return nil
}

func (f importedField) toModel() model.Field {
	if f.AI {
		return model.Templated(f.Value)
	}
	return model.Literal(f.Value)
}

func rulesImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import rules from a JSON file",
		Long: `Load rule definitions from a JSON file and save them for the
account. Rules failing validation are rejected individually.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, _ := cmd.Flags().GetString("account")

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read rules file: %w", err)
			}
			var defs ruleFile
			if err := json.Unmarshal(data, &defs); err != nil {
				return fmt.Errorf("failed to parse rules file: %w", err)
			}

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ctx := cmd.Context()
			saved := 0
			for i, def := range defs {
				rule := model.Rule{
					AccountID:          accountID,
					Name:               def.Name,
					Type:               model.RuleType(def.Type),
					Instructions:       def.Instructions,
					From:               def.From,
					To:                 def.To,
					Subject:            def.Subject,
					Body:               def.Body,
					Operator:           model.ConditionalOperator(def.Operator),
					GroupID:            def.GroupID,
					CategoryFilterMode: model.CategoryFilterMode(def.FilterMode),
					CategoryFilters:    def.Filters,
					Automate:           def.Automate,
					RunOnThreads:       def.RunOnThreads,
					Position:           def.Position,
					Enabled:            true,
				}
				if rule.Operator == "" {
					rule.Operator = model.OperatorAnd
				}
				if rule.CategoryFilterMode == "" {
					rule.CategoryFilterMode = model.FilterInclude
				}
				for _, a := range def.Actions {
					rule.Actions = append(rule.Actions, model.Action{
						Type:           model.ActionType(a.Type),
						Label:          a.Label.toModel(),
						Subject:        a.Subject.toModel(),
						Content:        a.Content.toModel(),
						To:             a.To.toModel(),
						CC:             a.CC.toModel(),
						BCC:            a.BCC.toModel(),
						URL:            model.Literal(a.URL),
						DelayInMinutes: a.Delay,
					})
				}
				if err := store.SaveRule(ctx, &rule); err != nil {
					fmt.Fprintf(os.Stderr, "rule %d (%s): %v\n", i, def.Name, err)
					continue
				}
				saved++
			}
			fmt.Printf("Imported %d of %d rules\n", saved, len(defs))
			return nil
		},
	}
	cmd.Flags().String("account", "", "account ID (required)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func rulesEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <rule-id>", "Enable a rule"
	if !enable {
		use, short = "disable <rule-id>", "Disable a rule without deleting it"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid rule ID %q", args[0])
			}

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.SetRuleEnabled(cmd.Context(), id, enable); err != nil {
				return fmt.Errorf("failed to update rule: %w", err)
			}
			fmt.Printf("Rule %d %s\n", id, map[bool]string{true: "enabled", false: "disabled"}[enable])
			return nil
		},
	}
}

func rulesTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <message-id>",
		Short: "Dry-run the pipeline for a message",
		Long: `Evaluate rules, run selection and argument synthesis for a message,
and print the decision without executing any action or recording anything.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, _ := cmd.Flags().GetString("account")

			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			eng, err := buildEngine(store)
			if err != nil {
				return err
			}

			records, err := eng.Preview(cmd.Context(), accountID, args[0])
			if err != nil {
				return fmt.Errorf("dry run failed: %w", err)
			}

			for _, record := range records {
				if !record.HasRule() {
					fmt.Printf("No rule selected: %s\n", record.Reason)
					continue
				}
				fmt.Printf("Rule %d selected: %s\n", record.RuleID, record.Reason)
				for i := range record.ActionItems {
					item := &record.ActionItems[i]
					fmt.Printf("  [%d] %s", i, item.Type)
					if item.Label != "" {
						fmt.Printf(" label=%q", item.Label)
					}
					if item.To != "" {
						fmt.Printf(" to=%q", item.To)
					}
					if item.Subject != "" {
						fmt.Printf(" subject=%q", item.Subject)
					}
					if item.DelayInMinutes > 0 {
						fmt.Printf(" delay=%dm", item.DelayInMinutes)
					}
					if item.Status == model.ItemFailed {
						fmt.Printf(" FAILED: %s", item.Error)
					}
					fmt.Println()
				}
			}
			return nil
		},
	}
	cmd.Flags().String("account", "", "account ID (required)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/caravelhq/caravel-cli/config"
	"github.com/caravelhq/caravel-cli/pkg/authority"
	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/entities"
)

// Rules command flags.
var (
	rulesDocType  string
	rulesLevel    int
	rulesOverride []string
	rulesOutput   string
)

// RulesCommandDeps holds the dependencies for rules commands.
type RulesCommandDeps struct {
	LoadConfig  func() (*config.Config, error)
	ConnectToDB func(context.Context, *config.Config) (*pgxpool.Pool, error)
}

// DefaultRulesDeps returns the default dependencies for production use.
func DefaultRulesDeps() *RulesCommandDeps {
	return &RulesCommandDeps{
		LoadConfig:  config.LoadConfig,
		ConnectToDB: connectDatabase,
	}
}

// NewRulesCommand creates the rules command group.
func NewRulesCommand(deps *RulesCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultRulesDeps()
	}

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and edit authority rules",
		Long: `Inspect and edit the authority rules that decide which document
types may set or overwrite which shipment fields.

A rule keys on (document type, entity type) and carries an authority
level (lower is stronger) plus an optional list of document types it may
override regardless of level. Documents with no rule for a field cannot
update it.

Workers cache rules and refresh on a TTL, so edits take effect within
the configured cache interval without a restart.

Commands:
  list    - List the effective rules
  set     - Create or update one rule
  delete  - Remove one rule`,
	}

	cmd.AddCommand(newRulesListCmd(deps))
	cmd.AddCommand(newRulesSetCmd(deps))
	cmd.AddCommand(newRulesDeleteCmd(deps))

	return cmd
}

// newRulesListCmd creates the 'rules list' subcommand.
func newRulesListCmd(deps *RulesCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the effective authority rules",
		Example: `  caravel rules list
  caravel rules list --type booking_confirmation
  caravel rules list --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesList(cmd.Context(), deps)
		},
	}

	cmd.Flags().StringVar(&rulesDocType, "type", "", "Only rules for this document type")
	cmd.Flags().StringVarP(&rulesOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// newRulesSetCmd creates the 'rules set' subcommand.
func newRulesSetCmd(deps *RulesCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <document-type> <entity-type>",
		Short: "Create or update one authority rule",
		Long: `Create or update the authority rule for one (document type, entity
type) pair.

Levels are ordered with 1 strongest. --override-from lists document
types this rule beats regardless of their level, for correction flows
like an amendment overriding its confirmation.

Examples:
  # Booking amendments may set the vessel name at level 1
  caravel rules set booking_amendment vessel_name --level 1 \
      --override-from booking_confirmation

  # Arrival notices own the ETA outright
  caravel rules set arrival_notice eta --level 1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesSet(cmd.Context(), deps, args[0], args[1])
		},
	}

	cmd.Flags().IntVar(&rulesLevel, "level", 1, "Authority level, 1 is strongest")
	cmd.Flags().StringSliceVar(&rulesOverride, "override-from", nil, "Document types this rule overrides regardless of level")

	return cmd
}

// newRulesDeleteCmd creates the 'rules delete' subcommand.
func newRulesDeleteCmd(deps *RulesCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-type> <entity-type>",
		Short: "Remove one authority rule",
		Long: `Remove the authority rule for one (document type, entity type) pair.

Documents of that type can no longer update that field. Values already
merged are untouched.

Examples:
  caravel rules delete shipping_instruction vessel_name`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesDelete(cmd.Context(), deps, args[0], args[1])
		},
	}
}

// runRulesList executes the rules list command.
func runRulesList(ctx context.Context, deps *RulesCommandDeps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	overlayCredentials(cfg)

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	rules, err := authority.NewRepository(pool).LoadRules(ctx)
	if err != nil {
		return err
	}

	if rulesDocType != "" {
		filtered := rules[:0]
		for _, r := range rules {
			if r.DocumentType == docs.Type(rulesDocType) {
				filtered = append(filtered, r)
			}
		}
		rules = filtered
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].DocumentType != rules[j].DocumentType {
			return rules[i].DocumentType < rules[j].DocumentType
		}
		return rules[i].EntityType < rules[j].EntityType
	})

	switch resolveOutputFormat(cfg, rulesOutput) {
	case config.OutputFormatJSON:
		return outputJSON(rules)
	case config.OutputFormatYAML:
		return outputYAML(rules)
	default:
		printRulesTable(rules)
		return nil
	}
}

// runRulesSet executes the rules set command.
func runRulesSet(ctx context.Context, deps *RulesCommandDeps, docType, entityType string) error {
	if !docs.Type(docType).Valid() {
		return fmt.Errorf("unknown document type %q", docType)
	}
	if !entities.Type(entityType).Valid() {
		return fmt.Errorf("unknown entity type %q", entityType)
	}
	if rulesLevel < 1 {
		return fmt.Errorf("level must be 1 or greater")
	}
	overrideFrom := make([]docs.Type, 0, len(rulesOverride))
	for _, t := range rulesOverride {
		if !docs.Type(t).Valid() {
			return fmt.Errorf("unknown document type %q in --override-from", t)
		}
		overrideFrom = append(overrideFrom, docs.Type(t))
	}

	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	overlayCredentials(cfg)

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	rule := authority.Rule{
		DocumentType:    docs.Type(docType),
		EntityType:      entities.Type(entityType),
		Level:           rulesLevel,
		CanOverrideFrom: overrideFrom,
	}
	if err := authority.NewRepository(pool).Upsert(ctx, rule); err != nil {
		return err
	}
	fmt.Printf("Rule set: %s/%s level %d\n", docType, entityType, rulesLevel)
	return nil
}

// runRulesDelete executes the rules delete command.
func runRulesDelete(ctx context.Context, deps *RulesCommandDeps, docType, entityType string) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	overlayCredentials(cfg)

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := authority.NewRepository(pool).Delete(ctx, docs.Type(docType), entities.Type(entityType)); err != nil {
		return err
	}
	fmt.Printf("Rule deleted: %s/%s\n", docType, entityType)
	return nil
}

// printRulesTable renders authority rules for terminal display.
func printRulesTable(rules []authority.Rule) {
	if len(rules) == 0 {
		fmt.Println("No authority rules.")
		return
	}
	fmt.Println("DOCUMENT TYPE            ENTITY TYPE             LEVEL  OVERRIDES")
	fmt.Println("-------------            -----------             -----  ---------")
	for _, r := range rules {
		overrides := "-"
		if len(r.CanOverrideFrom) > 0 {
			parts := make([]string, 0, len(r.CanOverrideFrom))
			for _, t := range r.CanOverrideFrom {
				parts = append(parts, string(t))
			}
			overrides = strings.Join(parts, ", ")
		}
		fmt.Printf("%-24s %-23s %-6d %s\n", r.DocumentType, r.EntityType, r.Level, overrides)
	}
}

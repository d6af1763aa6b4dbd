package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/caravelhq/caravel-cli/config"
	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/logging"
	"github.com/caravelhq/caravel-cli/pkg/queues"
)

// Orphans command flags.
var (
	orphansLimit  int
	orphansAfter  int64
	orphansOutput string
)

// OrphansCommandDeps holds the dependencies for orphan commands.
type OrphansCommandDeps struct {
	LoadConfig   func() (*config.Config, error)
	ConnectToDB  func(context.Context, *config.Config) (*pgxpool.Pool, error)
	ConnectRedis func(context.Context, *config.Config) (*redis.Client, error)
}

// DefaultOrphansDeps returns the default dependencies for production use.
func DefaultOrphansDeps() *OrphansCommandDeps {
	return &OrphansCommandDeps{
		LoadConfig:   config.LoadConfig,
		ConnectToDB:  connectDatabase,
		ConnectRedis: connectRedis,
	}
}

// NewOrphansCommand creates the orphans command group.
func NewOrphansCommand(deps *OrphansCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultOrphansDeps()
	}

	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "Inspect and retry documents that failed to link",
		Long: `Inspect documents that carried no usable shipment identifier, or
matched more than one shipment, at processing time.

Orphans are normal: a shipping instruction can arrive before its booking
confirmation. Workers retry orphans automatically when shipments gain
identifiers; the retry subcommand forces a full sweep now.

Commands:
  list   - List orphaned and ambiguous documents
  retry  - Re-run linking for every orphan against today's shipments`,
	}

	cmd.AddCommand(newOrphansListCmd(deps))
	cmd.AddCommand(newOrphansRetryCmd(deps))

	return cmd
}

// newOrphansListCmd creates the 'orphans list' subcommand.
func newOrphansListCmd(deps *OrphansCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orphaned and ambiguous documents",
		Example: `  caravel orphans list
  caravel orphans list --limit 20
  caravel orphans list --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrphansList(cmd.Context(), deps)
		},
	}

	cmd.Flags().IntVar(&orphansLimit, "limit", 50, "Maximum documents to list")
	cmd.Flags().Int64Var(&orphansAfter, "after", 0, "List documents with id greater than this")
	cmd.Flags().StringVarP(&orphansOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// newOrphansRetryCmd creates the 'orphans retry' subcommand.
func newOrphansRetryCmd(deps *OrphansCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-run linking for every orphaned document",
		Long: `Re-run the full pipeline for every orphaned and ambiguous document
against the current shipment index.

Documents that now match link up; the rest stay orphaned. Stored
classification and entities are reused, so no AI calls are made.

Examples:
  caravel orphans retry
  caravel orphans retry --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrphansRetry(cmd.Context(), deps)
		},
	}

	cmd.Flags().StringVarP(&orphansOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// runOrphansList executes the orphans list command.
func runOrphansList(ctx context.Context, deps *OrphansCommandDeps) error {
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

	list, err := docs.NewRepository(pool).ListOrphansPage(ctx, orphansAfter, orphansLimit)
	if err != nil {
		return err
	}

	switch resolveOutputFormat(cfg, orphansOutput) {
	case config.OutputFormatJSON:
		return outputJSON(list)
	case config.OutputFormatYAML:
		return outputYAML(list)
	default:
		printOrphansTable(list)
		return nil
	}
}

// runOrphansRetry executes the orphans retry command.
func runOrphansRetry(ctx context.Context, deps *OrphansCommandDeps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	creds := overlayCredentials(cfg)
	logger := logging.MustGlobal()

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	var relinkQueue queues.Queue
	if client, err := deps.ConnectRedis(ctx, cfg); err == nil {
		defer client.Close()
		relinkQueue = openQueue(client, queues.QueueRelink)
	} else {
		logger.Warn("redis unavailable, relink triggers disabled", logging.Err(err))
	}

	pipe := buildPipeline(cfg, creds, pool, relinkQueue, nil, logger)
	stats, err := pipe.SweepOrphans(ctx)
	if err != nil {
		return err
	}

	switch resolveOutputFormat(cfg, orphansOutput) {
	case config.OutputFormatJSON:
		return outputJSON(stats)
	case config.OutputFormatYAML:
		return outputYAML(stats)
	default:
		fmt.Printf("Scanned:  %d\n", stats.Scanned)
		fmt.Printf("Relinked: %d\n", stats.Relinked)
		fmt.Printf("Skipped:  %d\n", stats.Skipped)
		fmt.Printf("Failed:   %d\n", stats.Failed)
		return nil
	}
}

// printOrphansTable renders orphaned documents for terminal display.
func printOrphansTable(list []*docs.Document) {
	if len(list) == 0 {
		fmt.Println("No orphaned documents.")
		return
	}
	fmt.Println("ID      STATUS     TYPE                   SENDER                        SUBJECT")
	fmt.Println("--      ------     ----                   ------                        -------")
	for _, d := range list {
		fmt.Printf("%-7d %-10s %-22s %-29s %s\n",
			d.ID,
			d.LinkStatus,
			d.DocumentType,
			truncateString(d.SenderAddress, 29),
			truncateString(d.Subject, 40),
		)
	}
}

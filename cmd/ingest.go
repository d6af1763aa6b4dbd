package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/caravelhq/caravel-cli/config"
	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/ingest"
	"github.com/caravelhq/caravel-cli/pkg/logging"
	"github.com/caravelhq/caravel-cli/pkg/queues"
)

// Ingest command flags.
var (
	ingestDryRun      bool
	ingestForce       bool
	ingestConcurrency int
	ingestPriority    string
	ingestOutput      string
)

// IngestCommandDeps holds the dependencies for the ingest command.
type IngestCommandDeps struct {
	LoadConfig   func() (*config.Config, error)
	ConnectToDB  func(context.Context, *config.Config) (*pgxpool.Pool, error)
	ConnectRedis func(context.Context, *config.Config) (*redis.Client, error)
}

// DefaultIngestDeps returns the default dependencies for production use.
func DefaultIngestDeps() *IngestCommandDeps {
	return &IngestCommandDeps{
		LoadConfig:   config.LoadConfig,
		ConnectToDB:  connectDatabase,
		ConnectRedis: connectRedis,
	}
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(deps *IngestCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultIngestDeps()
	}

	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Import message records and queue them for processing",
		Long: `Import message records from a JSON file or directory of JSON files.

Each file holds one message record. Imported documents are stored with
pending status and a processing message is queued for each; background
workers then classify, extract, and link them.

Ingest is idempotent: records are keyed by source_message_id, so re-running
the same path resumes an interrupted import by skipping what already landed.
Use --force to re-import and re-classify records that were already ingested.

Examples:
  # Import a directory of records
  caravel ingest ./export/2026-08/

  # Import one record
  caravel ingest ./export/msg-001.json

  # Preview without writing anything
  caravel ingest ./export/2026-08/ --dry-run

  # Re-import and re-classify everything in the path
  caravel ingest ./export/2026-08/ --force

  # Raise worker fan-out for a large backfill
  caravel ingest ./export/ --concurrency 8 --priority low`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), deps, args[0])
		},
	}

	cmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "Read and validate files without persisting or queueing")
	cmd.Flags().BoolVar(&ingestForce, "force", false, "Re-import records that already exist and queue them for reclassification")
	cmd.Flags().IntVar(&ingestConcurrency, "concurrency", ingest.DefaultConcurrency, "Number of files processed in parallel")
	cmd.Flags().StringVar(&ingestPriority, "priority", "normal", "Queue priority for imported documents: low, normal, high")
	cmd.Flags().StringVarP(&ingestOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// runIngest executes the ingest command.
func runIngest(ctx context.Context, deps *IngestCommandDeps, path string) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	overlayCredentials(cfg)

	priority, err := parsePriority(ingestPriority)
	if err != nil {
		return err
	}

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	var enqueuer ingest.Enqueuer
	if !ingestDryRun {
		client, err := deps.ConnectRedis(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer client.Close()
		enqueuer = openQueue(client, queues.QueueDocuments)
	} else {
		enqueuer = nopEnqueuer{}
	}

	format := resolveOutputFormat(cfg, ingestOutput)
	pcfg := ingest.ProcessorConfig{
		Concurrency: ingestConcurrency,
		DryRun:      ingestDryRun,
		Force:       ingestForce,
		Priority:    priority,
	}
	if format == config.OutputFormatText {
		pcfg.OnProgress = printIngestProgress
	}
	processor := ingest.NewProcessor(docs.NewRepository(pool), enqueuer, logging.MustGlobal(), pcfg)

	result, err := processor.Process(ctx, path)
	if err != nil {
		return err
	}

	switch format {
	case config.OutputFormatJSON:
		return outputJSON(result)
	case config.OutputFormatYAML:
		return outputYAML(result)
	default:
		printIngestResult(result)
	}
	if !result.Success {
		return fmt.Errorf("%d of %d files failed", result.FailedCount, result.TotalFiles)
	}
	return nil
}

// parsePriority maps the flag value onto a queue priority.
func parsePriority(s string) (queues.Priority, error) {
	switch s {
	case "low":
		return queues.PriorityLow, nil
	case "normal", "":
		return queues.PriorityNormal, nil
	case "high":
		return queues.PriorityHigh, nil
	default:
		return 0, fmt.Errorf("invalid priority %q: expected low, normal, or high", s)
	}
}

// nopEnqueuer swallows messages during dry runs.
type nopEnqueuer struct{}

func (nopEnqueuer) Enqueue(queues.Message) error { return nil }

// printIngestProgress renders a single-line progress update. It is called
// with the progress lock held, so it only reads.
func printIngestProgress(p *ingest.Progress) {
	fmt.Fprintf(os.Stderr, "\r%d/%d processed (%d imported, %d skipped, %d failed)",
		p.ProcessedCount, p.TotalFiles, p.ImportedCount, p.SkippedCount, p.FailedCount)
	if p.ProcessedCount == p.TotalFiles && p.TotalFiles > 0 {
		fmt.Fprintln(os.Stderr)
	}
}

// printIngestResult renders the batch summary for terminal display.
func printIngestResult(result *ingest.Result) {
	fmt.Printf("Batch %s\n", result.BatchID)
	fmt.Printf("  Files:    %d\n", result.TotalFiles)
	fmt.Printf("  Imported: %d\n", result.ImportedCount)
	fmt.Printf("  Skipped:  %d\n", result.SkippedCount)
	fmt.Printf("  Failed:   %d\n", result.FailedCount)
	fmt.Printf("  Duration: %s\n", result.CompletedAt.Sub(result.StartedAt).Round(time.Millisecond))
	for _, fe := range result.Errors {
		fmt.Printf("  error: %s: %s\n", fe.FilePath, fe.Error)
	}
}

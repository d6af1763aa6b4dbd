package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/caravelhq/caravel-cli/config"
	"github.com/caravelhq/caravel-cli/pkg/batch"
	"github.com/caravelhq/caravel-cli/pkg/logging"
	"github.com/caravelhq/caravel-cli/pkg/queues"
)

// Reclassify command flags.
var (
	reclassifyResume   string
	reclassifyPageSize int
	reclassifyOutput   string
)

// ReclassifyCommandDeps holds the dependencies for the reclassify command.
type ReclassifyCommandDeps struct {
	LoadConfig   func() (*config.Config, error)
	ConnectToDB  func(context.Context, *config.Config) (*pgxpool.Pool, error)
	ConnectRedis func(context.Context, *config.Config) (*redis.Client, error)
}

// DefaultReclassifyDeps returns the default dependencies for production use.
func DefaultReclassifyDeps() *ReclassifyCommandDeps {
	return &ReclassifyCommandDeps{
		LoadConfig:   config.LoadConfig,
		ConnectToDB:  connectDatabase,
		ConnectRedis: connectRedis,
	}
}

// NewReclassifyCommand creates the reclassify command.
func NewReclassifyCommand(deps *ReclassifyCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultReclassifyDeps()
	}

	cmd := &cobra.Command{
		Use:   "reclassify",
		Short: "Re-run classification over all stored documents",
		Long: `Re-run classification, extraction, linking, and merging over every
stored document in id order.

Progress is checkpointed after each page, so an interrupted run can be
resumed with --resume and the job id printed at start. Re-running a
completed sweep starts a fresh job.

This is the bulk recovery path after pattern or rule changes. Individual
document failures are logged and skipped; they do not stop the sweep.

Examples:
  # Sweep everything
  caravel reclassify

  # Resume an interrupted sweep
  caravel reclassify --resume 6f4c9a0e-8b1d-4e4e-9f1a-2f9d2f6f3a21

  # Smaller pages for a loaded database
  caravel reclassify --page-size 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReclassify(cmd.Context(), deps)
		},
	}

	cmd.Flags().StringVar(&reclassifyResume, "resume", "", "Job id of an interrupted sweep to resume")
	cmd.Flags().IntVar(&reclassifyPageSize, "page-size", 100, "Documents per checkpointed page")
	cmd.Flags().StringVarP(&reclassifyOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// runReclassify executes the reclassify command.
func runReclassify(ctx context.Context, deps *ReclassifyCommandDeps) error {
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
	runner := batch.NewRunner(batch.NewRepository(pool), logger)

	job, err := runner.Run(ctx, batch.KindReclassify, reclassifyResume, func(ctx context.Context, cursor int64) (int64, int, int, bool, error) {
		lastID, processed, failed, err := pipe.ReclassifySweep(ctx, cursor, reclassifyPageSize)
		// A page that advances nothing means the table is exhausted.
		return lastID, processed, failed, lastID == cursor, err
	})
	if job != nil {
		printJobOutcome(cfg, reclassifyOutput, job)
	}
	return err
}

// printJobOutcome renders a finished or interrupted job.
func printJobOutcome(cfg *config.Config, override string, job *batch.Job) {
	switch resolveOutputFormat(cfg, override) {
	case config.OutputFormatJSON:
		_ = outputJSON(job)
	case config.OutputFormatYAML:
		_ = outputYAML(job)
	default:
		fmt.Printf("Job %s (%s)\n", job.ID, job.Kind)
		fmt.Printf("  Status:    %s\n", job.Status)
		fmt.Printf("  Processed: %d\n", job.Processed)
		fmt.Printf("  Failed:    %d\n", job.Failed)
		fmt.Printf("  Cursor:    %d\n", job.Cursor)
		if job.LastError != "" {
			fmt.Printf("  Error:     %s\n", job.LastError)
		}
		if job.Status != batch.StatusCompleted {
			fmt.Printf("  Resume with: caravel %s --resume %s\n", job.Kind, job.ID)
		}
	}
}

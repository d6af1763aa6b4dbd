package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/caravelhq/caravel-cli/config"
	"github.com/caravelhq/caravel-cli/pkg/batch"
	"github.com/caravelhq/caravel-cli/pkg/logging"
	"github.com/caravelhq/caravel-cli/pkg/shipments"
)

// Rebuild command flags.
var (
	rebuildResume   string
	rebuildPageSize int
	rebuildOutput   string
)

// RebuildCommandDeps holds the dependencies for the rebuild command.
type RebuildCommandDeps struct {
	LoadConfig  func() (*config.Config, error)
	ConnectToDB func(context.Context, *config.Config) (*pgxpool.Pool, error)
}

// DefaultRebuildDeps returns the default dependencies for production use.
func DefaultRebuildDeps() *RebuildCommandDeps {
	return &RebuildCommandDeps{
		LoadConfig:  config.LoadConfig,
		ConnectToDB: connectDatabase,
	}
}

// NewRebuildCommand creates the rebuild command.
func NewRebuildCommand(deps *RebuildCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultRebuildDeps()
	}

	cmd := &cobra.Command{
		Use:   "rebuild [shipment-id]",
		Short: "Recompute workflow state from linked documents",
		Long: `Recompute shipment workflow state by folding over all linked
documents from scratch.

The fold is order-independent, so a rebuild lands on the same state as
the incremental updates did, unless the fold rules changed since the
documents were processed. With a shipment id only that shipment is
rebuilt; without one every shipment is swept in id order with a
resumable, checkpointed job.

Rebuilding never touches merged fields, only the workflow state.

Examples:
  # Rebuild one shipment
  caravel rebuild 17

  # Rebuild everything
  caravel rebuild

  # Resume an interrupted full rebuild
  caravel rebuild --resume 6f4c9a0e-8b1d-4e4e-9f1a-2f9d2f6f3a21`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid shipment id %q", args[0])
				}
				return runRebuildOne(cmd.Context(), deps, id)
			}
			return runRebuildAll(cmd.Context(), deps)
		},
	}

	cmd.Flags().StringVar(&rebuildResume, "resume", "", "Job id of an interrupted rebuild to resume")
	cmd.Flags().IntVar(&rebuildPageSize, "page-size", 100, "Shipments per checkpointed page")
	cmd.Flags().StringVarP(&rebuildOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// runRebuildOne rebuilds a single shipment's workflow state.
func runRebuildOne(ctx context.Context, deps *RebuildCommandDeps, shipmentID int64) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	creds := overlayCredentials(cfg)

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	pipe := buildPipeline(cfg, creds, pool, nil, nil, logging.MustGlobal())
	fold, err := pipe.RebuildShipmentState(ctx, shipmentID)
	if err != nil {
		return err
	}

	switch resolveOutputFormat(cfg, rebuildOutput) {
	case config.OutputFormatJSON:
		return outputJSON(fold)
	case config.OutputFormatYAML:
		return outputYAML(fold)
	default:
		if fold.Changed {
			fmt.Printf("Shipment %d: state corrected to %s (%s)\n", shipmentID, fold.State, fold.Reason)
		} else {
			fmt.Printf("Shipment %d: state %s confirmed\n", shipmentID, fold.State)
		}
		return nil
	}
}

// runRebuildAll sweeps every shipment with a resumable job.
func runRebuildAll(ctx context.Context, deps *RebuildCommandDeps) error {
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

	pipe := buildPipeline(cfg, creds, pool, nil, nil, logger)
	ships := shipments.NewRepository(pool)
	runner := batch.NewRunner(batch.NewRepository(pool), logger)

	changed := 0
	job, err := runner.Run(ctx, batch.KindRebuild, rebuildResume, func(ctx context.Context, cursor int64) (int64, int, int, bool, error) {
		page, err := ships.ListPage(ctx, cursor, rebuildPageSize)
		if err != nil {
			return cursor, 0, 0, false, err
		}
		if len(page) == 0 {
			return cursor, 0, 0, true, nil
		}
		var processed, failed int
		last := cursor
		for _, s := range page {
			last = s.ID
			fold, err := pipe.RebuildShipmentState(ctx, s.ID)
			if err != nil {
				logger.Warn("rebuild failed",
					logging.Err(err),
					logging.F("shipment_id", s.ID),
				)
				failed++
				continue
			}
			if fold.Changed {
				changed++
			}
			processed++
			if err := ctx.Err(); err != nil {
				return last, processed, failed, false, err
			}
		}
		return last, processed, failed, len(page) < rebuildPageSize, nil
	})
	if job != nil {
		printJobOutcome(cfg, rebuildOutput, job)
		if resolveOutputFormat(cfg, rebuildOutput) == config.OutputFormatText {
			fmt.Printf("  Corrected: %d\n", changed)
		}
	}
	return err
}

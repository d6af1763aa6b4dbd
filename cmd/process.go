package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/caravelhq/caravel-cli/config"
	"github.com/caravelhq/caravel-cli/pkg/entities"
	"github.com/caravelhq/caravel-cli/pkg/logging"
	"github.com/caravelhq/caravel-cli/pkg/pipeline"
	"github.com/caravelhq/caravel-cli/pkg/queues"
)

// Process command flags.
var (
	processReclassify bool
	processOutput     string
)

// ProcessCommandDeps holds the dependencies for the process command.
type ProcessCommandDeps struct {
	LoadConfig   func() (*config.Config, error)
	ConnectToDB  func(context.Context, *config.Config) (*pgxpool.Pool, error)
	ConnectRedis func(context.Context, *config.Config) (*redis.Client, error)
}

// DefaultProcessDeps returns the default dependencies for production use.
func DefaultProcessDeps() *ProcessCommandDeps {
	return &ProcessCommandDeps{
		LoadConfig:   config.LoadConfig,
		ConnectToDB:  connectDatabase,
		ConnectRedis: connectRedis,
	}
}

// NewProcessCommand creates the process command.
func NewProcessCommand(deps *ProcessCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultProcessDeps()
	}

	cmd := &cobra.Command{
		Use:   "process <document-id>",
		Short: "Run one document through the pipeline in the foreground",
		Long: `Run one stored document through the full pipeline: classify, extract
entities, link to a shipment, merge fields, and fold workflow state.

This is the foreground equivalent of what the background workers do for
queued documents. It is useful for debugging a single document or for
re-running one that failed.

Orphaned or ambiguous documents get another linking attempt against the
current shipment index. Use --reclassify to discard the stored
classification and entities and start from the raw text.

Examples:
  # Process document 42
  caravel process 42

  # Re-run classification and extraction from scratch
  caravel process 42 --reclassify

  # Machine-readable result
  caravel process 42 --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid document id %q", args[0])
			}
			return runProcess(cmd.Context(), deps, id)
		},
	}

	cmd.Flags().BoolVar(&processReclassify, "reclassify", false, "Discard stored classification and re-run from raw text")
	cmd.Flags().StringVarP(&processOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// runProcess executes the process command.
func runProcess(ctx context.Context, deps *ProcessCommandDeps, documentID int64) error {
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

	// The relink trigger needs the queue so linked orphans cascade; a
	// missing broker degrades to sweep-only relinking rather than failing
	// the command.
	var relinkQueue queues.Queue
	if client, err := deps.ConnectRedis(ctx, cfg); err == nil {
		defer client.Close()
		relinkQueue = openQueue(client, queues.QueueRelink)
	} else {
		logging.MustGlobal().Warn("redis unavailable, relink triggers disabled", logging.Err(err))
	}

	pipe := buildPipeline(cfg, creds, pool, relinkQueue, nil, logging.MustGlobal())
	result, err := pipe.Reprocess(ctx, documentID, processReclassify)
	if err != nil {
		return err
	}

	switch resolveOutputFormat(cfg, processOutput) {
	case config.OutputFormatJSON:
		return outputJSON(result)
	case config.OutputFormatYAML:
		return outputYAML(result)
	default:
		printProcessResult(result)
		return nil
	}
}

// printProcessResult renders a pipeline run for terminal display.
func printProcessResult(result *pipeline.ProcessResult) {
	fmt.Printf("Document %d\n", result.DocumentID)
	fmt.Printf("  Type:       %s (%d%%, via %s)\n",
		result.Classification.DocumentType,
		result.Classification.Confidence,
		result.Classification.Via)
	fmt.Printf("  Direction:  %s\n", result.Classification.Direction)
	fmt.Printf("  Link:       %s", result.Link.Outcome)
	if result.Link.ShipmentID != 0 {
		fmt.Printf(" (shipment %d, matched by %s)", result.Link.ShipmentID, result.Link.MatchedBy)
	}
	fmt.Println()
	if len(result.Entities.Scalars) > 0 {
		fmt.Println("  Entities:")
		types := make([]string, 0, len(result.Entities.Scalars))
		for t := range result.Entities.Scalars {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("    %-22s %s\n", t, result.Entities.Scalars[entities.Type(t)])
		}
	}
	if len(result.Entities.Containers) > 0 {
		fmt.Printf("  Containers: %s\n", strings.Join(result.Entities.Containers, ", "))
	}
	if result.StateChange != nil && result.StateChange.Changed {
		fmt.Printf("  Workflow:   -> %s (%s)\n", result.StateChange.State, result.StateChange.Reason)
	}
}

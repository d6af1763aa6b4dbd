package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/caravelhq/caravel-cli/config"
	"github.com/caravelhq/caravel-cli/pkg/batch"
)

// Jobs command flags.
var (
	jobsKind   string
	jobsLimit  int
	jobsOutput string
)

// JobsCommandDeps holds the dependencies for the jobs command.
type JobsCommandDeps struct {
	LoadConfig  func() (*config.Config, error)
	ConnectToDB func(context.Context, *config.Config) (*pgxpool.Pool, error)
}

// DefaultJobsDeps returns the default dependencies for production use.
func DefaultJobsDeps() *JobsCommandDeps {
	return &JobsCommandDeps{
		LoadConfig:  config.LoadConfig,
		ConnectToDB: connectDatabase,
	}
}

// NewJobsCommand creates the jobs command.
func NewJobsCommand(deps *JobsCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultJobsDeps()
	}

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent batch jobs",
		Long: `List recent batch jobs (reclassify and rebuild sweeps) with their
status and resume cursors.

Interrupted and failed jobs can be resumed by passing their id to the
--resume flag of the command that started them.

Examples:
  caravel jobs
  caravel jobs --kind reclassify
  caravel jobs --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(cmd.Context(), deps)
		},
	}

	cmd.Flags().StringVar(&jobsKind, "kind", "", "Only jobs of this kind (ingest, reclassify, rebuild, relink_sweep)")
	cmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum jobs to list")
	cmd.Flags().StringVarP(&jobsOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// runJobs executes the jobs command.
func runJobs(ctx context.Context, deps *JobsCommandDeps) error {
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

	jobs, err := batch.NewRepository(pool).ListRecent(ctx, batch.Kind(jobsKind), jobsLimit)
	if err != nil {
		return err
	}

	switch resolveOutputFormat(cfg, jobsOutput) {
	case config.OutputFormatJSON:
		return outputJSON(jobs)
	case config.OutputFormatYAML:
		return outputYAML(jobs)
	default:
		printJobsTable(jobs)
		return nil
	}
}

// printJobsTable renders jobs for terminal display.
func printJobsTable(jobs []*batch.Job) {
	if len(jobs) == 0 {
		fmt.Println("No jobs found.")
		return
	}
	fmt.Println("ID                                    KIND          STATUS       PROCESSED  FAILED  STARTED")
	fmt.Println("--                                    ----          ------       ---------  ------  -------")
	for _, j := range jobs {
		fmt.Printf("%-37s %-13s %-12s %-10d %-7d %s\n",
			j.ID,
			j.Kind,
			j.Status,
			j.Processed,
			j.Failed,
			j.StartedAt.Format("2006-01-02 15:04"),
		)
	}
}

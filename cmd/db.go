package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/caravelhq/caravel-cli/config"
	"github.com/caravelhq/caravel-cli/pkg/db"
)

// Database command flags.
var (
	dbDryRun       bool
	dbTarget       string
	dbOutput       string
	dbMigrationDir string
	dbYes          bool
)

// DbCommandDeps holds the dependencies for database commands.
type DbCommandDeps struct {
	LoadConfig  func() (*config.Config, error)
	ConnectToDB func(context.Context, *config.Config) (*pgxpool.Pool, error)
}

// DefaultDbDeps returns the default dependencies for production use.
func DefaultDbDeps() *DbCommandDeps {
	return &DbCommandDeps{
		LoadConfig:  config.LoadConfig,
		ConnectToDB: connectDatabase,
	}
}

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand(deps *DbCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultDbDeps()
	}

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for caravel.

Manage schema migrations and check database health.

Migration files are SQL files in the migrations directory, named with
numeric prefixes (e.g. 001_create_documents.sql). Migrations are applied
in alphabetical order and tracked in the schema_migrations table.

Examples:
  # Show migration status
  caravel db status

  # Apply all pending migrations
  caravel db migrate

  # Preview migrations without applying
  caravel db migrate --dry-run

  # Check connectivity and pool health
  caravel db health`,
		Aliases: []string{"database", "migrations"},
	}

	cmd.PersistentFlags().StringVarP(&dbMigrationDir, "migrations", "m", "migrations", "Path to migrations directory")

	cmd.AddCommand(newDbMigrateCommand(deps))
	cmd.AddCommand(newDbStatusCommand(deps))
	cmd.AddCommand(newDbHealthCommand(deps))

	return cmd
}

// newDbMigrateCommand creates the 'db migrate' subcommand.
func newDbMigrateCommand(deps *DbCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Pending migrations are listed before applying. Each migration runs in a
transaction and is recorded in the schema_migrations table; a failure
rolls back that migration and stops the run.

Examples:
  # Apply all pending migrations
  caravel db migrate

  # Preview without applying
  caravel db migrate --dry-run

  # Apply up to a specific version
  caravel db migrate --target 004

  # Skip the confirmation prompt
  caravel db migrate --yes`,
		Example: `  caravel db migrate
  caravel db migrate --dry-run
  caravel db migrate --target 004`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context(), deps)
		},
	}

	cmd.Flags().BoolVar(&dbDryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().StringVarP(&dbTarget, "target", "t", "", "Target version to migrate to (e.g. 004)")
	cmd.Flags().BoolVarP(&dbYes, "yes", "y", false, "Apply without prompting for confirmation")

	return cmd
}

// newDbStatusCommand creates the 'db status' subcommand.
func newDbStatusCommand(deps *DbCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		Long: `Show the current state of database migrations.

Displays three categories:
  - Applied: applied migrations with a corresponding file
  - Pending: migration files not applied yet
  - Drift:   applied migrations whose file no longer exists

Examples:
  caravel db status
  caravel db status --output json`,
		Example: `  caravel db status
  caravel db status --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context(), deps)
		},
	}

	cmd.Flags().StringVarP(&dbOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// newDbHealthCommand creates the 'db health' subcommand.
func newDbHealthCommand(deps *DbCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check database connectivity and pool health",
		Long: `Connect to the database and report round-trip latency and
connection pool statistics.

Exits non-zero when the database is unreachable.

Examples:
  caravel db health
  caravel db health --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbHealth(cmd.Context(), deps)
		},
	}

	cmd.Flags().StringVarP(&dbOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// runDbMigrate executes the db migrate command.
func runDbMigrate(ctx context.Context, deps *DbCommandDeps) error {
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

	pending, err := db.GetPendingMigrations(ctx, pool, dbMigrationDir)
	if err != nil {
		return fmt.Errorf("getting pending migrations: %w", err)
	}

	if len(pending) == 0 {
		fmt.Println("No pending migrations.")
		return nil
	}

	fmt.Printf("Pending migrations (%d):\n", len(pending))
	for _, m := range pending {
		fmt.Printf("  %s - %s\n", m.Version, m.Name)
	}
	fmt.Println()

	if dbDryRun {
		fmt.Println("Dry run mode: no migrations applied.")
		return nil
	}

	if !dbYes {
		fmt.Print("Apply these migrations? (y/N): ")
		var response string
		fmt.Scanln(&response)
		if strings.ToLower(response) != "y" {
			fmt.Println("Migration cancelled.")
			return nil
		}
	}

	var result *db.MigrationResult
	if dbTarget != "" {
		fmt.Printf("Applying migrations up to version %s...\n", dbTarget)
		result, err = db.RunMigrationsToTarget(ctx, pool, dbMigrationDir, dbTarget)
	} else {
		fmt.Println("Applying all pending migrations...")
		result, err = db.RunMigrations(ctx, pool, dbMigrationDir)
	}

	if err != nil {
		fmt.Printf("\nMigration failed: %v\n", err)
		if result != nil && len(result.Applied) > 0 {
			fmt.Println("\nSuccessfully applied before failure:")
			for _, v := range result.Applied {
				fmt.Printf("  %s\n", v)
			}
		}
		return err
	}

	fmt.Println()
	if len(result.Applied) > 0 {
		fmt.Printf("Applied %d migration(s):\n", len(result.Applied))
		for _, v := range result.Applied {
			fmt.Printf("  %s\n", v)
		}
	}
	if len(result.Skipped) > 0 {
		fmt.Printf("Skipped %d migration(s) (already applied):\n", len(result.Skipped))
		for _, v := range result.Skipped {
			fmt.Printf("  %s\n", v)
		}
	}
	fmt.Println("\nMigrations completed successfully.")
	return nil
}

// runDbStatus executes the db status command.
func runDbStatus(ctx context.Context, deps *DbCommandDeps) error {
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

	status, err := db.GetMigrationStatus(ctx, pool, dbMigrationDir)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	switch resolveOutputFormat(cfg, dbOutput) {
	case config.OutputFormatJSON:
		return outputJSON(status)
	case config.OutputFormatYAML:
		return outputYAML(status)
	default:
		printMigrationStatus(status)
		return nil
	}
}

// runDbHealth executes the db health command.
func runDbHealth(ctx context.Context, deps *DbCommandDeps) error {
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

	status := db.Check(ctx, pool)

	switch resolveOutputFormat(cfg, dbOutput) {
	case config.OutputFormatJSON:
		return outputJSON(healthView(status))
	case config.OutputFormatYAML:
		return outputYAML(healthView(status))
	default:
		if status.Healthy {
			fmt.Printf("Database healthy (latency %s)\n", status.Latency)
		} else {
			fmt.Printf("Database unhealthy: %v\n", status.Error)
		}
		fmt.Printf("  Connections: %d total, %d idle, %d acquired\n",
			status.TotalConns, status.IdleConns, status.AcquiredConns)
	}
	if !status.Healthy {
		return fmt.Errorf("database unhealthy")
	}
	return nil
}

// healthView flattens a HealthStatus for serialization; error does not
// marshal usefully on its own.
func healthView(s *db.HealthStatus) map[string]any {
	v := map[string]any{
		"healthy":        s.Healthy,
		"latency_ms":     s.Latency.Milliseconds(),
		"total_conns":    s.TotalConns,
		"idle_conns":     s.IdleConns,
		"acquired_conns": s.AcquiredConns,
	}
	if s.Error != nil {
		v["error"] = s.Error.Error()
	}
	return v
}

// printMigrationStatus formats migration status for terminal display.
func printMigrationStatus(status *db.MigrationStatus) {
	if len(status.Applied) > 0 {
		fmt.Printf("Applied Migrations (%d):\n", len(status.Applied))
		for _, m := range status.Applied {
			appliedAt := "-"
			if m.AppliedAt != nil {
				appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("  %-6s %-40s %s\n", m.Version, truncateString(m.Name, 40), appliedAt)
		}
		fmt.Println()
	}

	if len(status.Pending) > 0 {
		fmt.Printf("Pending Migrations (%d):\n", len(status.Pending))
		for _, m := range status.Pending {
			fmt.Printf("  %-6s %s\n", m.Version, m.Name)
		}
		fmt.Println()
	}

	if len(status.Drift) > 0 {
		fmt.Printf("Drift (%d applied migrations with no file):\n", len(status.Drift))
		for _, m := range status.Drift {
			fmt.Printf("  %-6s %s\n", m.Version, m.Name)
		}
		fmt.Println()
	}

	if len(status.Applied) == 0 && len(status.Pending) == 0 && len(status.Drift) == 0 {
		fmt.Println("No migrations found.")
	}
}

// Package main provides the caravel CLI entry point.
// caravel resolves freight document identity and infers shipment workflow
// state from message streams.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/caravelhq/caravel-cli/cmd"
	"github.com/caravelhq/caravel-cli/config"
	"github.com/caravelhq/caravel-cli/pkg/buildinfo"
	"github.com/caravelhq/caravel-cli/pkg/logging"
)

// Global flags.
var (
	outputFormat string
	debug        bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "caravel",
	Short: "Caravel CLI - freight document resolution engine",
	Long: `caravel turns a stream of freight messages (booking confirmations,
BLs, shipping instructions, arrival notices) into shipments with merged,
provenance-tracked fields and an inferred workflow state.

COMMON WORKFLOWS:
  Import documents:  caravel ingest ./export/  ->  caravel workers
  Inspect results:   caravel shipments list  |  caravel shipments show <id>
  Recover orphans:   caravel orphans list  ->  caravel orphans retry
  Bulk recompute:    caravel reclassify  |  caravel rebuild
  First-time setup:  caravel db migrate  ->  caravel auth set

DISCOVERY:
  caravel <command> --help   Subcommands, flags, and examples
  caravel db health          Database connectivity check
  caravel jobs               Recent batch jobs and resume cursors`,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		if c.Name() == "version" || c.Name() == "help" || c.Name() == "completion" {
			return nil
		}

		// Flag overrides travel through the environment so every
		// config.LoadConfig call sees them.
		if outputFormat != "" {
			if !config.OutputFormat(outputFormat).IsValid() {
				return fmt.Errorf("invalid output format %q (must be text, json, or yaml)", outputFormat)
			}
			os.Setenv("CARAVEL_OUTPUT_FORMAT", outputFormat)
		}
		if debug {
			os.Setenv("CARAVEL_DEBUG", "true")
		}

		level := logging.LevelInfo
		if debug || os.Getenv("CARAVEL_DEBUG") == "true" {
			level = logging.LevelDebug
		}
		logging.SetGlobal(logging.NewLogger(&logging.Config{
			Level:       level,
			ServiceName: "caravel",
			Environment: os.Getenv("CARAVEL_ENV"),
			JSONFormat:  false,
			Output:      os.Stderr,
		}))
		return nil
	},
}

// Version command flags.
var versionOutputJSON bool

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of the caravel CLI.

Examples:
  caravel version
  caravel version --output json`,
	RunE: func(c *cobra.Command, args []string) error {
		info := buildinfo.Get("caravel")
		if versionOutputJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}
		fmt.Printf("caravel %s\n", buildinfo.String())
		fmt.Printf("go: %s\n", info.GoVersion)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "", "output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	versionCmd.Flags().BoolVar(&versionOutputJSON, "output-json", false, "Output as JSON")
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddGroup(
		&cobra.Group{ID: "pipeline", Title: "Pipeline:"},
		&cobra.Group{ID: "inspect", Title: "Inspection:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
	)

	ingestCmd := cmd.NewIngestCommand(nil)
	ingestCmd.GroupID = "pipeline"
	workersCmd := cmd.NewWorkersCommand(nil)
	workersCmd.GroupID = "pipeline"
	processCmd := cmd.NewProcessCommand(nil)
	processCmd.GroupID = "pipeline"
	reclassifyCmd := cmd.NewReclassifyCommand(nil)
	reclassifyCmd.GroupID = "pipeline"
	rebuildCmd := cmd.NewRebuildCommand(nil)
	rebuildCmd.GroupID = "pipeline"

	shipmentsCmd := cmd.NewShipmentsCommand(nil)
	shipmentsCmd.GroupID = "inspect"
	orphansCmd := cmd.NewOrphansCommand(nil)
	orphansCmd.GroupID = "inspect"
	rulesCmd := cmd.NewRulesCommand(nil)
	rulesCmd.GroupID = "inspect"
	jobsCmd := cmd.NewJobsCommand(nil)
	jobsCmd.GroupID = "inspect"

	dbCmd := cmd.NewDbCommand(nil)
	dbCmd.GroupID = "ops"
	authCmd := cmd.NewAuthCommand()
	authCmd.GroupID = "ops"

	rootCmd.AddCommand(
		ingestCmd, workersCmd, processCmd, reclassifyCmd, rebuildCmd,
		shipmentsCmd, orphansCmd, rulesCmd, jobsCmd,
		dbCmd, authCmd,
	)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down...")
		cancel()
		// A second signal skips the graceful drain.
		<-sigChan
		os.Exit(1)
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/caravelhq/caravel-cli/config"
	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/entities"
	"github.com/caravelhq/caravel-cli/pkg/identifiers"
	"github.com/caravelhq/caravel-cli/pkg/shipments"
)

// Shipments command flags.
var (
	shipmentsLimit   int
	shipmentsAfter   int64
	shipmentsFind    string
	shipmentsOutput  string
	shipmentShowDocs bool
)

// ShipmentsCommandDeps holds the dependencies for shipment commands.
type ShipmentsCommandDeps struct {
	LoadConfig  func() (*config.Config, error)
	ConnectToDB func(context.Context, *config.Config) (*pgxpool.Pool, error)
}

// DefaultShipmentsDeps returns the default dependencies for production use.
func DefaultShipmentsDeps() *ShipmentsCommandDeps {
	return &ShipmentsCommandDeps{
		LoadConfig:  config.LoadConfig,
		ConnectToDB: connectDatabase,
	}
}

// NewShipmentsCommand creates the shipments command group.
func NewShipmentsCommand(deps *ShipmentsCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultShipmentsDeps()
	}

	cmd := &cobra.Command{
		Use:     "shipments",
		Aliases: []string{"shipment", "ship"},
		Short:   "Inspect shipments and their merged state",
		Long: `Inspect shipments assembled from processed documents.

Each shipment carries its identifiers (booking number, BL number,
container numbers), merged fields with per-field provenance, and the
inferred workflow state.

Commands:
  list  - List shipments, optionally filtered by identifier
  show  - Show one shipment with field provenance and linked documents`,
	}

	cmd.AddCommand(newShipmentsListCmd(deps))
	cmd.AddCommand(newShipmentsShowCmd(deps))

	return cmd
}

// newShipmentsListCmd creates the 'shipments list' subcommand.
func newShipmentsListCmd(deps *ShipmentsCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List shipments",
		Long: `List shipments in id order.

With --find, looks up shipments by identifier instead: the value is
normalized and tried as a booking number, BL number, and container
number, in that order.

Examples:
  # Most recent shipments
  caravel shipments list

  # Page through a large table
  caravel shipments list --after 200 --limit 50

  # Find by any identifier
  caravel shipments list --find MAEU263714007`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShipmentsList(cmd.Context(), deps)
		},
	}

	cmd.Flags().IntVar(&shipmentsLimit, "limit", 50, "Maximum shipments to list")
	cmd.Flags().Int64Var(&shipmentsAfter, "after", 0, "List shipments with id greater than this")
	cmd.Flags().StringVar(&shipmentsFind, "find", "", "Look up by booking, BL, or container number")
	cmd.Flags().StringVarP(&shipmentsOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// newShipmentsShowCmd creates the 'shipments show' subcommand.
func newShipmentsShowCmd(deps *ShipmentsCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <shipment-id>",
		Short: "Show one shipment with field provenance",
		Long: `Show one shipment: identifiers, workflow state, and every merged
field with the document type and authority level it came from.

With --documents, also lists the linked documents and what each one
matched on.

Examples:
  caravel shipments show 17
  caravel shipments show 17 --documents
  caravel shipments show 17 --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid shipment id %q", args[0])
			}
			return runShipmentsShow(cmd.Context(), deps, id)
		},
	}

	cmd.Flags().BoolVar(&shipmentShowDocs, "documents", false, "Include linked documents")
	cmd.Flags().StringVarP(&shipmentsOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// runShipmentsList executes the shipments list command.
func runShipmentsList(ctx context.Context, deps *ShipmentsCommandDeps) error {
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
	repo := shipments.NewRepository(pool)

	var list []*shipments.Shipment
	if shipmentsFind != "" {
		list, err = findByIdentifier(ctx, repo, shipmentsFind)
	} else {
		list, err = repo.ListPage(ctx, shipmentsAfter, shipmentsLimit)
	}
	if err != nil {
		return err
	}

	switch resolveOutputFormat(cfg, shipmentsOutput) {
	case config.OutputFormatJSON:
		return outputJSON(list)
	case config.OutputFormatYAML:
		return outputYAML(list)
	default:
		printShipmentsTable(list)
		return nil
	}
}

// findByIdentifier tries the lookup cascade used by the linker: booking
// number, then BL number, then container number. Stored identifiers are
// normalized, so the input is normalized per kind before each probe.
func findByIdentifier(ctx context.Context, repo *shipments.Repository, raw string) ([]*shipments.Shipment, error) {
	if v, ok := identifiers.Normalize(raw, identifiers.KindBooking); ok {
		if list, err := repo.FindByBookingNumber(ctx, v); err != nil {
			return nil, err
		} else if len(list) > 0 {
			return list, nil
		}
	}
	if v, ok := identifiers.Normalize(raw, identifiers.KindBL); ok {
		if list, err := repo.FindByBLNumber(ctx, v); err != nil {
			return nil, err
		} else if len(list) > 0 {
			return list, nil
		}
	}
	if v, ok := identifiers.Normalize(raw, identifiers.KindContainer); ok {
		return repo.FindByContainerNumber(ctx, v)
	}
	return nil, nil
}

// shipmentDetail is the show command's output document.
type shipmentDetail struct {
	Shipment  *shipments.Shipment `json:"shipment" yaml:"shipment"`
	Links     []shipments.Link    `json:"links,omitempty" yaml:"links,omitempty"`
	Documents []*docs.Document    `json:"documents,omitempty" yaml:"documents,omitempty"`
}

// runShipmentsShow executes the shipments show command.
func runShipmentsShow(ctx context.Context, deps *ShipmentsCommandDeps, id int64) error {
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

	repo := shipments.NewRepository(pool)
	shipment, err := repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	detail := shipmentDetail{Shipment: shipment}
	if shipmentShowDocs {
		links, err := repo.ListLinksByShipment(ctx, id)
		if err != nil {
			return err
		}
		detail.Links = links
		ids := make([]int64, 0, len(links))
		for _, l := range links {
			ids = append(ids, l.DocumentID)
		}
		if len(ids) > 0 {
			documents, err := docs.NewRepository(pool).ListByIDs(ctx, ids)
			if err != nil {
				return err
			}
			detail.Documents = documents
		}
	}

	switch resolveOutputFormat(cfg, shipmentsOutput) {
	case config.OutputFormatJSON:
		return outputJSON(detail)
	case config.OutputFormatYAML:
		return outputYAML(detail)
	default:
		printShipmentDetail(detail)
		return nil
	}
}

// printShipmentsTable renders shipments for terminal display.
func printShipmentsTable(list []*shipments.Shipment) {
	if len(list) == 0 {
		fmt.Println("No shipments found.")
		return
	}
	fmt.Println("ID      BOOKING          BL               CONTAINERS  STATE                 UPDATED")
	fmt.Println("--      -------          --               ----------  -----                 -------")
	for _, s := range list {
		fmt.Printf("%-7d %-16s %-16s %-11d %-21s %s\n",
			s.ID,
			orDash(s.BookingNumber),
			orDash(s.BLNumber),
			len(s.ContainerNumbers),
			s.WorkflowState,
			s.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
}

// printShipmentDetail renders one shipment with provenance.
func printShipmentDetail(detail shipmentDetail) {
	s := detail.Shipment
	fmt.Printf("Shipment %d\n", s.ID)
	fmt.Printf("  Booking:    %s\n", orDash(s.BookingNumber))
	fmt.Printf("  BL:         %s\n", orDash(s.BLNumber))
	if len(s.ContainerNumbers) > 0 {
		fmt.Printf("  Containers: %s\n", strings.Join(s.ContainerNumbers, ", "))
	}
	fmt.Printf("  State:      %s (since %s)\n", s.WorkflowState, s.WorkflowStateUpdatedAt.Format("2006-01-02 15:04"))

	if len(s.Fields) > 0 {
		fmt.Println("  Fields:")
		types := make([]string, 0, len(s.Fields))
		for t := range s.Fields {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			slot := s.Fields[entities.Type(t)]
			fmt.Printf("    %-22s %-28s from %s (level %d)\n",
				t, truncateString(slot.Value, 28), slot.SourceDocumentType, slot.AuthorityLevel)
		}
	}

	if len(detail.Links) > 0 {
		byID := make(map[int64]*docs.Document, len(detail.Documents))
		for _, d := range detail.Documents {
			byID[d.ID] = d
		}
		fmt.Printf("  Documents (%d):\n", len(detail.Links))
		for _, l := range detail.Links {
			label := "?"
			if d, ok := byID[l.DocumentID]; ok {
				label = fmt.Sprintf("%s  %s", d.DocumentType, truncateString(d.Subject, 40))
			}
			fmt.Printf("    %-7d %-50s matched %s=%s\n", l.DocumentID, label, l.MatchedBy, l.MatchedValue)
		}
	}
}

// orDash substitutes a dash for empty table cells.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

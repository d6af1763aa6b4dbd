package cmd

import (
	"errors"
	"testing"

	"github.com/spf13/cobra"

	"github.com/caravelhq/caravel-cli/config"
	"github.com/caravelhq/caravel-cli/pkg/db"
	"github.com/caravelhq/caravel-cli/pkg/queues"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    queues.Priority
		wantErr bool
	}{
		{"low", queues.PriorityLow, false},
		{"normal", queues.PriorityNormal, false},
		{"", queues.PriorityNormal, false},
		{"high", queues.PriorityHigh, false},
		{"urgent", 0, true},
	}
	for _, tt := range tests {
		got, err := parsePriority(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parsePriority(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parsePriority(%q) unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("parsePriority(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestResolveOutputFormat(t *testing.T) {
	cfg := &config.Config{OutputFormat: config.OutputFormatText}

	if got := resolveOutputFormat(cfg, ""); got != config.OutputFormatText {
		t.Errorf("no override: got %q, want text", got)
	}
	if got := resolveOutputFormat(cfg, "json"); got != config.OutputFormatJSON {
		t.Errorf("override: got %q, want json", got)
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-ten", 11, "exactly-ten"},
		{"a very long subject line", 10, "a very ..."},
		{"abcdef", 3, "abc"},
	}
	for _, tt := range tests {
		if got := truncateString(tt.in, tt.max); got != tt.want {
			t.Errorf("truncateString(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestOrDash(t *testing.T) {
	if got := orDash(""); got != "-" {
		t.Errorf("orDash(\"\") = %q, want -", got)
	}
	if got := orDash("263714007"); got != "263714007" {
		t.Errorf("orDash kept value: got %q", got)
	}
}

func TestPoolSize(t *testing.T) {
	if got := poolSize(8, 4); got != 8 {
		t.Errorf("flag wins: got %d, want 8", got)
	}
	if got := poolSize(0, 4); got != 4 {
		t.Errorf("config fallback: got %d, want 4", got)
	}
	if got := poolSize(0, 0); got != 0 {
		t.Errorf("default: got %d, want 0", got)
	}
}

func TestHealthView(t *testing.T) {
	v := healthView(&db.HealthStatus{Healthy: false, Error: errors.New("refused")})
	if v["healthy"] != false {
		t.Error("healthy should be false")
	}
	if v["error"] != "refused" {
		t.Errorf("error = %v, want refused", v["error"])
	}

	v = healthView(&db.HealthStatus{Healthy: true})
	if _, ok := v["error"]; ok {
		t.Error("healthy view should omit error")
	}
}

func TestCommandConstruction(t *testing.T) {
	// Commands must build with nil deps and register their flags.
	tests := []struct {
		name  string
		use   string
		flags []string
	}{
		{"ingest", "ingest <path>", []string{"dry-run", "force", "concurrency", "priority"}},
		{"workers", "workers", []string{"document-workers", "relink-workers", "metrics-addr"}},
		{"process", "process <document-id>", []string{"reclassify"}},
		{"reclassify", "reclassify", []string{"resume", "page-size"}},
		{"rebuild", "rebuild [shipment-id]", []string{"resume", "page-size"}},
		{"jobs", "jobs", []string{"kind", "limit"}},
	}

	builders := map[string]func() *cobra.Command{
		"ingest":     func() *cobra.Command { return NewIngestCommand(nil) },
		"workers":    func() *cobra.Command { return NewWorkersCommand(nil) },
		"process":    func() *cobra.Command { return NewProcessCommand(nil) },
		"reclassify": func() *cobra.Command { return NewReclassifyCommand(nil) },
		"rebuild":    func() *cobra.Command { return NewRebuildCommand(nil) },
		"jobs":       func() *cobra.Command { return NewJobsCommand(nil) },
	}

	for _, tt := range tests {
		cmd := builders[tt.name]()
		if cmd.Use != tt.use {
			t.Errorf("%s: Use = %q, want %q", tt.name, cmd.Use, tt.use)
		}
		for _, flag := range tt.flags {
			if cmd.Flags().Lookup(flag) == nil {
				t.Errorf("%s: missing flag --%s", tt.name, flag)
			}
		}
	}
}

func TestGroupCommandsHaveSubcommands(t *testing.T) {
	tests := []struct {
		use  string
		subs []string
		cmd  *cobra.Command
	}{
		{"shipments", []string{"list", "show"}, NewShipmentsCommand(nil)},
		{"orphans", []string{"list", "retry"}, NewOrphansCommand(nil)},
		{"rules", []string{"list", "set", "delete"}, NewRulesCommand(nil)},
		{"db", []string{"migrate", "status", "health"}, NewDbCommand(nil)},
		{"auth", []string{"set", "show", "clear"}, NewAuthCommand()},
	}

	for _, tt := range tests {
		if tt.cmd.Use != tt.use {
			t.Errorf("Use = %q, want %q", tt.cmd.Use, tt.use)
		}
		for _, sub := range tt.subs {
			found := false
			for _, c := range tt.cmd.Commands() {
				if c.Name() == sub {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("%s: missing subcommand %q", tt.use, sub)
			}
		}
	}
}

package db

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func collectDescs(c *PoolStatsCollector) []*prometheus.Desc {
	ch := make(chan *prometheus.Desc, 10)
	go func() {
		c.Describe(ch)
		close(ch)
	}()

	var descs []*prometheus.Desc
	for d := range ch {
		descs = append(descs, d)
	}
	return descs
}

func TestPoolStatsCollector_Describe(t *testing.T) {
	descs := collectDescs(NewPoolStatsCollector(nil, "caravel", "caravel-workers"))
	if len(descs) != 4 {
		t.Fatalf("descriptors: got %d, want 4", len(descs))
	}

	wantNames := []string{
		"caravel_db_pool_total_conns",
		"caravel_db_pool_idle_conns",
		"caravel_db_pool_acquired_conns",
		"caravel_db_pool_max_conns",
	}
	for i, d := range descs {
		if !strings.Contains(d.String(), wantNames[i]) {
			t.Errorf("descriptor %d: want %s in %s", i, wantNames[i], d.String())
		}
	}
}

func TestPoolStatsCollector_ServiceLabel(t *testing.T) {
	for _, d := range collectDescs(NewPoolStatsCollector(nil, "caravel", "caravel-workers")) {
		if !strings.Contains(d.String(), `service="caravel-workers"`) {
			t.Errorf("descriptor missing service label: %s", d.String())
		}
	}
}

func TestPoolStatsCollector_Collect_NilPool(t *testing.T) {
	collector := NewPoolStatsCollector(nil, "caravel", "caravel-workers")

	ch := make(chan prometheus.Metric, 10)
	go func() {
		collector.Collect(ch)
		close(ch)
	}()

	count := 0
	for range ch {
		count++
	}
	if count != 0 {
		t.Errorf("nil pool produced %d metrics, want 0", count)
	}
}

func TestRegisterPoolStatsCollectorWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	collector, err := RegisterPoolStatsCollectorWithRegistry(nil, "caravel", "caravel-workers", reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if collector == nil {
		t.Fatal("register returned nil collector")
	}

	// Gathering with a nil pool yields no samples but must not fail.
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather: %v", err)
	}
}

func TestRegisterPoolStatsCollector_DoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()

	if _, err := RegisterPoolStatsCollectorWithRegistry(nil, "caravel", "caravel-workers", reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := RegisterPoolStatsCollectorWithRegistry(nil, "caravel", "caravel-workers", reg); err != nil {
		t.Fatalf("second register must be tolerated: %v", err)
	}
}

func TestPoolStatsCollector_Lint(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewPoolStatsCollector(nil, "caravel", "caravel-workers"))
	if err != nil {
		t.Fatalf("CollectAndLint: %v", err)
	}
	for _, p := range problems {
		t.Errorf("lint: %s", p.Text)
	}
}

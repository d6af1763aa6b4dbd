package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/caravelhq/caravel-cli/config"
	"github.com/caravelhq/caravel-cli/pkg/buildinfo"
	"github.com/caravelhq/caravel-cli/pkg/db"
	"github.com/caravelhq/caravel-cli/pkg/logging"
	"github.com/caravelhq/caravel-cli/pkg/observability"
	"github.com/caravelhq/caravel-cli/pkg/queues"
	"github.com/caravelhq/caravel-cli/pkg/workers"
)

// Workers command flags.
var (
	workersDocumentCount int
	workersRelinkCount   int
	workersMetricsAddr   string
)

// recoveryInterval is how often stale in-flight messages are swept back
// onto their queues.
const recoveryInterval = 30 * time.Second

// queueDepthInterval is how often queue depth gauges are refreshed.
const queueDepthInterval = 15 * time.Second

// WorkersCommandDeps holds the dependencies for the workers command.
type WorkersCommandDeps struct {
	LoadConfig   func() (*config.Config, error)
	ConnectToDB  func(context.Context, *config.Config) (*pgxpool.Pool, error)
	ConnectRedis func(context.Context, *config.Config) (*redis.Client, error)
}

// DefaultWorkersDeps returns the default dependencies for production use.
func DefaultWorkersDeps() *WorkersCommandDeps {
	return &WorkersCommandDeps{
		LoadConfig:   config.LoadConfig,
		ConnectToDB:  connectDatabase,
		ConnectRedis: connectRedis,
	}
}

// NewWorkersCommand creates the workers command.
func NewWorkersCommand(deps *WorkersCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultWorkersDeps()
	}

	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Run the background processing pools",
		Long: `Run the document and relink worker pools until interrupted.

Document workers dequeue imported documents and run them through the full
pipeline. Relink workers react to shipments gaining identifiers by
retrying orphaned documents that carry the same identifier.

Stale in-flight messages (from workers that died mid-processing) are
recovered back onto their queues periodically. When a metrics address is
configured, Prometheus metrics are served on /metrics and build info on
/version. Worker logs are persisted to the processing_logs table for
after-the-fact queries.

Stop with Ctrl-C or SIGTERM; in-flight documents are drained before exit.

Examples:
  # Run with configured pool sizes
  caravel workers

  # Override pool sizes
  caravel workers --document-workers 8 --relink-workers 4

  # Serve metrics on a custom address
  caravel workers --metrics-addr :9105`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkers(cmd.Context(), deps)
		},
	}

	cmd.Flags().IntVar(&workersDocumentCount, "document-workers", 0, "Document pool size (overrides config)")
	cmd.Flags().IntVar(&workersRelinkCount, "relink-workers", 0, "Relink pool size (overrides config)")
	cmd.Flags().StringVar(&workersMetricsAddr, "metrics-addr", "", "Metrics listen address (overrides config)")

	return cmd
}

// runWorkers executes the workers command. It returns when ctx is
// cancelled and the pools have drained.
func runWorkers(ctx context.Context, deps *WorkersCommandDeps) error {
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

	// In container deployments the workers can come up before Postgres
	// finishes accepting connections.
	waitCtx, cancelWait := context.WithTimeout(ctx, 30*time.Second)
	err = db.WaitForReady(waitCtx, pool, time.Second)
	cancelWait()
	if err != nil {
		return fmt.Errorf("waiting for database: %w", err)
	}

	// Worker logs also land in processing_logs so operators can query
	// them after the fact. The sink is async and drops on overflow, so a
	// slow database never stalls a worker.
	sink := logging.NewDBSink(logging.DBSinkConfig{Writer: db.NewLogWriter(pool)})
	defer sink.Close()
	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{
		Level:       level,
		ServiceName: "caravel-workers",
		Environment: os.Getenv("CARAVEL_ENV"),
		Output:      os.Stderr,
		Sinks:       []logging.Sink{sink},
	})
	logging.SetGlobal(logger)

	client, err := deps.ConnectRedis(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer client.Close()

	docQueue := openQueue(client, queues.QueueDocuments)
	relinkQueue := openQueue(client, queues.QueueRelink)

	metrics := observability.NewPipelineMetrics(prometheus.DefaultRegisterer)
	if _, err := db.RegisterPoolStatsCollector(pool, "caravel", "caravel-workers"); err != nil {
		return fmt.Errorf("registering pool metrics: %w", err)
	}
	pipe := buildPipeline(cfg, creds, pool, relinkQueue, metrics, logger)

	configs := workers.DefaultWorkerConfigs()
	docCfg := configs[workers.WorkerTypeDocument]
	if n := poolSize(workersDocumentCount, cfg.Workers.DocumentWorkers); n > 0 {
		docCfg.Count = n
	}
	relinkCfg := configs[workers.WorkerTypeRelink]
	if n := poolSize(workersRelinkCount, cfg.Workers.RelinkWorkers); n > 0 {
		relinkCfg.Count = n
	}

	manager := workers.NewPoolManager()
	manager.RegisterPool(workers.NewPool(docCfg, docQueue, pipe.HandleMessage, logger))
	manager.RegisterPool(workers.NewPool(relinkCfg, relinkQueue, pipe.HandleMessage, logger))

	metricsAddr := workersMetricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.Workers.MetricsAddr
	}
	var metricsSrv *http.Server
	if metricsAddr != "" {
		metricsSrv = startMetricsServer(metricsAddr, logger)
	}

	manager.StartAll()
	logger.Info("worker pools started",
		logging.F("document_workers", docCfg.Count),
		logging.F("relink_workers", relinkCfg.Count),
	)

	go recoverStaleLoop(ctx, []*queues.RedisQueue{docQueue, relinkQueue}, logger)
	go queueDepthLoop(ctx, metrics, []*queues.RedisQueue{docQueue, relinkQueue}, logger)

	<-ctx.Done()
	logger.Info("shutdown requested, draining pools")
	manager.StopAll()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	for workerType, stats := range manager.AllStats() {
		logger.Info("pool drained",
			logging.F("pool", string(workerType)),
			logging.F("processed", stats.Processed),
			logging.F("failed", stats.Failed),
		)
	}
	return nil
}

// poolSize picks the flag override, then config, then zero for default.
func poolSize(flagVal, cfgVal int) int {
	if flagVal > 0 {
		return flagVal
	}
	return cfgVal
}

// startMetricsServer serves /metrics and /version in the background.
func startMetricsServer(addr string, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/version", buildinfo.Handler("caravel-workers"))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("metrics listener started", logging.F("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", logging.Err(err))
		}
	}()
	return srv
}

// recoverStaleLoop periodically returns stale in-flight messages to their
// queues so crashed workers do not strand documents.
func recoverStaleLoop(ctx context.Context, qs []*queues.RedisQueue, logger logging.Logger) {
	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range qs {
				if err := q.RecoverStaleMessages(); err != nil {
					logger.Warn("stale message recovery failed",
						logging.Err(err),
						logging.F("queue", q.Name()),
					)
				}
			}
		}
	}
}

// queueDepthLoop refreshes the per-queue depth gauges.
func queueDepthLoop(ctx context.Context, metrics *observability.PipelineMetrics, qs []*queues.RedisQueue, logger logging.Logger) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range qs {
				depth, err := q.Depth()
				if err != nil {
					logger.Debug("queue depth probe failed",
						logging.Err(err),
						logging.F("queue", q.Name()),
					)
					continue
				}
				metrics.SetQueueDepth(q.Name(), float64(depth))
			}
		}
	}
}

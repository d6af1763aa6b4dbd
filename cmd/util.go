// Package cmd provides CLI commands for the caravel tool.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/caravelhq/caravel-cli/config"
	"github.com/caravelhq/caravel-cli/credentials"
	"github.com/caravelhq/caravel-cli/pkg/ai"
	"github.com/caravelhq/caravel-cli/pkg/attachtext"
	"github.com/caravelhq/caravel-cli/pkg/authority"
	"github.com/caravelhq/caravel-cli/pkg/db"
	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/docs/classify"
	"github.com/caravelhq/caravel-cli/pkg/entities"
	"github.com/caravelhq/caravel-cli/pkg/logging"
	"github.com/caravelhq/caravel-cli/pkg/observability"
	"github.com/caravelhq/caravel-cli/pkg/pipeline"
	"github.com/caravelhq/caravel-cli/pkg/queues"
	"github.com/caravelhq/caravel-cli/pkg/shipments"
)

// getEnvOrDefault returns environment variable value or default.
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// overlayCredentials fills in secrets the config file deliberately omits.
// Stored credentials lose to environment variables, which lose to values
// already present in the config.
func overlayCredentials(cfg *config.Config) *credentials.Credentials {
	store, err := credentials.NewStore()
	if err != nil {
		return nil
	}
	creds, err := store.GetActiveCredentials()
	if err != nil {
		if !errors.Is(err, credentials.ErrNoCredentials) {
			logging.MustGlobal().Warn("credential store unreadable", logging.Err(err))
		}
		return nil
	}
	if cfg.Database != nil && cfg.Database.Password == "" {
		cfg.Database.Password = creds.DBPassword
	}
	if cfg.Redis.Password == "" {
		cfg.Redis.Password = creds.RedisPassword
	}
	return creds
}

// connectDatabase establishes a database connection pool.
func connectDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}

// connectRedis establishes a Redis connection.
func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("testing redis connection: %w", err)
	}
	return client, nil
}

// openQueue builds the named queue over an established Redis client, using
// the shipped per-queue defaults.
func openQueue(client *redis.Client, name string) *queues.RedisQueue {
	qcfg, ok := queues.DefaultQueueConfigs()[name]
	if !ok {
		qcfg = queues.QueueConfig{Name: name}
	}
	return queues.NewRedisQueue(client, qcfg)
}

// buildPipeline wires the full document pipeline over established
// connections. relinkQueue may be nil for one-shot commands that do not
// need the relink trigger; merge then skips the notification and the
// orphan sweep covers the gap.
func buildPipeline(cfg *config.Config, creds *credentials.Credentials, pool *pgxpool.Pool, relinkQueue queues.Queue, metrics *observability.PipelineMetrics, logger logging.Logger) *pipeline.Pipeline {
	var storedKey string
	if creds != nil {
		storedKey = creds.AIAPIKey
	}
	apiKey := getEnvOrDefault("CARAVEL_AI_API_KEY", storedKey)
	aiClient := ai.NewClient(ai.Config{
		APIKey:              apiKey,
		Model:               cfg.AI.Model,
		BaseURL:             cfg.AI.BaseURL,
		RequestTimeout:      cfg.AI.RequestTimeout,
		MinEntityConfidence: cfg.AI.MinEntityConfidence,
	}, logger)

	carrierDomains := make(map[string]string, len(classify.DefaultCarrierDomains)+len(cfg.Classify.ExtraCarrierDomains))
	for domain, carrier := range classify.DefaultCarrierDomains {
		carrierDomains[domain] = carrier
	}
	for domain, carrier := range cfg.Classify.ExtraCarrierDomains {
		carrierDomains[domain] = carrier
	}
	domains := classify.NewDomainSet(carrierDomains, cfg.Classify.OwnDomains)
	classifier := classify.New(domains, aiClient, logger, classify.WithThreshold(cfg.Classify.Threshold))

	var attachments pipeline.AttachmentTexts
	if cfg.Attachments.IsConfigured() {
		store, err := attachtext.NewMinIOStore(attachtext.Config{
			Endpoint:  cfg.Attachments.Endpoint,
			AccessKey: cfg.Attachments.AccessKey,
			SecretKey: cfg.Attachments.SecretKey,
			Bucket:    cfg.Attachments.Bucket,
			UseSSL:    cfg.Attachments.UseSSL,
		}, logger)
		if err != nil {
			logger.Warn("attachment store unavailable, classifying from body text only", logging.Err(err))
		} else {
			attachments = store
		}
	}

	var relink pipeline.RelinkTrigger
	if relinkQueue != nil {
		relink = queues.NewRelinkEnqueuer(relinkQueue, logger)
	}

	cache := authority.NewCache(authority.NewRepository(pool), cfg.RuleCacheTTL)
	return pipeline.New(pipeline.Config{
		Documents:   docs.NewRepository(pool),
		Shipments:   shipments.NewRepository(pool),
		Classifier:  classifier,
		Extractor:   aiClient,
		Attachments: attachments,
		Audit:       entities.NewAuditRepository(pool),
		Resolver:    authority.NewResolver(cache, logger),
		Metrics:     metrics,
		Relink:      relink,
		Logger:      logger,
	})
}

// resolveOutputFormat applies a per-command --output override on top of the
// configured default.
func resolveOutputFormat(cfg *config.Config, override string) config.OutputFormat {
	if override != "" {
		return config.OutputFormat(override)
	}
	return cfg.OutputFormat
}

// outputJSON writes v as indented JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputYAML writes v as YAML to stdout.
func outputYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(v)
}

// truncateString shortens s to max runes with an ellipsis for table cells.
func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// Package ai wraps the external model service used for document
// classification and entity extraction. Every call is bounded (excerpt
// truncation, request timeout) and goes through a circuit breaker, and every
// response is schema-validated before anything downstream trusts it.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/docs/classify"
	"github.com/caravelhq/caravel-cli/pkg/entities"
	"github.com/caravelhq/caravel-cli/pkg/logging"
)

const (
	DefaultModel = "gpt-4o-mini"

	// DefaultRequestTimeout bounds a single model call. Only external AI
	// calls carry timeouts; a timeout degrades the one document, never
	// the batch.
	DefaultRequestTimeout = 20 * time.Second

	// DefaultMaxExcerptBytes bounds the body text sent to the model.
	DefaultMaxExcerptBytes = 8192

	// DefaultMinEntityConfidence drops low-confidence extracted entities
	// before they ever reach aggregation.
	DefaultMinEntityConfidence = 50
)

// Config holds the model service settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	RequestTimeout      time.Duration
	MaxExcerptBytes     int
	MinEntityConfidence int
}

// Client talks to the model service.
type Client struct {
	api           *openai.Client
	cb            *gobreaker.CircuitBreaker
	model         string
	timeout       time.Duration
	maxExcerpt    int
	minConfidence int
	logger        logging.Logger
}

// Verify interface compliance.
var _ classify.AIClassifier = (*Client)(nil)

// NewClient creates a model service client.
func NewClient(cfg Config, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxExcerptBytes <= 0 {
		cfg.MaxExcerptBytes = DefaultMaxExcerptBytes
	}
	if cfg.MinEntityConfidence <= 0 {
		cfg.MinEntityConfidence = DefaultMinEntityConfidence
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	cbSettings := gobreaker.Settings{
		Name:     "ai-model",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				logging.F("breaker", name),
				logging.F("from", from.String()),
				logging.F("to", to.String()),
			)
		},
	}

	return &Client{
		api:           openai.NewClientWithConfig(apiCfg),
		cb:            gobreaker.NewCircuitBreaker(cbSettings),
		model:         cfg.Model,
		timeout:       cfg.RequestTimeout,
		maxExcerpt:    cfg.MaxExcerptBytes,
		minConfidence: cfg.MinEntityConfidence,
		logger:        logger,
	}
}

// classificationResponse is the model's schema-validated classification
// answer.
type classificationResponse struct {
	DocumentType string `json:"document_type"`
	Confidence   int    `json:"confidence"`
	Reasoning    string `json:"reasoning,omitempty"`
}

// extractionResponse is the model's schema-validated extraction answer.
type extractionResponse struct {
	Entities []struct {
		EntityType string `json:"entity_type"`
		Value      string `json:"value"`
		Confidence int    `json:"confidence"`
	} `json:"entities"`
}

// ClassifyDocument asks the model for a document type from the closed set.
func (c *Client) ClassifyDocument(ctx context.Context, req classify.AIRequest) (classify.AIResult, error) {
	req.BodyExcerpt = truncate(req.BodyExcerpt, c.maxExcerpt)

	user, err := json.Marshal(req)
	if err != nil {
		return classify.AIResult{}, fmt.Errorf("encoding classification request: %w", err)
	}

	start := time.Now()
	raw, err := c.complete(ctx, classifySystemPrompt, string(user))
	if err != nil {
		return classify.AIResult{}, err
	}

	var resp classificationResponse
	if err := validateResponse(classificationSchema(), []byte(raw), &resp); err != nil {
		return classify.AIResult{}, fmt.Errorf("classification response: %w", err)
	}

	c.logger.Debug("ai classification completed",
		logging.F("document_type", resp.DocumentType),
		logging.F("confidence", resp.Confidence),
		logging.F("duration_ms", time.Since(start).Milliseconds()),
	)

	return classify.AIResult{
		DocumentType: resp.DocumentType,
		Confidence:   resp.Confidence,
		Reasoning:    resp.Reasoning,
	}, nil
}

// Extract asks the model for raw entities from a text segment. Entities with
// unknown types or confidence below the configured minimum are dropped, not
// errors.
func (c *Client) Extract(ctx context.Context, text string, docTypeHint docs.Type) ([]entities.RawEntity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	user, err := json.Marshal(map[string]string{
		"document_type_hint": string(docTypeHint),
		"text":               truncate(text, c.maxExcerpt),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding extraction request: %w", err)
	}

	raw, err := c.complete(ctx, extractSystemPrompt, string(user))
	if err != nil {
		return nil, err
	}

	var resp extractionResponse
	if err := validateResponse(extractionSchema(), []byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("extraction response: %w", err)
	}

	out := make([]entities.RawEntity, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		entityType := entities.Type(e.EntityType)
		if !knownEntityTypes[entityType] {
			c.logger.Debug("dropping unknown entity type",
				logging.F("entity_type", e.EntityType),
			)
			continue
		}
		if e.Confidence < c.minConfidence {
			continue
		}
		out = append(out, entities.RawEntity{
			Type:       entityType,
			Value:      e.Value,
			Confidence: e.Confidence,
		})
	}
	return out, nil
}

// complete runs one chat completion through the breaker with the request
// timeout applied.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.cb.Execute(func() (interface{}, error) {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("model returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// knownEntityTypes is the closed extraction set.
var knownEntityTypes = func() map[entities.Type]bool {
	set := make(map[entities.Type]bool, len(entities.ScalarTypes)+1)
	for _, t := range entities.ScalarTypes {
		set[t] = true
	}
	set[entities.TypeContainerNumber] = true
	return set
}()

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

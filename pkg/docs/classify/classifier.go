package classify

import (
	"context"

	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/logging"
)

// AIClassifier is the external classification collaborator consulted when
// deterministic rules are inconclusive. Implementations must bound the input
// (excerpt, not full body) and enforce a request timeout.
type AIClassifier interface {
	ClassifyDocument(ctx context.Context, req AIRequest) (AIResult, error)
}

// AIRequest is the bounded input sent to the AI collaborator.
type AIRequest struct {
	Subject         string   `json:"subject"`
	Sender          string   `json:"sender"`
	BodyExcerpt     string   `json:"body_excerpt"`
	AttachmentNames []string `json:"attachment_filenames"`
}

// AIResult is the structured answer expected back.
type AIResult struct {
	DocumentType string `json:"document_type"`
	Confidence   int    `json:"confidence"`
	Reasoning    string `json:"reasoning"`
}

// Classifier runs the two-stage classification state machine:
// Unclassified -> PatternMatched (confidence >= threshold) -> Final, or
// Unclassified -> AIClassified -> Final.
type Classifier struct {
	domains   *DomainSet
	ai        AIClassifier
	threshold int
	logger    logging.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithThreshold overrides the pattern confidence threshold.
func WithThreshold(threshold int) Option {
	return func(c *Classifier) {
		c.threshold = threshold
	}
}

// New creates a Classifier. ai may be nil, in which case sub-threshold
// documents degrade straight to general_correspondence.
func New(domains *DomainSet, ai AIClassifier, logger logging.Logger, opts ...Option) *Classifier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	c := &Classifier{
		domains:   domains,
		ai:        ai,
		threshold: DefaultThreshold,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify assigns type, direction, and thread role to msg. It never fails:
// inconclusive classification degrades to general_correspondence with
// confidence 0 and the document can be reclassified by a later run.
//
// The same inputs always produce the same (type, direction, confidence):
// rules are pure, and AI answers outside the closed type set are discarded
// rather than trusted.
func (c *Classifier) Classify(ctx context.Context, msg *Message) Classification {
	thread := DetectThread(msg.Subject)
	direction := c.domains.Direction(msg.Sender)

	result := Classification{
		Direction:  direction,
		ThreadRole: docs.ThreadRole(thread.Role),
	}

	// Replies and forwards whose current segment is pure quoted history
	// carry nothing new to classify; re-treating their quoted subject as
	// a fresh primary document would double-count the original.
	if thread.Role != "primary" && !HasNewContent(msg.BodyExcerpt) {
		result.DocumentType = docs.TypeGeneralCorrespondence
		result.Confidence = 0
		result.Via = ViaDefault
		c.logger.Debug("thread segment carries no new content",
			logging.F("subject", msg.Subject),
			logging.F("thread_role", thread.Role),
		)
		return result
	}

	// Stage 1: deterministic carrier-scoped rules over the clean subject.
	carrier, _ := c.domains.Carrier(msg.Sender)
	patternMsg := *msg
	patternMsg.Subject = thread.CleanSubject
	for _, rule := range RulesFor(carrier) {
		if !rule.Matches(&patternMsg) {
			continue
		}
		if rule.Confidence >= c.threshold {
			result.DocumentType = rule.DocumentType
			result.Confidence = rule.Confidence
			result.Via = rule.ID
			return result
		}
		// A sub-threshold pattern hit still goes to the AI; the rule
		// only stops the probe.
		break
	}

	// Stage 2: AI collaborator, constrained to the closed type set.
	if c.ai != nil {
		aiResult, err := c.ai.ClassifyDocument(ctx, AIRequest{
			Subject:         msg.Subject,
			Sender:          msg.Sender,
			BodyExcerpt:     msg.BodyExcerpt,
			AttachmentNames: msg.AttachmentNames,
		})
		if err == nil {
			docType := docs.Type(aiResult.DocumentType)
			if docType.Valid() {
				result.DocumentType = docType
				result.Confidence = clampConfidence(aiResult.Confidence)
				result.Via = ViaAI
				result.Reasoning = aiResult.Reasoning
				return result
			}
			c.logger.Warn("ai classifier returned out-of-set type",
				logging.F("document_type", aiResult.DocumentType),
				logging.F("subject", msg.Subject),
			)
		} else {
			// Timeouts and transport errors are classifier
			// failures, not batch failures.
			c.logger.Warn("ai classification failed",
				logging.Err(err),
				logging.F("subject", msg.Subject),
			)
		}
	}

	result.DocumentType = docs.TypeGeneralCorrespondence
	result.Confidence = 0
	result.Via = ViaDefault
	return result
}

// SenderIsCarrier reports whether msg's sender belongs to a known carrier
// domain. The workflow state machine needs this to split carrier-confirmed
// shipping instructions from shipper drafts.
func (c *Classifier) SenderIsCarrier(sender string) bool {
	return c.domains.IsCarrier(sender)
}

func clampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

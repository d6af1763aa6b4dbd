// Package pipeline orchestrates the document flow: classify, extract, link,
// merge, fold. It is the single writer for shipment state; every mutation of
// a shipment happens here, under that shipment's lock, on the authority
// resolver's or the workflow fold's say-so.
package pipeline

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/caravelhq/caravel-cli/pkg/authority"
	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/docs/classify"
	"github.com/caravelhq/caravel-cli/pkg/entities"
	cverrors "github.com/caravelhq/caravel-cli/pkg/errors"
	"github.com/caravelhq/caravel-cli/pkg/logging"
	"github.com/caravelhq/caravel-cli/pkg/observability"
	"github.com/caravelhq/caravel-cli/pkg/shipments"
	"github.com/caravelhq/caravel-cli/pkg/shipments/linker"
	"github.com/caravelhq/caravel-cli/pkg/shipments/workflow"
)

// DocumentStore is the document persistence surface the pipeline needs.
type DocumentStore interface {
	GetByID(ctx context.Context, id int64) (*docs.Document, error)
	UpdateClassification(ctx context.Context, id int64, docType docs.Type, direction docs.Direction, threadRole docs.ThreadRole, confidence int, via string) error
	UpdateRawEntities(ctx context.Context, id int64, raw map[string][]string) error
	UpdateLinkStatus(ctx context.Context, id int64, status docs.LinkStatus) error
	ListPage(ctx context.Context, afterID int64, limit int) ([]*docs.Document, error)
	ListOrphansPage(ctx context.Context, afterID int64, limit int) ([]*docs.Document, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*docs.Document, error)
}

// ShipmentStore is the shipment persistence surface the pipeline needs. It
// includes the identifier index the link cascade walks.
type ShipmentStore interface {
	linker.ShipmentIndex

	Create(ctx context.Context, s *shipments.Shipment) (*shipments.Shipment, error)
	GetByID(ctx context.Context, id int64) (*shipments.Shipment, error)
	ApplyField(ctx context.Context, id int64, entityType entities.Type, slot shipments.FieldSlot) error
	AppendContainers(ctx context.Context, id int64, containers []string) error
	ApplyWorkflowState(ctx context.Context, id int64, state workflow.State, at time.Time) error
	InsertLink(ctx context.Context, link shipments.Link) (bool, error)
	ListLinksByShipment(ctx context.Context, shipmentID int64) ([]shipments.Link, error)
}

// Extractor is the AI entity extraction collaborator.
type Extractor interface {
	Extract(ctx context.Context, text string, docTypeHint docs.Type) ([]entities.RawEntity, error)
}

// AttachmentTexts resolves previously OCR'd attachment text.
type AttachmentTexts interface {
	Text(ctx context.Context, documentID, attachmentName string) (string, bool, error)
}

// AuditStore records the entity value audit trail.
type AuditStore interface {
	RecordBatch(ctx context.Context, documentID int64, records []entities.AuditRecord) error
}

// Resolver decides field update authority.
type Resolver interface {
	Resolve(ctx context.Context, entityType entities.Type, newDocType docs.Type, newValue string, existing *authority.FieldSource) (authority.Decision, error)
}

// RelinkTrigger receives notifications that the shipment index changed and
// orphans may now link.
type RelinkTrigger interface {
	TriggerRelink(shipmentID int64, identifierKind, identifier string)
}

// Pipeline wires the stages together.
type Pipeline struct {
	documents   DocumentStore
	ships       ShipmentStore
	classifier  *classify.Classifier
	extractor   Extractor
	attachments AttachmentTexts
	audit       AuditStore
	resolver    Resolver
	linker      *linker.Linker
	relink      RelinkTrigger

	metrics *observability.PipelineMetrics
	tracer  *observability.Tracer
	logger  logging.Logger
	locks   *shipmentLocks
}

// Config collects the pipeline's collaborators. Extractor, Attachments,
// Audit, and Relink are optional; the rest are required.
type Config struct {
	Documents   DocumentStore
	Shipments   ShipmentStore
	Classifier  *classify.Classifier
	Extractor   Extractor
	Attachments AttachmentTexts
	Audit       AuditStore
	Resolver    Resolver
	Metrics     *observability.PipelineMetrics
	Tracer      *observability.Tracer
	Logger      logging.Logger
	Relink      RelinkTrigger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.NewTracer()
	}
	return &Pipeline{
		documents:   cfg.Documents,
		ships:       cfg.Shipments,
		classifier:  cfg.Classifier,
		extractor:   cfg.Extractor,
		attachments: cfg.Attachments,
		audit:       cfg.Audit,
		resolver:    cfg.Resolver,
		linker:      linker.New(cfg.Shipments, logger),
		relink:      cfg.Relink,
		metrics:     cfg.Metrics,
		tracer:      tracer,
		logger:      logger,
		locks:       newShipmentLocks(),
	}
}

// ProcessOptions tunes one pipeline run.
type ProcessOptions struct {
	// Reclassify re-runs classification and extraction even when the
	// document already carries results.
	Reclassify bool
	BatchID    string
}

// ProcessResult summarizes one pipeline run for callers and audit logs.
type ProcessResult struct {
	DocumentID     int64                   `json:"document_id"`
	Classification classify.Classification `json:"classification"`
	Entities       entities.EntitySet      `json:"entities"`
	Link           linker.Result           `json:"link"`
	StateChange    *workflow.FoldResult    `json:"state_change,omitempty"`
}

// Process runs one stored document through the full pipeline.
func (p *Pipeline) Process(ctx context.Context, documentID int64, opts ProcessOptions) (*ProcessResult, error) {
	ctx, span := p.tracer.StartDocumentSpan(ctx, formatID(documentID), opts.BatchID)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	doc, err := p.documents.GetByID(ctx, documentID)
	if err != nil {
		procErr := cverrors.ClassifyError(err, "load")
		helper.SetError(procErr, string(procErr.Code), cverrors.IsErrorRetryable(procErr))
		return nil, procErr
	}

	cls, err := p.classifyStage(ctx, doc, opts.Reclassify)
	if err != nil {
		return nil, err
	}
	helper.SetClassification(string(cls.DocumentType), string(cls.Direction), cls.Via)

	set, err := p.extractStage(ctx, doc, opts.Reclassify)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{
		DocumentID:     documentID,
		Classification: cls,
		Entities:       set,
	}

	linkResult, stateChange, err := p.linkStage(ctx, doc, set)
	if err != nil {
		procErr := cverrors.ClassifyError(err, "link")
		helper.SetError(procErr, string(procErr.Code), cverrors.IsErrorRetryable(procErr))
		return nil, procErr
	}
	result.Link = linkResult
	result.StateChange = stateChange

	helper.SetLinkOutcome(string(linkResult.Outcome), string(linkResult.MatchedBy), formatID(linkResult.ShipmentID))
	if stateChange != nil && stateChange.Changed {
		helper.SetWorkflowState(string(stateChange.State), stateChange.ReasonCode)
	}
	helper.SetSuccess()

	if p.metrics != nil {
		p.metrics.RecordDocumentProcessed("ok")
	}
	return result, nil
}

// classifyStage assigns type, direction, and thread role. An already
// classified document is left alone unless reclassify is set.
func (p *Pipeline) classifyStage(ctx context.Context, doc *docs.Document, reclassify bool) (classify.Classification, error) {
	ctx, span := p.tracer.StartStageSpan(ctx, "classify")
	defer span.End()
	start := time.Now()

	if doc.DocumentType.Valid() && !reclassify {
		return classify.Classification{
			DocumentType: doc.DocumentType,
			Direction:    doc.Direction,
			ThreadRole:   doc.ThreadRole,
			Confidence:   doc.Confidence,
			Via:          doc.ClassifiedVia,
		}, nil
	}

	cls := p.classifier.Classify(ctx, &classify.Message{
		Subject:         doc.Subject,
		Sender:          doc.SenderAddress,
		BodyExcerpt:     doc.BodyExcerpt,
		AttachmentNames: doc.AttachmentNames,
	})

	// The only place the inbound default is applied. The classifier
	// reports Unknown honestly; operationally most unrecognized senders
	// are counterparties writing to us.
	if cls.Direction == docs.DirectionUnknown {
		p.logger.Info("defaulting unknown direction to inbound",
			logging.F("document_id", doc.ID),
			logging.F("sender", doc.SenderAddress),
		)
		cls.Direction = docs.DirectionInbound
	}

	if err := p.documents.UpdateClassification(ctx, doc.ID, cls.DocumentType, cls.Direction, cls.ThreadRole, cls.Confidence, cls.Via); err != nil {
		return classify.Classification{}, cverrors.ClassifyError(err, "classify")
	}
	doc.DocumentType = cls.DocumentType
	doc.Direction = cls.Direction
	doc.ThreadRole = cls.ThreadRole
	doc.Confidence = cls.Confidence
	doc.ClassifiedVia = cls.Via

	if p.metrics != nil {
		p.metrics.RecordClassification(string(cls.DocumentType), cls.Via, cls.Confidence)
		p.metrics.RecordStage("classify", time.Since(start).Seconds())
	}
	return cls, nil
}

// extractStage produces the document's aggregated entity set. Extraction
// failures degrade to an empty contribution from the failing source; only
// store failures propagate.
func (p *Pipeline) extractStage(ctx context.Context, doc *docs.Document, reextract bool) (entities.EntitySet, error) {
	ctx, span := p.tracer.StartStageSpan(ctx, "extract")
	defer span.End()
	start := time.Now()

	if len(doc.RawEntities) > 0 && !reextract {
		set, _ := entities.Aggregate(rawsFromStored(doc.RawEntities), nil)
		return set, nil
	}

	var bodyRaws []entities.RawEntity
	var attachmentRaws [][]entities.RawEntity

	if p.extractor != nil {
		raws, err := p.extractor.Extract(ctx, doc.BodyExcerpt, doc.DocumentType)
		if err != nil {
			p.logger.Warn("body extraction failed, continuing without body entities",
				logging.Err(err),
				logging.F("document_id", doc.ID),
			)
		} else {
			bodyRaws = raws
		}

		for _, name := range doc.AttachmentNames {
			text, found, err := p.attachmentText(ctx, doc, name)
			if err != nil {
				return entities.EntitySet{}, cverrors.ClassifyError(err, "extract")
			}
			if !found {
				continue
			}
			raws, err := p.extractor.Extract(ctx, text, doc.DocumentType)
			if err != nil {
				p.logger.Warn("attachment extraction failed, skipping attachment",
					logging.Err(err),
					logging.F("document_id", doc.ID),
					logging.F("attachment", name),
				)
				continue
			}
			attachmentRaws = append(attachmentRaws, raws)
		}
	}

	set, rejections := entities.Aggregate(bodyRaws, attachmentRaws)

	allRaws := append([]entities.RawEntity{}, bodyRaws...)
	for _, raws := range attachmentRaws {
		allRaws = append(allRaws, raws...)
	}

	// Body values first so first-wins is preserved when this document is
	// re-aggregated from storage later.
	if err := p.documents.UpdateRawEntities(ctx, doc.ID, storedFromRaws(allRaws)); err != nil {
		return entities.EntitySet{}, cverrors.ClassifyError(err, "extract")
	}

	if p.audit != nil {
		records := entities.BuildAuditRecords(string(doc.DocumentType), set, rejections, allRaws)
		if err := p.audit.RecordBatch(ctx, doc.ID, records); err != nil {
			return entities.EntitySet{}, cverrors.ClassifyError(err, "extract")
		}
	}

	if p.metrics != nil {
		for entityType := range set.Scalars {
			p.metrics.RecordEntityAccepted(string(entityType))
		}
		for range set.Containers {
			p.metrics.RecordEntityAccepted(string(entities.TypeContainerNumber))
		}
		for _, rejection := range rejections {
			p.metrics.RecordEntityRejected(string(rejection.Type), rejection.Reason)
		}
		p.metrics.RecordStage("extract", time.Since(start).Seconds())
	}
	return set, nil
}

func (p *Pipeline) attachmentText(ctx context.Context, doc *docs.Document, name string) (string, bool, error) {
	if p.attachments == nil {
		return "", false, nil
	}
	return p.attachments.Text(ctx, formatID(doc.ID), name)
}

// rawsFromStored rebuilds the extraction output from its stored form.
// Stored values already passed the confidence gate, so confidence is
// reported as full.
func rawsFromStored(stored map[string][]string) []entities.RawEntity {
	types := make([]string, 0, len(stored))
	for entityType := range stored {
		types = append(types, entityType)
	}
	sort.Strings(types)

	var raws []entities.RawEntity
	for _, entityType := range types {
		for _, value := range stored[entityType] {
			raws = append(raws, entities.RawEntity{
				Type:       entities.Type(entityType),
				Value:      value,
				Confidence: 100,
			})
		}
	}
	return raws
}

func storedFromRaws(raws []entities.RawEntity) map[string][]string {
	stored := make(map[string][]string)
	for _, raw := range raws {
		stored[string(raw.Type)] = append(stored[string(raw.Type)], raw.Value)
	}
	return stored
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/caravelhq/caravel-cli/pkg/authority"
	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/entities"
	"github.com/caravelhq/caravel-cli/pkg/logging"
	"github.com/caravelhq/caravel-cli/pkg/shipments"
	"github.com/caravelhq/caravel-cli/pkg/shipments/linker"
	"github.com/caravelhq/caravel-cli/pkg/shipments/workflow"
)

// linkStage resolves the document against the shipment index and, on a
// match or a create, merges the document's entities and folds workflow
// state under the shipment lock.
func (p *Pipeline) linkStage(ctx context.Context, doc *docs.Document, set entities.EntitySet) (linker.Result, *workflow.FoldResult, error) {
	ctx, span := p.tracer.StartStageSpan(ctx, "link")
	defer span.End()
	start := time.Now()

	result, err := p.linker.Link(ctx, doc, set)
	if err != nil {
		return linker.Result{}, nil, err
	}
	if p.metrics != nil {
		p.metrics.RecordLinkOutcome(string(result.Outcome), string(result.MatchedBy))
		p.metrics.RecordStage("link", time.Since(start).Seconds())
	}

	switch result.Outcome {
	case linker.OutcomeMatched:
		fold, err := p.attach(ctx, doc, set, result.ShipmentID, result.MatchedBy, result.MatchedValue)
		return result, fold, err

	case linker.OutcomeCreateNew:
		shipmentID, err := p.createShipment(ctx, set)
		if err != nil {
			return linker.Result{}, nil, err
		}
		result.ShipmentID = shipmentID
		fold, err := p.attach(ctx, doc, set, shipmentID, result.MatchedBy, result.MatchedValue)
		return result, fold, err

	case linker.OutcomeAmbiguous:
		if err := p.documents.UpdateLinkStatus(ctx, doc.ID, docs.LinkStatusAmbiguous); err != nil {
			return linker.Result{}, nil, err
		}
		p.logger.Warn("ambiguous link flagged for manual review",
			logging.F("document_id", doc.ID),
			logging.F("reason", result.Reason),
		)
		return result, nil, nil

	default: // orphan
		if err := p.documents.UpdateLinkStatus(ctx, doc.ID, docs.LinkStatusOrphaned); err != nil {
			return linker.Result{}, nil, err
		}
		p.logger.Debug("document filed as orphan",
			logging.F("document_id", doc.ID),
			logging.F("reason", result.Reason),
		)
		return result, nil, nil
	}
}

// createShipment materializes a new shipment from a shipment-creating
// document's identifiers.
func (p *Pipeline) createShipment(ctx context.Context, set entities.EntitySet) (int64, error) {
	booking, _ := set.Get(entities.TypeBookingNumber)

	created, err := p.ships.Create(ctx, &shipments.Shipment{
		BookingNumber: booking,
		WorkflowState: workflow.StateNone,
	})
	if err != nil {
		return 0, fmt.Errorf("creating shipment for booking %s: %w", booking, err)
	}

	p.logger.Info("shipment created",
		logging.F("shipment_id", created.ID),
		logging.F("booking_number", booking),
	)
	return created.ID, nil
}

// attach records the link then merges entities and folds workflow state.
// Runs under the shipment lock: one writer per shipment at a time.
func (p *Pipeline) attach(ctx context.Context, doc *docs.Document, set entities.EntitySet, shipmentID int64, matchedBy entities.Type, matchedValue string) (*workflow.FoldResult, error) {
	unlock := p.locks.acquire(shipmentID)
	defer unlock()

	if _, err := p.ships.InsertLink(ctx, shipments.Link{
		DocumentID:   doc.ID,
		ShipmentID:   shipmentID,
		MatchedBy:    matchedBy,
		MatchedValue: matchedValue,
	}); err != nil {
		return nil, err
	}
	if err := p.documents.UpdateLinkStatus(ctx, doc.ID, docs.LinkStatusLinked); err != nil {
		return nil, err
	}

	if err := p.mergeFields(ctx, doc, set, shipmentID); err != nil {
		return nil, err
	}

	fold, err := p.foldState(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	return fold, nil
}

// mergeFields applies the document's entity set to the shipment, one
// resolver decision per scalar field. Iteration follows ScalarTypes so runs
// are deterministic.
func (p *Pipeline) mergeFields(ctx context.Context, doc *docs.Document, set entities.EntitySet, shipmentID int64) error {
	ctx, span := p.tracer.StartStageSpan(ctx, "merge")
	defer span.End()
	start := time.Now()

	shipment, err := p.ships.GetByID(ctx, shipmentID)
	if err != nil {
		return err
	}

	for _, entityType := range entities.ScalarTypes {
		value, ok := set.Get(entityType)
		if !ok {
			continue
		}

		var existing *authority.FieldSource
		if slot, held := shipment.Field(entityType); held {
			existing = &authority.FieldSource{
				Value:        slot.Value,
				DocumentType: slot.SourceDocumentType,
			}
		}

		decision, err := p.resolver.Resolve(ctx, entityType, doc.DocumentType, value, existing)
		if err != nil {
			return err
		}
		if p.metrics != nil {
			p.metrics.RecordAuthorityDecision(string(entityType), string(decision.ReasonCode))
		}
		if !decision.Update {
			continue
		}

		if err := p.ships.ApplyField(ctx, shipmentID, entityType, shipments.FieldSlot{
			Value:              value,
			SourceDocumentType: doc.DocumentType,
			AuthorityLevel:     decision.NewLevel,
		}); err != nil {
			return err
		}

		// A newly held identifier extends the link index; orphans
		// keyed on it may now resolve.
		switch entityType {
		case entities.TypeBookingNumber:
			if existing == nil || existing.Value != value {
				p.triggerRelink(shipmentID, "booking", value)
			}
		case entities.TypeBLNumber:
			if existing == nil || existing.Value != value {
				p.triggerRelink(shipmentID, "bl", value)
			}
		}
	}

	var newContainers []string
	for _, container := range set.Containers {
		if !shipment.HasContainer(container) {
			newContainers = append(newContainers, container)
		}
	}
	if len(newContainers) > 0 {
		if err := p.ships.AppendContainers(ctx, shipmentID, newContainers); err != nil {
			return err
		}
		for _, container := range newContainers {
			p.triggerRelink(shipmentID, "container", container)
		}
	}

	if p.metrics != nil {
		p.metrics.RecordStage("merge", time.Since(start).Seconds())
	}
	return nil
}

// foldState recomputes workflow state from every linked document and writes
// it only on forward movement. Caller holds the shipment lock.
func (p *Pipeline) foldState(ctx context.Context, shipmentID int64) (*workflow.FoldResult, error) {
	ctx, span := p.tracer.StartStageSpan(ctx, "fold")
	defer span.End()
	start := time.Now()

	shipment, err := p.ships.GetByID(ctx, shipmentID)
	if err != nil {
		return nil, err
	}

	contexts, err := p.linkedDocumentContexts(ctx, shipmentID)
	if err != nil {
		return nil, err
	}

	fold := workflow.Fold(shipment.WorkflowState, contexts)
	if fold.Changed {
		if err := p.ships.ApplyWorkflowState(ctx, shipmentID, fold.State, time.Now()); err != nil {
			return nil, err
		}
		if p.metrics != nil {
			p.metrics.RecordStateTransition(string(fold.State), fold.ReasonCode)
		}
		p.logger.Info("workflow state advanced",
			logging.F("shipment_id", shipmentID),
			logging.F("state", string(fold.State)),
			logging.F("reason", fold.Reason),
			logging.F("evidence_document_id", fold.EvidenceDocumentID),
		)
	}

	if p.metrics != nil {
		p.metrics.RecordStage("fold", time.Since(start).Seconds())
	}
	return &fold, nil
}

// linkedDocumentContexts loads every linked document and shapes it for the
// fold.
func (p *Pipeline) linkedDocumentContexts(ctx context.Context, shipmentID int64) ([]workflow.DocumentContext, error) {
	links, err := p.ships.ListLinksByShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.DocumentID)
	}

	linked, err := p.documents.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	contexts := make([]workflow.DocumentContext, 0, len(linked))
	for _, d := range linked {
		contexts = append(contexts, workflow.DocumentContext{
			DocumentID:      d.ID,
			DocumentType:    d.DocumentType,
			Direction:       d.Direction,
			SenderIsCarrier: p.classifier.SenderIsCarrier(d.SenderAddress),
		})
	}
	return contexts, nil
}

// RebuildShipmentState recomputes workflow state from scratch for one
// shipment. Because the fold is order-independent and monotonic, rebuilding
// from the empty state lands on the same state incremental processing did;
// divergence means stored state drifted and is corrected here.
func (p *Pipeline) RebuildShipmentState(ctx context.Context, shipmentID int64) (*workflow.FoldResult, error) {
	unlock := p.locks.acquire(shipmentID)
	defer unlock()

	shipment, err := p.ships.GetByID(ctx, shipmentID)
	if err != nil {
		return nil, err
	}

	contexts, err := p.linkedDocumentContexts(ctx, shipmentID)
	if err != nil {
		return nil, err
	}

	fold := workflow.Fold(workflow.StateNone, contexts)
	if fold.State != shipment.WorkflowState {
		p.logger.Warn("rebuild corrected drifted workflow state",
			logging.F("shipment_id", shipmentID),
			logging.F("stored_state", string(shipment.WorkflowState)),
			logging.F("rebuilt_state", string(fold.State)),
		)
		if err := p.ships.ApplyWorkflowState(ctx, shipmentID, fold.State, time.Now()); err != nil {
			return nil, err
		}
		if p.metrics != nil {
			p.metrics.RecordStateTransition(string(fold.State), "rebuild")
		}
		fold.Changed = true
	} else {
		fold.Changed = false
	}
	return &fold, nil
}

func (p *Pipeline) triggerRelink(shipmentID int64, kind, identifier string) {
	if p.relink == nil || identifier == "" {
		return
	}
	p.relink.TriggerRelink(shipmentID, kind, identifier)
}

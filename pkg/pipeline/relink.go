package pipeline

import (
	"context"

	"github.com/caravelhq/caravel-cli/pkg/entities"
	"github.com/caravelhq/caravel-cli/pkg/logging"
	"github.com/caravelhq/caravel-cli/pkg/queues"
	"github.com/caravelhq/caravel-cli/pkg/shipments/linker"
)

// relinkPageSize bounds one orphan page per scan pass.
const relinkPageSize = 200

// RelinkStats summarizes one relink sweep.
type RelinkStats struct {
	Scanned  int `json:"scanned"`
	Relinked int `json:"relinked"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// HandleRelink reacts to a shipment gaining an identifier: it scans orphaned
// documents for ones that carry the same identifier and re-runs linking for
// them. Classification and extraction replay from their stored results, so
// no model call happens here.
func (p *Pipeline) HandleRelink(ctx context.Context, msg *queues.RelinkMessage) (RelinkStats, error) {
	ctx, span := p.tracer.StartRelinkSpan(ctx, formatID(msg.ShipmentID))
	defer span.End()

	stats, err := p.sweepOrphans(ctx, func(set entities.EntitySet) bool {
		return setCarriesIdentifier(set, msg.IdentifierKind, msg.Identifier)
	})
	if err != nil {
		return stats, err
	}

	p.logger.Info("relink sweep finished",
		logging.F("shipment_id", msg.ShipmentID),
		logging.F("identifier_kind", msg.IdentifierKind),
		logging.F("identifier", msg.Identifier),
		logging.F("scanned", stats.Scanned),
		logging.F("relinked", stats.Relinked),
	)
	return stats, nil
}

// SweepOrphans re-runs linking for every orphaned document. Used by the
// periodic sweep and the operator-invoked retry.
func (p *Pipeline) SweepOrphans(ctx context.Context) (RelinkStats, error) {
	ctx, span := p.tracer.StartRelinkSpan(ctx, "")
	defer span.End()

	stats, err := p.sweepOrphans(ctx, func(entities.EntitySet) bool { return true })
	if err != nil {
		return stats, err
	}
	p.logger.Info("orphan sweep finished",
		logging.F("scanned", stats.Scanned),
		logging.F("relinked", stats.Relinked),
		logging.F("failed", stats.Failed),
	)
	return stats, nil
}

// sweepOrphans pages through orphaned documents in id order and reprocesses
// the ones match selects. Paging keys on id, not offset, so documents that
// stop being orphans mid-sweep do not shift the window.
func (p *Pipeline) sweepOrphans(ctx context.Context, match func(entities.EntitySet) bool) (RelinkStats, error) {
	var stats RelinkStats
	var afterID int64

	for {
		page, err := p.documents.ListOrphansPage(ctx, afterID, relinkPageSize)
		if err != nil {
			return stats, err
		}
		if len(page) == 0 {
			return stats, nil
		}

		for _, doc := range page {
			afterID = doc.ID
			stats.Scanned++

			set, _ := entities.Aggregate(rawsFromStored(doc.RawEntities), nil)
			if !match(set) {
				stats.Skipped++
				continue
			}

			result, err := p.Process(ctx, doc.ID, ProcessOptions{})
			if err != nil {
				stats.Failed++
				p.logger.Warn("orphan reprocess failed",
					logging.Err(err),
					logging.F("document_id", doc.ID),
				)
				continue
			}
			if result.Link.Outcome == linker.OutcomeMatched || result.Link.Outcome == linker.OutcomeCreateNew {
				stats.Relinked++
			} else {
				stats.Skipped++
			}
		}

		if err := ctx.Err(); err != nil {
			return stats, err
		}
	}
}

// setCarriesIdentifier reports whether the rebuilt entity set holds the
// identifier a relink message announced. Both sides are already normalized.
func setCarriesIdentifier(set entities.EntitySet, kind, identifier string) bool {
	switch kind {
	case "booking":
		v, ok := set.Get(entities.TypeBookingNumber)
		return ok && v == identifier
	case "bl":
		v, ok := set.Get(entities.TypeBLNumber)
		return ok && v == identifier
	case "container":
		for _, c := range set.Containers {
			if c == identifier {
				return true
			}
		}
	}
	return false
}

// Reprocess re-runs the full pipeline for one document, optionally forcing a
// fresh classification. Orphan or ambiguous documents get another shot at
// linking against today's shipment index.
func (p *Pipeline) Reprocess(ctx context.Context, documentID int64, reclassify bool) (*ProcessResult, error) {
	return p.Process(ctx, documentID, ProcessOptions{Reclassify: reclassify})
}

// ReclassifySweep re-classifies documents in id order starting after
// afterID, up to limit documents. It returns the last id visited so callers
// can persist a resume cursor between pages. Individual failures are
// counted and skipped; only storage errors stop the sweep.
func (p *Pipeline) ReclassifySweep(ctx context.Context, afterID int64, limit int) (lastID int64, processed, failed int, err error) {
	page, err := p.documents.ListPage(ctx, afterID, limit)
	if err != nil {
		return afterID, 0, 0, err
	}

	lastID = afterID
	for _, doc := range page {
		lastID = doc.ID
		if _, err := p.Process(ctx, doc.ID, ProcessOptions{Reclassify: true}); err != nil {
			p.logger.Warn("reclassify failed",
				logging.Err(err),
				logging.F("document_id", doc.ID),
			)
			failed++
			continue
		}
		processed++
		if err := ctx.Err(); err != nil {
			return lastID, processed, failed, err
		}
	}
	return lastID, processed, failed, nil
}

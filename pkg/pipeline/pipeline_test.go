package pipeline

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caravelhq/caravel-cli/pkg/authority"
	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/docs/classify"
	"github.com/caravelhq/caravel-cli/pkg/entities"
	cverrors "github.com/caravelhq/caravel-cli/pkg/errors"
	"github.com/caravelhq/caravel-cli/pkg/queues"
	"github.com/caravelhq/caravel-cli/pkg/shipments"
	"github.com/caravelhq/caravel-cli/pkg/shipments/linker"
	"github.com/caravelhq/caravel-cli/pkg/shipments/workflow"
)

// memDocs is an in-memory DocumentStore.
type memDocs struct {
	mu   sync.Mutex
	docs map[int64]*docs.Document
}

func newMemDocs(seed ...*docs.Document) *memDocs {
	m := &memDocs{docs: make(map[int64]*docs.Document)}
	for _, d := range seed {
		copied := *d
		m.docs[d.ID] = &copied
	}
	return m
}

func (m *memDocs) GetByID(_ context.Context, id int64) (*docs.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, cverrors.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (m *memDocs) UpdateClassification(_ context.Context, id int64, docType docs.Type, direction docs.Direction, threadRole docs.ThreadRole, confidence int, via string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return cverrors.ErrNotFound
	}
	d.DocumentType = docType
	d.Direction = direction
	d.ThreadRole = threadRole
	d.Confidence = confidence
	d.ClassifiedVia = via
	return nil
}

func (m *memDocs) UpdateRawEntities(_ context.Context, id int64, raw map[string][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return cverrors.ErrNotFound
	}
	d.RawEntities = raw
	return nil
}

func (m *memDocs) UpdateLinkStatus(_ context.Context, id int64, status docs.LinkStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return cverrors.ErrNotFound
	}
	d.LinkStatus = status
	return nil
}

func (m *memDocs) page(afterID int64, limit int, filter func(*docs.Document) bool) []*docs.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*docs.Document
	for _, id := range ids {
		if id <= afterID || !filter(m.docs[id]) {
			continue
		}
		copied := *m.docs[id]
		out = append(out, &copied)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (m *memDocs) ListPage(_ context.Context, afterID int64, limit int) ([]*docs.Document, error) {
	return m.page(afterID, limit, func(*docs.Document) bool { return true }), nil
}

func (m *memDocs) ListOrphansPage(_ context.Context, afterID int64, limit int) ([]*docs.Document, error) {
	return m.page(afterID, limit, func(d *docs.Document) bool { return d.LinkStatus == docs.LinkStatusOrphaned }), nil
}

func (m *memDocs) ListByIDs(_ context.Context, ids []int64) ([]*docs.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*docs.Document
	for _, id := range ids {
		if d, ok := m.docs[id]; ok {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

// memShips is an in-memory ShipmentStore with the identifier index the
// cascade walks.
type memShips struct {
	mu     sync.Mutex
	nextID int64
	ships  map[int64]*shipments.Shipment
	links  []shipments.Link
}

func newMemShips() *memShips {
	return &memShips{ships: make(map[int64]*shipments.Shipment)}
}

func (m *memShips) seed(s *shipments.Shipment) *shipments.Shipment {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	if s.Fields == nil {
		s.Fields = make(map[entities.Type]shipments.FieldSlot)
	}
	m.ships[s.ID] = s
	return s
}

func (m *memShips) findBy(match func(*shipments.Shipment) bool) []*shipments.Shipment {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.ships))
	for id := range m.ships {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*shipments.Shipment
	for _, id := range ids {
		if match(m.ships[id]) {
			copied := *m.ships[id]
			out = append(out, &copied)
		}
	}
	return out
}

func (m *memShips) FindByBookingNumber(_ context.Context, bookingNumber string) ([]*shipments.Shipment, error) {
	return m.findBy(func(s *shipments.Shipment) bool { return s.BookingNumber == bookingNumber }), nil
}

func (m *memShips) FindByBLNumber(_ context.Context, blNumber string) ([]*shipments.Shipment, error) {
	return m.findBy(func(s *shipments.Shipment) bool { return s.BLNumber == blNumber }), nil
}

func (m *memShips) FindByContainerNumber(_ context.Context, containerNumber string) ([]*shipments.Shipment, error) {
	return m.findBy(func(s *shipments.Shipment) bool { return s.HasContainer(containerNumber) }), nil
}

func (m *memShips) Create(_ context.Context, s *shipments.Shipment) (*shipments.Shipment, error) {
	copied := *s
	return m.seed(&copied), nil
}

func (m *memShips) GetByID(_ context.Context, id int64) (*shipments.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.ships[id]
	if !ok {
		return nil, cverrors.ErrNotFound
	}
	copied := *s
	copied.Fields = make(map[entities.Type]shipments.FieldSlot, len(s.Fields))
	for k, v := range s.Fields {
		copied.Fields[k] = v
	}
	copied.ContainerNumbers = append([]string(nil), s.ContainerNumbers...)
	return &copied, nil
}

func (m *memShips) ApplyField(_ context.Context, id int64, entityType entities.Type, slot shipments.FieldSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.ships[id]
	if !ok {
		return cverrors.ErrNotFound
	}
	s.Fields[entityType] = slot
	switch entityType {
	case entities.TypeBookingNumber:
		s.BookingNumber = slot.Value
	case entities.TypeBLNumber:
		s.BLNumber = slot.Value
	}
	return nil
}

func (m *memShips) AppendContainers(_ context.Context, id int64, containers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.ships[id]
	if !ok {
		return cverrors.ErrNotFound
	}
	for _, c := range containers {
		if !s.HasContainer(c) {
			s.ContainerNumbers = append(s.ContainerNumbers, c)
		}
	}
	return nil
}

func (m *memShips) ApplyWorkflowState(_ context.Context, id int64, state workflow.State, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.ships[id]
	if !ok {
		return cverrors.ErrNotFound
	}
	s.WorkflowState = state
	s.WorkflowStateUpdatedAt = at
	return nil
}

func (m *memShips) InsertLink(_ context.Context, link shipments.Link) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.DocumentID == link.DocumentID && l.ShipmentID == link.ShipmentID {
			return false, nil
		}
	}
	m.links = append(m.links, link)
	return true, nil
}

func (m *memShips) ListLinksByShipment(_ context.Context, shipmentID int64) ([]shipments.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shipments.Link
	for _, l := range m.links {
		if l.ShipmentID == shipmentID {
			out = append(out, l)
		}
	}
	return out, nil
}

// stubExtractor returns canned raws and counts calls.
type stubExtractor struct {
	mu    sync.Mutex
	raws  []entities.RawEntity
	calls int
}

func (s *stubExtractor) Extract(_ context.Context, text string, _ docs.Type) ([]entities.RawEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" {
		return nil, nil
	}
	s.calls++
	return s.raws, nil
}

type relinkRecorder struct {
	mu       sync.Mutex
	triggers []string
}

func (r *relinkRecorder) TriggerRelink(shipmentID int64, identifierKind, identifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, identifierKind+":"+identifier)
}

func (r *relinkRecorder) has(trigger string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.triggers {
		if t == trigger {
			return true
		}
	}
	return false
}

// staticRules serves the shipped authority table without a database.
type staticRules struct{}

func (staticRules) LoadRules(context.Context) ([]authority.Rule, error) {
	return authority.DefaultRules(), nil
}

func testClassifier() *classify.Classifier {
	domains := classify.NewDomainSet(classify.DefaultCarrierDomains, []string{"caravelfreight.com"})
	return classify.New(domains, nil, nil)
}

func testResolver() *authority.Resolver {
	cache := authority.NewCache(staticRules{}, authority.DefaultTTL)
	return authority.NewResolver(cache, nil)
}

type testEnv struct {
	pipeline  *Pipeline
	docs      *memDocs
	ships     *memShips
	extractor *stubExtractor
	relink    *relinkRecorder
}

func newTestEnv(docsStore *memDocs, ships *memShips, extractor *stubExtractor) *testEnv {
	relink := &relinkRecorder{}
	p := New(Config{
		Documents:  docsStore,
		Shipments:  ships,
		Classifier: testClassifier(),
		Extractor:  extractor,
		Resolver:   testResolver(),
		Relink:     relink,
	})
	return &testEnv{pipeline: p, docs: docsStore, ships: ships, extractor: extractor, relink: relink}
}

func bookingConfirmationDoc(id int64) *docs.Document {
	return &docs.Document{
		ID:            id,
		SenderAddress: "noreply@maersk.com",
		Subject:       "Booking Confirmation 263714007",
		BodyExcerpt:   "Please find your booking confirmation attached.",
		LinkStatus:    docs.LinkStatusPending,
	}
}

func TestProcessBookingConfirmationCreatesShipment(t *testing.T) {
	extractor := &stubExtractor{raws: []entities.RawEntity{
		{Type: entities.TypeBookingNumber, Value: "263714007", Confidence: 95},
		{Type: entities.TypeVesselName, Value: "Maersk Eindhoven", Confidence: 90},
		{Type: entities.TypeContainerNumber, Value: "MSKU5710284", Confidence: 92},
	}}
	env := newTestEnv(newMemDocs(bookingConfirmationDoc(1)), newMemShips(), extractor)

	result, err := env.pipeline.Process(context.Background(), 1, ProcessOptions{})
	require.NoError(t, err)

	assert.Equal(t, docs.TypeBookingConfirmation, result.Classification.DocumentType)
	assert.Equal(t, "maersk_booking_confirmation", result.Classification.Via)
	assert.Equal(t, linker.OutcomeCreateNew, result.Link.Outcome)
	require.NotZero(t, result.Link.ShipmentID)

	ship, err := env.ships.GetByID(context.Background(), result.Link.ShipmentID)
	require.NoError(t, err)
	assert.Equal(t, "263714007", ship.BookingNumber)
	assert.Equal(t, []string{"MSKU5710284"}, ship.ContainerNumbers)
	assert.Equal(t, workflow.StateBookingConfirmationReceived, ship.WorkflowState)

	slot, ok := ship.Field(entities.TypeVesselName)
	require.True(t, ok)
	assert.Equal(t, "Maersk Eindhoven", slot.Value)
	assert.Equal(t, docs.TypeBookingConfirmation, slot.SourceDocumentType)
	assert.Equal(t, 1, slot.AuthorityLevel)

	doc, err := env.docs.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, docs.LinkStatusLinked, doc.LinkStatus)
	assert.NotEmpty(t, doc.RawEntities)

	assert.True(t, env.relink.has("booking:263714007"))
	assert.True(t, env.relink.has("container:MSKU5710284"))
}

func TestProcessMatchesExistingShipmentAndAdvancesState(t *testing.T) {
	ships := newMemShips()
	ship := ships.seed(&shipments.Shipment{
		BookingNumber: "263714007",
		WorkflowState: workflow.StateBookingConfirmationReceived,
	})
	ship.Fields[entities.TypeBookingNumber] = shipments.FieldSlot{
		Value: "263714007", SourceDocumentType: docs.TypeBookingConfirmation, AuthorityLevel: 1,
	}

	// An already processed booking confirmation keeps the fold grounded.
	confirmation := bookingConfirmationDoc(1)
	confirmation.DocumentType = docs.TypeBookingConfirmation
	confirmation.Direction = docs.DirectionInbound
	confirmation.LinkStatus = docs.LinkStatusLinked
	confirmation.RawEntities = map[string][]string{
		string(entities.TypeBookingNumber): {"263714007"},
	}

	sob := &docs.Document{
		ID:            2,
		SenderAddress: "notifications@maersk.com",
		Subject:       "Shipped on Board - Booking 263714007",
		BodyExcerpt:   "Cargo shipped on board.",
		LinkStatus:    docs.LinkStatusPending,
	}

	extractor := &stubExtractor{raws: []entities.RawEntity{
		{Type: entities.TypeBookingNumber, Value: "263714007", Confidence: 95},
	}}
	env := newTestEnv(newMemDocs(confirmation, sob), ships, extractor)
	env.ships.links = append(env.ships.links, shipments.Link{DocumentID: 1, ShipmentID: ship.ID})

	result, err := env.pipeline.Process(context.Background(), 2, ProcessOptions{})
	require.NoError(t, err)

	assert.Equal(t, docs.TypeSOBConfirmation, result.Classification.DocumentType)
	assert.Equal(t, linker.OutcomeMatched, result.Link.Outcome)
	assert.Equal(t, ship.ID, result.Link.ShipmentID)
	assert.Equal(t, entities.TypeBookingNumber, result.Link.MatchedBy)

	require.NotNil(t, result.StateChange)
	assert.True(t, result.StateChange.Changed)
	assert.Equal(t, workflow.StateSOBReceived, result.StateChange.State)

	got, err := env.ships.GetByID(context.Background(), ship.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateSOBReceived, got.WorkflowState)

	// The booking slot stays with the confirmation: SOB has no booking
	// number rule, so the merge must not touch it.
	slot, ok := got.Field(entities.TypeBookingNumber)
	require.True(t, ok)
	assert.Equal(t, docs.TypeBookingConfirmation, slot.SourceDocumentType)
}

func TestProcessAmbiguousIdentifierStopsCascade(t *testing.T) {
	ships := newMemShips()
	for i := 0; i < 2; i++ {
		ships.seed(&shipments.Shipment{ContainerNumbers: []string{"MSKU5710284"}})
	}

	doc := &docs.Document{
		ID:            7,
		SenderAddress: "ops@somewhere.example",
		Subject:       "Container update",
		BodyExcerpt:   "Regarding container MSKU5710284.",
		DocumentType:  docs.TypeGeneralCorrespondence,
		Direction:     docs.DirectionInbound,
		LinkStatus:    docs.LinkStatusPending,
		RawEntities: map[string][]string{
			string(entities.TypeContainerNumber): {"MSKU5710284"},
		},
	}

	env := newTestEnv(newMemDocs(doc), ships, &stubExtractor{})

	result, err := env.pipeline.Process(context.Background(), 7, ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, linker.OutcomeAmbiguous, result.Link.Outcome)
	assert.Zero(t, result.Link.ShipmentID)

	got, err := env.docs.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, docs.LinkStatusAmbiguous, got.LinkStatus)
	assert.Empty(t, env.ships.links)
}

func TestProcessOrphanThenRelink(t *testing.T) {
	invoice := &docs.Document{
		ID:            3,
		SenderAddress: "billing@maersk.com",
		Subject:       "Arrival Notice MAEU123456789",
		BodyExcerpt:   "Arrival notice for your shipment.",
		LinkStatus:    docs.LinkStatusPending,
	}

	extractor := &stubExtractor{raws: []entities.RawEntity{
		{Type: entities.TypeBLNumber, Value: "MAEU123456789", Confidence: 95},
	}}
	ships := newMemShips()
	env := newTestEnv(newMemDocs(invoice), ships, extractor)

	result, err := env.pipeline.Process(context.Background(), 3, ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, linker.OutcomeOrphan, result.Link.Outcome)

	got, err := env.docs.GetByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, docs.LinkStatusOrphaned, got.LinkStatus)

	// The BL appears on a shipment later; the relink sweep picks the
	// orphan up without another classification or extraction call.
	ship := ships.seed(&shipments.Shipment{BLNumber: "MAEU123456789"})
	callsBefore := extractor.calls

	stats, err := env.pipeline.HandleRelink(context.Background(), &queues.RelinkMessage{
		ShipmentID:     ship.ID,
		IdentifierKind: "bl",
		Identifier:     "MAEU123456789",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 1, stats.Relinked)
	assert.Equal(t, callsBefore, extractor.calls)

	got, err = env.docs.GetByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, docs.LinkStatusLinked, got.LinkStatus)
}

func TestHandleRelinkSkipsOrphansWithoutIdentifier(t *testing.T) {
	orphan := &docs.Document{
		ID:            4,
		SenderAddress: "someone@other.example",
		Subject:       "General update",
		DocumentType:  docs.TypeGeneralCorrespondence,
		Direction:     docs.DirectionInbound,
		LinkStatus:    docs.LinkStatusOrphaned,
		RawEntities: map[string][]string{
			string(entities.TypeBLNumber): {"COSU999999999"},
		},
	}
	env := newTestEnv(newMemDocs(orphan), newMemShips(), &stubExtractor{})

	stats, err := env.pipeline.HandleRelink(context.Background(), &queues.RelinkMessage{
		ShipmentID:     1,
		IdentifierKind: "bl",
		Identifier:     "MAEU123456789",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 0, stats.Relinked)
	assert.Equal(t, 1, stats.Skipped)
}

func TestAuthorityKeepsContractualValueOnMerge(t *testing.T) {
	ships := newMemShips()
	ship := ships.seed(&shipments.Shipment{BookingNumber: "263714007"})
	ship.Fields[entities.TypeBookingNumber] = shipments.FieldSlot{
		Value: "263714007", SourceDocumentType: docs.TypeBookingConfirmation, AuthorityLevel: 1,
	}
	ship.Fields[entities.TypeShipperName] = shipments.FieldSlot{
		Value: "Acme Exports Ltd", SourceDocumentType: docs.TypeBillOfLading, AuthorityLevel: 1,
	}

	si := &docs.Document{
		ID:            5,
		SenderAddress: "shipper@customer.example",
		Subject:       "Shipping instruction for booking 263714007",
		DocumentType:  docs.TypeShippingInstruction,
		Direction:     docs.DirectionInbound,
		LinkStatus:    docs.LinkStatusPending,
		RawEntities: map[string][]string{
			string(entities.TypeBookingNumber): {"263714007"},
			string(entities.TypeShipperName):   {"ACME EXPORT LIMITED"},
		},
	}

	env := newTestEnv(newMemDocs(si), ships, &stubExtractor{})

	result, err := env.pipeline.Process(context.Background(), 5, ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, linker.OutcomeMatched, result.Link.Outcome)

	got, err := env.ships.GetByID(context.Background(), ship.ID)
	require.NoError(t, err)

	// The BL already holds shipper_name at level 1; the SI at level 2
	// must not displace it.
	slot, ok := got.Field(entities.TypeShipperName)
	require.True(t, ok)
	assert.Equal(t, "Acme Exports Ltd", slot.Value)
	assert.Equal(t, docs.TypeBillOfLading, slot.SourceDocumentType)
}

func TestRebuildShipmentStateCorrectsDrift(t *testing.T) {
	ships := newMemShips()
	ship := ships.seed(&shipments.Shipment{
		BookingNumber: "263714007",
		WorkflowState: workflow.StateCargoReleased,
	})

	confirmation := bookingConfirmationDoc(1)
	confirmation.DocumentType = docs.TypeBookingConfirmation
	confirmation.Direction = docs.DirectionInbound
	confirmation.LinkStatus = docs.LinkStatusLinked

	env := newTestEnv(newMemDocs(confirmation), ships, &stubExtractor{})
	env.ships.links = append(env.ships.links, shipments.Link{DocumentID: 1, ShipmentID: ship.ID})

	fold, err := env.pipeline.RebuildShipmentState(context.Background(), ship.ID)
	require.NoError(t, err)
	assert.True(t, fold.Changed)
	assert.Equal(t, workflow.StateBookingConfirmationReceived, fold.State)

	got, err := env.ships.GetByID(context.Background(), ship.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateBookingConfirmationReceived, got.WorkflowState)
}

func TestRebuildShipmentStateNoDriftNoWrite(t *testing.T) {
	ships := newMemShips()
	ship := ships.seed(&shipments.Shipment{
		BookingNumber: "263714007",
		WorkflowState: workflow.StateBookingConfirmationReceived,
	})

	confirmation := bookingConfirmationDoc(1)
	confirmation.DocumentType = docs.TypeBookingConfirmation
	confirmation.Direction = docs.DirectionInbound
	confirmation.LinkStatus = docs.LinkStatusLinked
	updatedBefore := ship.WorkflowStateUpdatedAt

	env := newTestEnv(newMemDocs(confirmation), ships, &stubExtractor{})
	env.ships.links = append(env.ships.links, shipments.Link{DocumentID: 1, ShipmentID: ship.ID})

	fold, err := env.pipeline.RebuildShipmentState(context.Background(), ship.ID)
	require.NoError(t, err)
	assert.False(t, fold.Changed)

	got, err := env.ships.GetByID(context.Background(), ship.ID)
	require.NoError(t, err)
	assert.Equal(t, updatedBefore, got.WorkflowStateUpdatedAt)
}

func TestProcessReusesStoredClassificationAndEntities(t *testing.T) {
	doc := bookingConfirmationDoc(1)
	doc.DocumentType = docs.TypeBookingConfirmation
	doc.Direction = docs.DirectionInbound
	doc.Confidence = 90
	doc.ClassifiedVia = "maersk_booking_confirmation"
	doc.RawEntities = map[string][]string{
		string(entities.TypeBookingNumber): {"263714007"},
	}

	extractor := &stubExtractor{}
	env := newTestEnv(newMemDocs(doc), newMemShips(), extractor)

	result, err := env.pipeline.Process(context.Background(), 1, ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, extractor.calls)
	assert.Equal(t, "maersk_booking_confirmation", result.Classification.Via)

	booking, ok := result.Entities.Get(entities.TypeBookingNumber)
	require.True(t, ok)
	assert.Equal(t, "263714007", booking)
}

func TestProcessUnknownDirectionDefaultsInbound(t *testing.T) {
	doc := &docs.Document{
		ID:            9,
		SenderAddress: "unknown@nowhere.example",
		Subject:       "hello",
		BodyExcerpt:   "hello there",
		LinkStatus:    docs.LinkStatusPending,
	}
	env := newTestEnv(newMemDocs(doc), newMemShips(), &stubExtractor{})

	result, err := env.pipeline.Process(context.Background(), 9, ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, docs.DirectionInbound, result.Classification.Direction)

	got, err := env.docs.GetByID(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, docs.DirectionInbound, got.Direction)
}

func TestProcessDocumentNotFound(t *testing.T) {
	env := newTestEnv(newMemDocs(), newMemShips(), &stubExtractor{})
	_, err := env.pipeline.Process(context.Background(), 404, ProcessOptions{})
	require.Error(t, err)
	assert.True(t, cverrors.IsNotFound(err))
}

func TestHandleMessageDispatch(t *testing.T) {
	extractor := &stubExtractor{raws: []entities.RawEntity{
		{Type: entities.TypeBookingNumber, Value: "263714007", Confidence: 95},
	}}
	env := newTestEnv(newMemDocs(bookingConfirmationDoc(1)), newMemShips(), extractor)

	err := env.pipeline.HandleMessage(context.Background(), &queues.DocumentMessage{DocumentID: 1})
	require.NoError(t, err)

	got, err := env.docs.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, docs.LinkStatusLinked, got.LinkStatus)

	err = env.pipeline.HandleMessage(context.Background(), &queues.RelinkMessage{
		IdentifierKind: "booking", Identifier: "999999999",
	})
	require.NoError(t, err)
}

func TestReclassifySweepReturnsCursor(t *testing.T) {
	docsStore := newMemDocs(
		bookingConfirmationDoc(1),
		bookingConfirmationDoc(2),
		bookingConfirmationDoc(3),
	)
	extractor := &stubExtractor{raws: []entities.RawEntity{
		{Type: entities.TypeBookingNumber, Value: "263714007", Confidence: 95},
	}}
	env := newTestEnv(docsStore, newMemShips(), extractor)

	lastID, processed, failed, err := env.pipeline.ReclassifySweep(context.Background(), 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), lastID)
	assert.Equal(t, 2, processed)
	assert.Zero(t, failed)

	lastID, processed, failed, err = env.pipeline.ReclassifySweep(context.Background(), lastID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), lastID)
	assert.Equal(t, 1, processed)
	assert.Zero(t, failed)
}

func TestRebuildEqualsIncremental(t *testing.T) {
	extractor := &stubExtractor{raws: []entities.RawEntity{
		{Type: entities.TypeBookingNumber, Value: "263714007", Confidence: 95},
	}}
	sob := &docs.Document{
		ID:            2,
		SenderAddress: "notifications@maersk.com",
		Subject:       "Shipped on Board - Booking 263714007",
		BodyExcerpt:   "Cargo shipped on board.",
		LinkStatus:    docs.LinkStatusPending,
	}
	env := newTestEnv(newMemDocs(bookingConfirmationDoc(1), sob), newMemShips(), extractor)

	first, err := env.pipeline.Process(context.Background(), 1, ProcessOptions{})
	require.NoError(t, err)
	_, err = env.pipeline.Process(context.Background(), 2, ProcessOptions{})
	require.NoError(t, err)

	shipBefore, err := env.ships.GetByID(context.Background(), first.Link.ShipmentID)
	require.NoError(t, err)

	fold, err := env.pipeline.RebuildShipmentState(context.Background(), first.Link.ShipmentID)
	require.NoError(t, err)
	assert.False(t, fold.Changed)
	assert.Equal(t, shipBefore.WorkflowState, fold.State)
}

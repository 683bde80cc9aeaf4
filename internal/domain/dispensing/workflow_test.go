package dispensing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/pharmd/pharmd/internal/domain/catalog"
	"github.com/pharmd/pharmd/internal/domain/inventory"
	"github.com/pharmd/pharmd/internal/domain/prescription"
	"github.com/pharmd/pharmd/internal/domain/validation"
	"github.com/pharmd/pharmd/pkg/bizerror"
)

type mockPrescriptions struct {
	byID map[uuid.UUID]*prescription.Prescription
}

func (m *mockPrescriptions) Get(_ context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, bizerror.New(bizerror.CodeNotFound, "prescription %s not found", id)
	}
	cp := *p
	cp.Items = append([]prescription.PrescriptionItem(nil), p.Items...)
	return &cp, nil
}

func (m *mockPrescriptions) Transition(_ context.Context, id uuid.UUID, to prescription.Status) (*prescription.Prescription, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, bizerror.New(bizerror.CodeNotFound, "prescription %s not found", id)
	}
	p.Status = to
	return p, nil
}

type mockMedicines struct {
	byID map[uuid.UUID]*catalog.Medicine
}

func (m *mockMedicines) GetMedicine(_ context.Context, id uuid.UUID) (*catalog.Medicine, error) {
	return m.byID[id], nil
}

type noAllergies struct{}

func (noAllergies) ListByPatient(context.Context, uuid.UUID) ([]*prescription.AllergyRecord, error) {
	return nil, nil
}

type wfFixture struct {
	wf        *Workflow
	stock     *inventory.Service
	stockRepo *inventory.MemRepository
	records   *MemRepository
	rxs       *mockPrescriptions
	meds      *mockMedicines
}

func newWfFixture(t *testing.T) *wfFixture {
	t.Helper()
	f := &wfFixture{
		stockRepo: inventory.NewMemRepository(),
		records:   NewMemRepository(),
		rxs:       &mockPrescriptions{byID: make(map[uuid.UUID]*prescription.Prescription)},
		meds:      &mockMedicines{byID: make(map[uuid.UUID]*catalog.Medicine)},
	}
	f.stock = inventory.NewService(f.stockRepo, nil, zerolog.Nop(), inventory.Options{})
	pipeline := validation.NewPipeline(f.meds, f.stock, noAllergies{}, nil, nil, zerolog.Nop())
	f.wf = NewWorkflow(f.records, f.stock, f.rxs, pipeline, f.meds, zerolog.Nop())
	return f
}

// addMedicine registers a catalog entry and stocks one batch of it.
func (f *wfFixture) addMedicine(t *testing.T, name string, stock int64, unitCost float64, controlled bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.meds.byID[id] = &catalog.Medicine{
		ID: id, Code: name, Name: name, Status: "active", IsControlled: controlled,
	}
	if stock > 0 {
		_, err := f.stock.RecordIn(context.Background(), inventory.StockInInput{
			MedicineID: id,
			BatchNo:    "LOT-" + name,
			Quantity:   stock,
			ExpiryDate: time.Now().AddDate(1, 0, 0),
			UnitCost:   decimal.NewFromFloat(unitCost),
		})
		if err != nil {
			t.Fatalf("seed stock for %s: %v", name, err)
		}
	}
	return id
}

func (f *wfFixture) addPrescription(items ...prescription.PrescriptionItem) *prescription.Prescription {
	now := time.Now().UTC()
	p := &prescription.Prescription{
		ID:         uuid.New(),
		PatientID:  uuid.New(),
		Status:     prescription.StatusReviewed,
		IssuedAt:   now.Add(-time.Hour),
		ValidUntil: now.AddDate(0, 0, 14),
		Items:      items,
	}
	f.rxs.byID[p.ID] = p
	return p
}

func (f *wfFixture) available(t *testing.T, medID uuid.UUID) int64 {
	t.Helper()
	summary, err := f.stock.QueryStock(context.Background(), medID)
	if err != nil {
		t.Fatalf("QueryStock() error = %v", err)
	}
	return summary.TotalAvailable
}

func TestStartReservesStockAndBlocksSecondStart(t *testing.T) {
	f := newWfFixture(t)
	medID := f.addMedicine(t, "AMOX", 100, 1.20, false)
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: medID, Quantity: 20})

	rec, report, err := f.wf.Start(context.Background(), rx.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if rec.Status != StatusInProgress || report.Verdict != validation.VerdictPass {
		t.Fatalf("record %s / verdict %s, want in-progress / pass", rec.Status, report.Verdict)
	}
	if got := f.available(t, medID); got != 80 {
		t.Errorf("available after start = %d, want 80", got)
	}

	_, _, err = f.wf.Start(context.Background(), rx.ID, "pharmacist-2")
	if !bizerror.IsCode(err, bizerror.CodeAlreadyExists) {
		t.Fatalf("second Start() error = %v, want %s", err, bizerror.CodeAlreadyExists)
	}
}

func TestPrecheckReportsWithoutReserving(t *testing.T) {
	f := newWfFixture(t)
	medID := f.addMedicine(t, "AMOX", 100, 1.20, false)
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: medID, Quantity: 20})

	report, err := f.wf.Precheck(context.Background(), rx.ID)
	if err != nil {
		t.Fatalf("Precheck() error = %v", err)
	}
	if report.Verdict != validation.VerdictPass {
		t.Fatalf("verdict = %s, want pass", report.Verdict)
	}
	if got := f.available(t, medID); got != 100 {
		t.Fatalf("available after precheck = %d, want untouched 100", got)
	}
	if rec, err := f.records.FindActive(context.Background(), rx.ID); err != nil || rec != nil {
		t.Fatalf("FindActive() = %v, %v, want no record", rec, err)
	}
}

func TestStartRequiresReviewedPrescription(t *testing.T) {
	f := newWfFixture(t)
	medID := f.addMedicine(t, "AMOX", 100, 1.20, false)
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: medID, Quantity: 20})
	rx.Status = prescription.StatusDraft
	f.rxs.byID[rx.ID] = rx

	_, _, err := f.wf.Start(context.Background(), rx.ID, "pharmacist-1")
	if !bizerror.IsCode(err, bizerror.CodeNotEligible) {
		t.Fatalf("Start(draft) error = %v, want %s", err, bizerror.CodeNotEligible)
	}
}

func TestStartFailedValidationReservesNothing(t *testing.T) {
	f := newWfFixture(t)
	medID := f.addMedicine(t, "AMOX", 0, 1.20, false)
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: medID, Quantity: 20})

	_, report, err := f.wf.Start(context.Background(), rx.ID, "pharmacist-1")
	if !bizerror.IsCode(err, bizerror.CodeNotEligible) {
		t.Fatalf("Start() error = %v, want %s", err, bizerror.CodeNotEligible)
	}
	if report == nil || report.Verdict != validation.VerdictFail {
		t.Fatalf("report = %+v, want fail verdict", report)
	}
	if got := f.available(t, medID); got != 0 {
		t.Errorf("available = %d, want 0 reserved nothing", got)
	}
}

func TestHappyPathThroughDelivery(t *testing.T) {
	f := newWfFixture(t)
	medID := f.addMedicine(t, "AMOX", 100, 1.25, false)
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: medID, Quantity: 20})

	rec, _, err := f.wf.Start(context.Background(), rx.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.wf.DispenseItem(context.Background(), rec.ID, medID, "", 0, "pharmacist-1"); err != nil {
		t.Fatalf("DispenseItem() error = %v", err)
	}

	completed, err := f.wf.Complete(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	wantTotal := decimal.NewFromFloat(25.00) // 20 * 1.25
	if !completed.TotalCost.Equal(wantTotal) {
		t.Errorf("TotalCost = %s, want %s", completed.TotalCost, wantTotal)
	}
	if f.rxs.byID[rx.ID].Status != prescription.StatusDispensed {
		t.Errorf("prescription = %s, want dispensed", f.rxs.byID[rx.ID].Status)
	}

	delivered, err := f.wf.Deliver(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if delivered.Status != StatusDelivered || delivered.DeliveredAt == nil {
		t.Errorf("record = %+v, want delivered with timestamp", delivered)
	}
	if f.rxs.byID[rx.ID].Status != prescription.StatusDelivered {
		t.Errorf("prescription = %s, want delivered", f.rxs.byID[rx.ID].Status)
	}
	if got := f.available(t, medID); got != 80 {
		t.Errorf("available = %d, want 80 after consuming 20", got)
	}
}

func TestDeliverBlockedUntilReviewWhenFlagged(t *testing.T) {
	f := newWfFixture(t)
	medID := f.addMedicine(t, "MORPH", 50, 8.00, true)
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: medID, Quantity: 5})

	rec, report, err := f.wf.Start(context.Background(), rx.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if report.Verdict != validation.VerdictNeedsReview || !rec.NeedsReview {
		t.Fatalf("verdict %s needsReview %v, want needs-review/true", report.Verdict, rec.NeedsReview)
	}
	if _, err := f.wf.DispenseItem(context.Background(), rec.ID, medID, "", 0, "pharmacist-1"); err != nil {
		t.Fatalf("DispenseItem() error = %v", err)
	}
	if _, err := f.wf.Complete(context.Background(), rec.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	_, err = f.wf.Deliver(context.Background(), rec.ID)
	if !bizerror.IsCode(err, bizerror.CodeNotEligible) {
		t.Fatalf("Deliver(unreviewed) error = %v, want %s", err, bizerror.CodeNotEligible)
	}

	if _, err := f.wf.Review(context.Background(), rec.ID, "pharmacist-2"); err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if _, err := f.wf.Deliver(context.Background(), rec.ID); err != nil {
		t.Fatalf("Deliver(reviewed) error = %v", err)
	}
}

func TestCancelAfterDispenseIsStockNeutral(t *testing.T) {
	f := newWfFixture(t)
	medID := f.addMedicine(t, "AMOX", 100, 1.20, false)
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: medID, Quantity: 20})

	rec, _, err := f.wf.Start(context.Background(), rx.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.wf.DispenseItem(context.Background(), rec.ID, medID, "", 0, "pharmacist-1"); err != nil {
		t.Fatalf("DispenseItem() error = %v", err)
	}
	if _, err := f.wf.Complete(context.Background(), rec.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	cancelled, err := f.wf.Cancel(context.Background(), rec.ID, "patient declined", "pharmacist-1")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if got := f.available(t, medID); got != 100 {
		t.Errorf("available = %d, want 100 restored", got)
	}

	// The ledger keeps both sides of the story: the out and its credit.
	txs, _, err := f.stock.ListLedger(context.Background(), medID, "LOT-AMOX", 50, 0)
	if err != nil {
		t.Fatalf("ListLedger() error = %v", err)
	}
	var outs, cancels int
	for _, tx := range txs {
		switch tx.Type {
		case inventory.TxOut:
			outs++
		case inventory.TxCancel:
			cancels++
		}
	}
	if outs != 1 || cancels != 1 {
		t.Errorf("ledger has %d outs and %d cancels, want 1 and 1", outs, cancels)
	}
}

func TestDeliveredRecordIsTerminal(t *testing.T) {
	f := newWfFixture(t)
	medID := f.addMedicine(t, "AMOX", 100, 1.20, false)
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: medID, Quantity: 10})

	rec, _, err := f.wf.Start(context.Background(), rx.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.wf.DispenseItem(context.Background(), rec.ID, medID, "", 0, "pharmacist-1"); err != nil {
		t.Fatalf("DispenseItem() error = %v", err)
	}
	if _, err := f.wf.Complete(context.Background(), rec.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if _, err := f.wf.Deliver(context.Background(), rec.ID); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if _, err := f.wf.Return(context.Background(), rec.ID, "adverse reaction", "pharmacist-1"); !bizerror.IsCode(err, bizerror.CodeInvalidStateTransition) {
		t.Errorf("Return(delivered) error = %v, want %s", err, bizerror.CodeInvalidStateTransition)
	}
	if _, err := f.wf.Cancel(context.Background(), rec.ID, "second thoughts", "pharmacist-1"); !bizerror.IsCode(err, bizerror.CodeInvalidStateTransition) {
		t.Errorf("Cancel(delivered) error = %v, want %s", err, bizerror.CodeInvalidStateTransition)
	}
	if _, err := f.wf.Deliver(context.Background(), rec.ID); !bizerror.IsCode(err, bizerror.CodeInvalidStateTransition) {
		t.Errorf("second Deliver() error = %v, want %s", err, bizerror.CodeInvalidStateTransition)
	}
	if got := f.available(t, medID); got != 90 {
		t.Errorf("available = %d, want 90: delivered goods stay consumed", got)
	}
}

func TestReturnBeforeDeliveryCreditsStock(t *testing.T) {
	f := newWfFixture(t)
	medID := f.addMedicine(t, "AMOX", 100, 1.20, false)
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: medID, Quantity: 10})

	rec, _, err := f.wf.Start(context.Background(), rx.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.wf.DispenseItem(context.Background(), rec.ID, medID, "", 0, "pharmacist-1"); err != nil {
		t.Fatalf("DispenseItem() error = %v", err)
	}
	if _, err := f.wf.Complete(context.Background(), rec.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	returned, err := f.wf.Return(context.Background(), rec.ID, "patient brought it back", "pharmacist-1")
	if err != nil {
		t.Fatalf("Return() error = %v", err)
	}
	if returned.Status != StatusReturned {
		t.Errorf("status = %s, want returned", returned.Status)
	}
	if got := f.available(t, medID); got != 100 {
		t.Errorf("available = %d, want 100 restored", got)
	}

	txs, _, err := f.stock.ListLedger(context.Background(), medID, "LOT-AMOX", 50, 0)
	if err != nil {
		t.Fatalf("ListLedger() error = %v", err)
	}
	var returns int
	for _, tx := range txs {
		if tx.Type == inventory.TxReturn {
			returns++
		}
	}
	if returns != 1 {
		t.Errorf("ledger has %d return entries, want 1", returns)
	}
}

func TestCancelInProgressReleasesReservations(t *testing.T) {
	f := newWfFixture(t)
	medID := f.addMedicine(t, "AMOX", 100, 1.20, false)
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: medID, Quantity: 20})

	rec, _, err := f.wf.Start(context.Background(), rx.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := f.available(t, medID); got != 80 {
		t.Fatalf("available = %d, want 80 while reserved", got)
	}

	if _, err := f.wf.Cancel(context.Background(), rec.ID, "wrong patient", "pharmacist-1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if got := f.available(t, medID); got != 100 {
		t.Errorf("available = %d, want 100 after release", got)
	}
	if f.rxs.byID[rx.ID].Status != prescription.StatusCancelled {
		t.Errorf("prescription = %s, want cancelled", f.rxs.byID[rx.ID].Status)
	}
}

func TestSubstituteSwapsReservation(t *testing.T) {
	f := newWfFixture(t)
	origID := f.addMedicine(t, "AMOX", 50, 1.20, false)
	subID := f.addMedicine(t, "AMOX-GEN", 50, 0.80, false)
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: origID, Quantity: 10, Substitutable: true})

	rec, _, err := f.wf.Start(context.Background(), rx.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	swapped, err := f.wf.Substitute(context.Background(), rec.ID, origID, subID)
	if err != nil {
		t.Fatalf("Substitute() error = %v", err)
	}
	if !swapped.NeedsReview {
		t.Error("NeedsReview = false, want true after substitution")
	}
	item := swapped.item(subID)
	if item == nil || item.SubstitutedFor == nil || *item.SubstitutedFor != origID {
		t.Fatalf("item = %+v, want substituted line for %s", item, subID)
	}
	if got := f.available(t, origID); got != 50 {
		t.Errorf("original available = %d, want 50 released", got)
	}
	if got := f.available(t, subID); got != 40 {
		t.Errorf("substitute available = %d, want 40 reserved", got)
	}

	if _, err := f.wf.DispenseItem(context.Background(), rec.ID, subID, "", 0, "pharmacist-1"); err != nil {
		t.Fatalf("DispenseItem(substitute) error = %v", err)
	}
	completed, err := f.wf.Complete(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if want := decimal.NewFromFloat(8.00); !completed.TotalCost.Equal(want) {
		t.Errorf("TotalCost = %s, want %s", completed.TotalCost, want)
	}
}

func TestSubstituteRequiresPrescriberPermission(t *testing.T) {
	f := newWfFixture(t)
	origID := f.addMedicine(t, "AMOX", 50, 1.20, false)
	subID := f.addMedicine(t, "AMOX-GEN", 50, 0.80, false)
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: origID, Quantity: 10, Substitutable: false})

	rec, _, err := f.wf.Start(context.Background(), rx.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_, err = f.wf.Substitute(context.Background(), rec.ID, origID, subID)
	if !bizerror.IsCode(err, bizerror.CodeNotEligible) {
		t.Fatalf("Substitute() error = %v, want %s", err, bizerror.CodeNotEligible)
	}
}

func TestDispenseItemPartialQuantityReleasesRemainder(t *testing.T) {
	f := newWfFixture(t)
	medID := f.addMedicine(t, "AMOX", 100, 1.00, false)
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: medID, Quantity: 20})

	rec, _, err := f.wf.Start(context.Background(), rx.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	rec, err = f.wf.DispenseItem(context.Background(), rec.ID, medID, "", 15, "pharmacist-1")
	if err != nil {
		t.Fatalf("DispenseItem(15 of 20) error = %v", err)
	}

	item := rec.item(medID)
	var held int64
	for _, leg := range item.Allocations {
		held += leg.Quantity
	}
	if held != 15 {
		t.Errorf("dispensed legs total = %d, want 15", held)
	}
	if want := decimal.NewFromFloat(15.00); !item.Cost.Equal(want) {
		t.Errorf("item cost = %s, want %s", item.Cost, want)
	}
	// 15 consumed, the untaken 5 released straight back.
	if got := f.available(t, medID); got != 85 {
		t.Errorf("available = %d, want 85", got)
	}
}

func TestDispenseItemQuantityAboveRxRejected(t *testing.T) {
	f := newWfFixture(t)
	medID := f.addMedicine(t, "AMOX", 100, 1.00, false)
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: medID, Quantity: 20})

	rec, _, err := f.wf.Start(context.Background(), rx.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_, err = f.wf.DispenseItem(context.Background(), rec.ID, medID, "", 25, "pharmacist-1")
	if !bizerror.IsCode(err, bizerror.CodeInvalidInput) {
		t.Fatalf("DispenseItem(25 of 20) error = %v, want %s", err, bizerror.CodeInvalidInput)
	}
}

func TestDispenseItemBatchOverrideRepinsReservation(t *testing.T) {
	f := newWfFixture(t)
	medID := f.addMedicine(t, "AMOX", 100, 1.00, false)
	// A later-expiring batch the allocator would not pick on its own.
	if _, err := f.stock.RecordIn(context.Background(), inventory.StockInInput{
		MedicineID: medID,
		BatchNo:    "LOT-LATE",
		Quantity:   50,
		ExpiryDate: time.Now().AddDate(2, 0, 0),
		UnitCost:   decimal.NewFromFloat(1.00),
	}); err != nil {
		t.Fatalf("seed second batch: %v", err)
	}
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: medID, Quantity: 20})

	rec, _, err := f.wf.Start(context.Background(), rx.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	rec, err = f.wf.DispenseItem(context.Background(), rec.ID, medID, "LOT-LATE", 0, "pharmacist-1")
	if err != nil {
		t.Fatalf("DispenseItem(LOT-LATE) error = %v", err)
	}

	item := rec.item(medID)
	if len(item.Allocations) != 1 || item.Allocations[0].BatchNo != "LOT-LATE" || item.Allocations[0].Quantity != 20 {
		t.Fatalf("allocations = %+v, want 20 from LOT-LATE", item.Allocations)
	}

	summary, err := f.stock.QueryStock(context.Background(), medID)
	if err != nil {
		t.Fatalf("QueryStock() error = %v", err)
	}
	for _, b := range summary.Batches {
		switch b.BatchNo {
		case "LOT-AMOX":
			if b.CurrentStock != 100 || b.ReservedStock != 0 {
				t.Errorf("LOT-AMOX current/reserved = %d/%d, want 100/0 untouched", b.CurrentStock, b.ReservedStock)
			}
		case "LOT-LATE":
			if b.CurrentStock != 30 {
				t.Errorf("LOT-LATE current = %d, want 30 after consuming 20", b.CurrentStock)
			}
		}
	}
}

func TestDispenseItemBatchOverrideShortfall(t *testing.T) {
	f := newWfFixture(t)
	medID := f.addMedicine(t, "AMOX", 100, 1.00, false)
	if _, err := f.stock.RecordIn(context.Background(), inventory.StockInInput{
		MedicineID: medID,
		BatchNo:    "LOT-THIN",
		Quantity:   5,
		ExpiryDate: time.Now().AddDate(2, 0, 0),
		UnitCost:   decimal.NewFromFloat(1.00),
	}); err != nil {
		t.Fatalf("seed second batch: %v", err)
	}
	rx := f.addPrescription(prescription.PrescriptionItem{MedicineID: medID, Quantity: 20})

	rec, _, err := f.wf.Start(context.Background(), rx.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_, err = f.wf.DispenseItem(context.Background(), rec.ID, medID, "LOT-THIN", 0, "pharmacist-1")
	if !bizerror.IsCode(err, bizerror.CodeInsufficientStock) {
		t.Fatalf("DispenseItem(LOT-THIN) error = %v, want %s", err, bizerror.CodeInsufficientStock)
	}
	if _, err := f.wf.DispenseItem(context.Background(), rec.ID, medID, "NO-SUCH-LOT", 0, "pharmacist-1"); !bizerror.IsCode(err, bizerror.CodeNotFound) {
		t.Fatalf("DispenseItem(NO-SUCH-LOT) error = %v, want %s", err, bizerror.CodeNotFound)
	}

	// The failed overrides put the original reservation back; the default
	// pick still goes through.
	if got := f.available(t, medID); got != 85 {
		t.Errorf("available = %d, want 85 still reserved", got)
	}
	if _, err := f.wf.DispenseItem(context.Background(), rec.ID, medID, "", 0, "pharmacist-1"); err != nil {
		t.Fatalf("DispenseItem(default) error = %v", err)
	}
}

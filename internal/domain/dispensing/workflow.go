package dispensing

import (
	"context"
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

// Stock is the slice of the inventory service the workflow drives.
type Stock interface {
	Reserve(ctx context.Context, medicineID uuid.UUID, quantity int64, ref string) ([]inventory.Allocation, error)
	ReserveBatch(ctx context.Context, medicineID uuid.UUID, batchNo string, quantity int64, ref string) ([]inventory.Allocation, error)
	Release(ctx context.Context, medicineID uuid.UUID, legs []inventory.Allocation, ref string) error
	Lock(ctx context.Context, medicineID uuid.UUID, legs []inventory.Allocation, ref string) error
	Unlock(ctx context.Context, medicineID uuid.UUID, legs []inventory.Allocation, ref string) error
	ConsumeLocked(ctx context.Context, medicineID uuid.UUID, legs []inventory.Allocation, reason, ref, recordedBy string) error
	RecordCredit(ctx context.Context, in inventory.CreditInput) (*inventory.Batch, error)
	QueryStock(ctx context.Context, medicineID uuid.UUID) (*inventory.StockSummary, error)
}

// Prescriptions is the slice of the prescription service the workflow drives.
type Prescriptions interface {
	Get(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error)
	Transition(ctx context.Context, id uuid.UUID, to prescription.Status) (*prescription.Prescription, error)
}

// Validator runs the pre-dispense safety checks.
type Validator interface {
	Validate(ctx context.Context, rx *prescription.Prescription) (*validation.Report, error)
}

// Medicines resolves catalog entries, needed for substitutions.
type Medicines interface {
	GetMedicine(ctx context.Context, id uuid.UUID) (*catalog.Medicine, error)
}

// validRecordTransitions is the closed dispense record state machine.
var validRecordTransitions = map[Status]map[Status]bool{
	StatusInProgress: {StatusCompleted: true, StatusReturned: true, StatusCancelled: true},
	StatusCompleted:  {StatusReviewed: true, StatusDelivered: true, StatusReturned: true, StatusCancelled: true},
	StatusReviewed:   {StatusDelivered: true, StatusReturned: true, StatusCancelled: true},
	StatusDelivered:  {},
	StatusReturned:   {},
	StatusCancelled:  {},
}

func checkRecordTransition(from, to Status) error {
	if !validRecordTransitions[from][to] {
		return bizerror.New(bizerror.CodeInvalidStateTransition,
			"cannot move dispense record from %s to %s", from, to)
	}
	return nil
}

// Workflow coordinates a dispense from validation through delivery, and the
// compensating path back out. Stock moves through reserve -> lock -> consume
// so nothing is oversold between steps, and every credit targets the exact
// batches the dispense debited.
type Workflow struct {
	repo          Repository
	stock         Stock
	prescriptions Prescriptions
	validator     Validator
	medicines     Medicines
	log           zerolog.Logger
	now           func() time.Time
}

func NewWorkflow(repo Repository, stock Stock, prescriptions Prescriptions, validator Validator, medicines Medicines, log zerolog.Logger) *Workflow {
	return &Workflow{
		repo:          repo,
		stock:         stock,
		prescriptions: prescriptions,
		validator:     validator,
		medicines:     medicines,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Precheck runs the validation pipeline for a prescription without opening a
// record or touching stock.
func (w *Workflow) Precheck(ctx context.Context, prescriptionID uuid.UUID) (*validation.Report, error) {
	rx, err := w.prescriptions.Get(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	return w.validator.Validate(ctx, rx)
}

// Start opens a dispense record for a reviewed prescription. The validation
// report is returned alongside the record; a failed validation blocks the
// dispense and reserves nothing.
func (w *Workflow) Start(ctx context.Context, prescriptionID uuid.UUID, startedBy string) (*Record, *validation.Report, error) {
	rx, err := w.prescriptions.Get(ctx, prescriptionID)
	if err != nil {
		return nil, nil, err
	}
	if rx.Status != prescription.StatusReviewed {
		return nil, nil, bizerror.New(bizerror.CodeNotEligible,
			"prescription %s is %s; it must be reviewed before dispensing", prescriptionID, rx.Status)
	}
	if active, err := w.repo.FindActive(ctx, prescriptionID); err != nil {
		return nil, nil, err
	} else if active != nil {
		return nil, nil, bizerror.New(bizerror.CodeAlreadyExists,
			"prescription %s already has dispense record %s (%s)", prescriptionID, active.ID, active.Status)
	}

	report, err := w.validator.Validate(ctx, rx)
	if err != nil {
		return nil, nil, err
	}
	if report.Verdict == validation.VerdictFail {
		return nil, report, bizerror.New(bizerror.CodeNotEligible,
			"prescription %s failed validation with %d issue(s)", prescriptionID, len(report.Issues))
	}

	recordID := uuid.New()
	rec := &Record{
		ID:             recordID,
		PrescriptionID: prescriptionID,
		PatientID:      rx.PatientID,
		Status:         StatusInProgress,
		NeedsReview:    report.Verdict == validation.VerdictNeedsReview,
		TotalCost:      decimal.Zero,
		StartedBy:      startedBy,
		StartedAt:      w.now(),
	}

	// Reserve every line up front; a mid-way failure releases what was taken.
	for i := range rx.Items {
		item := &rx.Items[i]
		legs, err := w.stock.Reserve(ctx, item.MedicineID, item.Quantity, recordID.String())
		if err != nil {
			w.releaseAll(ctx, rec)
			return nil, report, err
		}
		rec.Items = append(rec.Items, Item{
			ID:           uuid.New(),
			RecordID:     recordID,
			MedicineID:   item.MedicineID,
			MedicineName: item.MedicineName,
			Quantity:     item.Quantity,
			Status:       ItemPending,
			Allocations:  legs,
			Cost:         decimal.Zero,
		})
	}

	if err := w.repo.Create(ctx, rec); err != nil {
		w.releaseAll(ctx, rec)
		return nil, report, err
	}
	w.log.Info().
		Str("record_id", recordID.String()).
		Str("prescription_id", prescriptionID.String()).
		Bool("needs_review", rec.NeedsReview).
		Msg("dispense started")
	return rec, report, nil
}

func (w *Workflow) releaseAll(ctx context.Context, rec *Record) {
	for i := range rec.Items {
		item := &rec.Items[i]
		if item.Status != ItemPending || len(item.Allocations) == 0 {
			continue
		}
		if err := w.stock.Release(ctx, item.MedicineID, item.Allocations, rec.ID.String()); err != nil {
			w.log.Error().Err(err).
				Str("record_id", rec.ID.String()).
				Str("medicine_id", item.MedicineID.String()).
				Msg("failed to release reservation")
		}
	}
}

func (w *Workflow) get(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, bizerror.New(bizerror.CodeNotFound, "dispense record %s not found", id)
	}
	return rec, nil
}

// Get returns a dispense record by id.
func (w *Workflow) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	return w.get(ctx, id)
}

func (w *Workflow) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Record, int, error) {
	return w.repo.List(ctx, filter, limit, offset)
}

// DispenseItem physically picks one line. By default the whole reservation
// made at Start is locked, burned out of stock, and priced from the batches
// it came from; the pharmacist may override the batch or dispense a smaller
// quantity, and stock for an override is re-checked at call time.
func (w *Workflow) DispenseItem(ctx context.Context, recordID, medicineID uuid.UUID, batchNo string, quantity int64, actor string) (*Record, error) {
	rec, err := w.get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusInProgress {
		return nil, bizerror.New(bizerror.CodeInvalidStateTransition,
			"dispense record %s is %s, not in-progress", recordID, rec.Status)
	}
	item := rec.item(medicineID)
	if item == nil {
		return nil, bizerror.New(bizerror.CodeNotFound, "medicine %s is not on record %s", medicineID, recordID)
	}
	if item.Status != ItemPending && item.Status != ItemSubstituted {
		return nil, bizerror.New(bizerror.CodeInvalidStateTransition,
			"item %s is already %s", medicineID, item.Status)
	}
	if quantity == 0 {
		quantity = item.Quantity
	}
	if quantity < 0 || quantity > item.Quantity {
		return nil, bizerror.New(bizerror.CodeInvalidInput,
			"dispense quantity %d must be between 1 and the prescribed %d", quantity, item.Quantity)
	}

	ref := recordID.String()
	legs, err := w.pickLegs(ctx, rec, item, batchNo, quantity)
	if err != nil {
		return nil, err
	}
	leftover := subtractLegs(item.Allocations, legs)

	cost, err := w.priceLegs(ctx, medicineID, legs)
	if err != nil {
		return nil, err
	}

	if err := w.stock.Lock(ctx, medicineID, legs, ref); err != nil {
		return nil, err
	}
	if err := w.stock.ConsumeLocked(ctx, medicineID, legs, "dispense", ref, actor); err != nil {
		if unlockErr := w.stock.Unlock(ctx, medicineID, legs, ref); unlockErr != nil {
			w.log.Error().Err(unlockErr).
				Str("record_id", ref).
				Msg("failed to unlock after consume failure")
		}
		return nil, err
	}
	if len(leftover) > 0 {
		// The untaken remainder goes back to the available pool; if the
		// release fails the TTL sweeper reclaims it later.
		if err := w.stock.Release(ctx, medicineID, leftover, ref); err != nil {
			w.log.Error().Err(err).
				Str("record_id", ref).
				Msg("failed to release undispensed remainder")
		}
	}

	now := w.now()
	item.Cost = cost
	item.Status = ItemDispensed
	item.Allocations = legs
	item.DispensedAt = &now
	if err := w.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// pickLegs resolves which reserved legs a dispense takes. Overrides that the
// reservation cannot satisfy swap the reservation over to the requested
// batch, re-reserving the original plan if the swap falls through.
func (w *Workflow) pickLegs(ctx context.Context, rec *Record, item *Item, batchNo string, quantity int64) ([]inventory.Allocation, error) {
	if batchNo == "" {
		return takeFromLegs(item.Allocations, quantity), nil
	}
	for _, leg := range item.Allocations {
		if leg.BatchNo == batchNo && leg.Quantity >= quantity {
			return []inventory.Allocation{{BatchNo: batchNo, Quantity: quantity}}, nil
		}
	}

	ref := rec.ID.String()
	if err := w.stock.Release(ctx, item.MedicineID, item.Allocations, ref); err != nil {
		return nil, err
	}
	legs, err := w.stock.ReserveBatch(ctx, item.MedicineID, batchNo, quantity, ref)
	if err != nil {
		if relegs, rerr := w.stock.Reserve(ctx, item.MedicineID, item.Quantity, ref); rerr == nil {
			item.Allocations = relegs
		} else {
			item.Allocations = nil
			w.log.Error().Err(rerr).
				Str("record_id", ref).
				Msg("failed to re-reserve after batch override miss")
		}
		if uerr := w.repo.Update(ctx, rec); uerr != nil {
			w.log.Error().Err(uerr).Str("record_id", ref).Msg("failed to persist reservation swap")
		}
		return nil, err
	}
	item.Allocations = legs
	return legs, nil
}

// takeFromLegs carves quantity out of the reserved legs in plan order.
func takeFromLegs(legs []inventory.Allocation, quantity int64) []inventory.Allocation {
	var taken []inventory.Allocation
	remaining := quantity
	for _, leg := range legs {
		if remaining == 0 {
			break
		}
		take := leg.Quantity
		if take > remaining {
			take = remaining
		}
		taken = append(taken, inventory.Allocation{BatchNo: leg.BatchNo, Quantity: take})
		remaining -= take
	}
	return taken
}

// subtractLegs returns what is left of all after removing taken.
func subtractLegs(all, taken []inventory.Allocation) []inventory.Allocation {
	used := make(map[string]int64, len(taken))
	for _, leg := range taken {
		used[leg.BatchNo] += leg.Quantity
	}
	var rest []inventory.Allocation
	for _, leg := range all {
		qty := leg.Quantity - used[leg.BatchNo]
		if qty > leg.Quantity {
			qty = leg.Quantity
		}
		if qty > 0 {
			rest = append(rest, inventory.Allocation{BatchNo: leg.BatchNo, Quantity: qty})
		}
	}
	return rest
}

// priceLegs values an allocation plan at the unit cost of each source batch.
func (w *Workflow) priceLegs(ctx context.Context, medicineID uuid.UUID, legs []inventory.Allocation) (decimal.Decimal, error) {
	summary, err := w.stock.QueryStock(ctx, medicineID)
	if err != nil {
		return decimal.Zero, err
	}
	costs := make(map[string]decimal.Decimal, len(summary.Batches))
	for _, b := range summary.Batches {
		costs[b.BatchNo] = b.UnitCost
	}

	total := decimal.Zero
	for _, leg := range legs {
		unit, ok := costs[leg.BatchNo]
		if !ok {
			return decimal.Zero, bizerror.New(bizerror.CodeIntegrityFault,
				"batch %s vanished while pricing medicine %s", leg.BatchNo, medicineID)
		}
		total = total.Add(unit.Mul(decimal.NewFromInt(leg.Quantity)))
	}
	return total.Round(2), nil
}

// Substitute swaps a pending line for another medicine before it is picked.
// Only lines the prescriber marked substitutable qualify, and the swap
// always routes the record to pharmacist review.
func (w *Workflow) Substitute(ctx context.Context, recordID, medicineID, substituteID uuid.UUID) (*Record, error) {
	if medicineID == substituteID {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "substitute must differ from the original medicine")
	}
	rec, err := w.get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusInProgress {
		return nil, bizerror.New(bizerror.CodeInvalidStateTransition,
			"dispense record %s is %s, not in-progress", recordID, rec.Status)
	}
	item := rec.item(medicineID)
	if item == nil {
		return nil, bizerror.New(bizerror.CodeNotFound, "medicine %s is not on record %s", medicineID, recordID)
	}
	if item.Status != ItemPending {
		return nil, bizerror.New(bizerror.CodeInvalidStateTransition, "item %s is already %s", medicineID, item.Status)
	}

	rx, err := w.prescriptions.Get(ctx, rec.PrescriptionID)
	if err != nil {
		return nil, err
	}
	substitutable := false
	for i := range rx.Items {
		if rx.Items[i].MedicineID == medicineID {
			substitutable = rx.Items[i].Substitutable
			break
		}
	}
	if !substitutable {
		return nil, bizerror.New(bizerror.CodeNotEligible,
			"prescriber did not allow substitution for medicine %s", medicineID)
	}

	sub, err := w.medicines.GetMedicine(ctx, substituteID)
	if err != nil || sub == nil || sub.ID == uuid.Nil {
		return nil, bizerror.New(bizerror.CodeNotFound, "substitute medicine %s not in catalog", substituteID)
	}
	if sub.Status != "active" {
		return nil, bizerror.New(bizerror.CodeNotEligible, "substitute %s is %s", sub.Name, sub.Status)
	}

	newLegs, err := w.stock.Reserve(ctx, substituteID, item.Quantity, recordID.String())
	if err != nil {
		return nil, err
	}
	if err := w.stock.Release(ctx, medicineID, item.Allocations, recordID.String()); err != nil {
		// Roll the new reservation back rather than hold stock twice.
		if relErr := w.stock.Release(ctx, substituteID, newLegs, recordID.String()); relErr != nil {
			w.log.Error().Err(relErr).Str("record_id", recordID.String()).Msg("failed to roll back substitute reservation")
		}
		return nil, err
	}

	original := item.MedicineID
	item.SubstitutedFor = &original
	item.MedicineID = substituteID
	item.MedicineName = sub.Name
	item.Allocations = newLegs
	item.Status = ItemSubstituted
	rec.NeedsReview = true
	if err := w.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Complete closes the picking phase. Every line must have been dispensed;
// the record total is the sum of line costs.
func (w *Workflow) Complete(ctx context.Context, recordID uuid.UUID) (*Record, error) {
	rec, err := w.get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := checkRecordTransition(rec.Status, StatusCompleted); err != nil {
		return nil, err
	}
	total := decimal.Zero
	for i := range rec.Items {
		item := &rec.Items[i]
		if item.Status != ItemDispensed {
			return nil, bizerror.New(bizerror.CodeInvalidStateTransition,
				"item %s is still %s; dispense or substitute it first", item.MedicineID, item.Status)
		}
		total = total.Add(item.Cost)
	}

	now := w.now()
	rec.Status = StatusCompleted
	rec.TotalCost = total.Round(2)
	rec.CompletedAt = &now
	if err := w.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	if _, err := w.prescriptions.Transition(ctx, rec.PrescriptionID, prescription.StatusDispensed); err != nil {
		return nil, err
	}
	return rec, nil
}

// Review records pharmacist sign-off on a completed dispense.
func (w *Workflow) Review(ctx context.Context, recordID uuid.UUID, reviewer string) (*Record, error) {
	rec, err := w.get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := checkRecordTransition(rec.Status, StatusReviewed); err != nil {
		return nil, err
	}

	now := w.now()
	rec.Status = StatusReviewed
	rec.ReviewedBy = reviewer
	rec.ReviewedAt = &now
	if err := w.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Deliver hands the medication to the patient. A record flagged for review
// cannot ship until a pharmacist has signed off.
func (w *Workflow) Deliver(ctx context.Context, recordID uuid.UUID) (*Record, error) {
	rec, err := w.get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.NeedsReview && rec.Status != StatusReviewed {
		return nil, bizerror.New(bizerror.CodeNotEligible,
			"dispense record %s is flagged for review and has not been signed off", recordID)
	}
	if err := checkRecordTransition(rec.Status, StatusDelivered); err != nil {
		return nil, err
	}

	now := w.now()
	rec.Status = StatusDelivered
	rec.DeliveredAt = &now
	if err := w.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	if _, err := w.prescriptions.Transition(ctx, rec.PrescriptionID, prescription.StatusDelivered); err != nil {
		return nil, err
	}
	return rec, nil
}

// Cancel abandons an undelivered dispense: reservations are released,
// already-consumed stock is credited back as a cancellation, and the
// prescription is cancelled with it.
func (w *Workflow) Cancel(ctx context.Context, recordID uuid.UUID, reason, actor string) (*Record, error) {
	return w.unwind(ctx, recordID, reason, actor, StatusCancelled, inventory.TxCancel)
}

// Return takes the goods of an undelivered dispense back into stock as a
// return credit. Delivered records are final; neither path reopens them.
func (w *Workflow) Return(ctx context.Context, recordID uuid.UUID, reason, actor string) (*Record, error) {
	return w.unwind(ctx, recordID, reason, actor, StatusReturned, inventory.TxReturn)
}

func (w *Workflow) unwind(ctx context.Context, recordID uuid.UUID, reason, actor string, target Status, creditType inventory.TxType) (*Record, error) {
	rec, err := w.get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Terminal() {
		return nil, bizerror.New(bizerror.CodeInvalidStateTransition,
			"dispense record %s is already %s", recordID, rec.Status)
	}
	if err := checkRecordTransition(rec.Status, target); err != nil {
		return nil, err
	}

	for i := range rec.Items {
		item := &rec.Items[i]
		switch item.Status {
		case ItemPending, ItemSubstituted:
			if len(item.Allocations) == 0 {
				continue
			}
			if err := w.stock.Release(ctx, item.MedicineID, item.Allocations, recordID.String()); err != nil {
				return nil, err
			}
		case ItemDispensed:
			for _, leg := range item.Allocations {
				_, err := w.stock.RecordCredit(ctx, inventory.CreditInput{
					MedicineID: item.MedicineID,
					BatchNo:    leg.BatchNo,
					Quantity:   leg.Quantity,
					Type:       creditType,
					Reason:     reason,
					Ref:        recordID.String(),
					RecordedBy: actor,
				})
				if err != nil {
					return nil, err
				}
			}
		}
	}

	rec.Status = target
	rec.ClosedReason = reason
	if err := w.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	if _, err := w.prescriptions.Transition(ctx, rec.PrescriptionID, prescription.StatusCancelled); err != nil {
		return nil, err
	}
	w.log.Info().
		Str("record_id", recordID.String()).
		Str("status", string(target)).
		Str("reason", reason).
		Msg("dispense unwound")
	return rec, nil
}

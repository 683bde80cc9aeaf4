package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pharmd/pharmd/internal/domain/catalog"
	"github.com/pharmd/pharmd/internal/domain/prescription"
)

// MedicineSource resolves catalog entries for prescription items.
type MedicineSource interface {
	GetMedicine(ctx context.Context, id uuid.UUID) (*catalog.Medicine, error)
}

// StockSource answers how much of a medicine is currently available.
type StockSource interface {
	AvailableStock(ctx context.Context, medicineID uuid.UUID) (int64, error)
}

// AllergySource lists known allergies for a patient.
type AllergySource interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*prescription.AllergyRecord, error)
}

// Pipeline runs the pre-dispense safety checks. Checks execute in a fixed
// order over items in prescription order, so the same inputs always yield
// the same report.
type Pipeline struct {
	medicines    MedicineSource
	stock        StockSource
	allergies    AllergySource
	interactions InteractionCatalog
	allergens    AllergenCatalog
	log          zerolog.Logger
	now          func() time.Time
}

func NewPipeline(
	medicines MedicineSource,
	stock StockSource,
	allergies AllergySource,
	interactions InteractionCatalog,
	allergens AllergenCatalog,
	log zerolog.Logger,
) *Pipeline {
	if interactions == nil {
		interactions = NewStaticInteractionCatalog()
	}
	if allergens == nil {
		allergens = DefaultAllergenCatalog()
	}
	return &Pipeline{
		medicines:    medicines,
		stock:        stock,
		allergies:    allergies,
		interactions: interactions,
		allergens:    allergens,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Validate evaluates a prescription for dispensing. Infrastructure failures
// (repo errors) return err; clinical findings land in the report.
func (p *Pipeline) Validate(ctx context.Context, rx *prescription.Prescription) (*Report, error) {
	now := p.now()
	report := &Report{PrescriptionID: rx.ID, EvaluatedAt: now}

	p.checkPrescription(rx, now, report)
	if len(rx.Items) == 0 {
		report.addIssue(IssueNoItems, nil, "prescription has no items")
	}

	meds := make(map[uuid.UUID]*catalog.Medicine, len(rx.Items))
	for i := range rx.Items {
		item := &rx.Items[i]
		med, err := p.checkItem(ctx, item, report)
		if err != nil {
			return nil, err
		}
		if med != nil {
			meds[item.MedicineID] = med
		}
	}

	if err := p.checkAllergies(ctx, rx, meds, report); err != nil {
		return nil, err
	}
	p.checkInteractions(rx, meds, report)

	report.finalize()
	p.log.Info().
		Str("prescription_id", rx.ID.String()).
		Str("verdict", string(report.Verdict)).
		Int("issues", len(report.Issues)).
		Int("warnings", len(report.Warnings)).
		Msg("validation complete")
	return report, nil
}

func (p *Pipeline) checkPrescription(rx *prescription.Prescription, now time.Time, report *Report) {
	switch rx.Status {
	case prescription.StatusDraft, prescription.StatusReviewed:
	default:
		report.addIssue(IssueNotActionable, nil,
			fmt.Sprintf("prescription is %s and cannot be dispensed", rx.Status))
		return
	}
	if !rx.IsWithinValidity(now) {
		report.addIssue(IssueExpired, nil,
			fmt.Sprintf("validity window ended %s", rx.ValidUntil.Format("2006-01-02")))
	}
}

func (p *Pipeline) checkItem(ctx context.Context, item *prescription.PrescriptionItem, report *Report) (*catalog.Medicine, error) {
	medID := item.MedicineID
	if item.Quantity <= 0 {
		report.addIssue(IssueBadQuantity, &medID,
			fmt.Sprintf("quantity %d must be positive", item.Quantity))
		return nil, nil
	}
	med, err := p.medicines.GetMedicine(ctx, medID)
	if err != nil || med == nil || med.ID == uuid.Nil {
		report.addIssue(IssueMedicineUnknown, &medID, fmt.Sprintf("medicine %s not in catalog", medID))
		return nil, nil
	}
	if med.Status != "active" {
		report.addIssue(IssueMedicineRetired, &medID, fmt.Sprintf("%s is %s", med.Name, med.Status))
	}

	available, err := p.stock.AvailableStock(ctx, medID)
	if err != nil {
		return nil, fmt.Errorf("stock lookup for %s: %w", medID, err)
	}
	level := StockSufficient
	switch {
	case available <= 0:
		level = StockInsufficient
		report.addIssue(IssueNoStock, &medID, fmt.Sprintf("%s has no stock on hand", med.Name))
	case available < item.Quantity:
		level = StockPartial
		report.addWarning(WarnPartialStock, &medID,
			fmt.Sprintf("%s: requested %d, only %d available", med.Name, item.Quantity, available))
	}
	report.Stock = append(report.Stock, ItemStock{
		MedicineID: medID,
		Requested:  item.Quantity,
		Available:  available,
		Level:      level,
	})

	if med.IsControlled {
		report.addWarning(WarnControlled, &medID, fmt.Sprintf("%s is a controlled substance", med.Name))
	}
	if med.IsSpecial {
		report.addWarning(WarnSpecialHandling, &medID, fmt.Sprintf("%s needs special handling", med.Name))
	}
	return med, nil
}

func (p *Pipeline) checkAllergies(ctx context.Context, rx *prescription.Prescription, meds map[uuid.UUID]*catalog.Medicine, report *Report) error {
	records, err := p.allergies.ListByPatient(ctx, rx.PatientID)
	if err != nil {
		return fmt.Errorf("allergy lookup for patient %s: %w", rx.PatientID, err)
	}
	for i := range rx.Items {
		med, ok := meds[rx.Items[i].MedicineID]
		if !ok {
			continue
		}
		generic := ""
		if med.GenericName != nil {
			generic = *med.GenericName
		}
		for _, rec := range records {
			if p.allergens.Matches(rec.Substance, med.Name, generic) {
				medID := med.ID
				report.addWarning(WarnAllergyConflict, &medID,
					fmt.Sprintf("patient allergy to %s (%s) may apply to %s", rec.Substance, rec.Severity, med.Name))
			}
		}
	}
	return nil
}

func (p *Pipeline) checkInteractions(rx *prescription.Prescription, meds map[uuid.UUID]*catalog.Medicine, report *Report) {
	for i := range rx.Items {
		a, ok := meds[rx.Items[i].MedicineID]
		if !ok {
			continue
		}
		for j := i + 1; j < len(rx.Items); j++ {
			b, ok := meds[rx.Items[j].MedicineID]
			if !ok {
				continue
			}
			if in, found := p.interactions.Lookup(a.Code, b.Code); found {
				medID := a.ID
				report.addWarning(WarnInteraction, &medID,
					fmt.Sprintf("%s interacts with %s (%s): %s", a.Name, b.Name, in.Severity, in.Note))
			}
		}
	}
}

package validation

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is the overall outcome of a validation run.
type Verdict string

const (
	VerdictPass        Verdict = "pass"
	VerdictNeedsReview Verdict = "needs-review"
	VerdictFail        Verdict = "fail"
)

// StockLevel grades availability for one prescription item.
type StockLevel string

const (
	StockSufficient   StockLevel = "sufficient"
	StockPartial      StockLevel = "partially-insufficient"
	StockInsufficient StockLevel = "insufficient"
)

// Issue codes. Issues are hard failures: a single one fails the run.
const (
	IssueNotActionable   = "PRESCRIPTION_NOT_ACTIONABLE"
	IssueExpired         = "PRESCRIPTION_EXPIRED"
	IssueNoItems         = "NO_ITEMS"
	IssueBadQuantity     = "INVALID_QUANTITY"
	IssueMedicineUnknown = "MEDICINE_UNKNOWN"
	IssueMedicineRetired = "MEDICINE_INACTIVE"
	IssueNoStock         = "NO_STOCK"
)

// Warning codes. Warnings downgrade a pass to needs-review but never fail.
const (
	WarnPartialStock    = "PARTIAL_STOCK"
	WarnAllergyConflict = "ALLERGY_CONFLICT"
	WarnInteraction     = "DRUG_INTERACTION"
	WarnControlled      = "CONTROLLED_SUBSTANCE"
	WarnSpecialHandling = "SPECIAL_HANDLING"
)

// Issue is a hard validation failure tied to the prescription or one item.
type Issue struct {
	Code       string     `json:"code"`
	MedicineID *uuid.UUID `json:"medicine_id,omitempty"`
	Detail     string     `json:"detail"`
}

// Warning is a soft finding that routes the dispense to pharmacist review.
type Warning struct {
	Code       string     `json:"code"`
	MedicineID *uuid.UUID `json:"medicine_id,omitempty"`
	Detail     string     `json:"detail"`
}

// ItemStock is the availability snapshot for one item at validation time.
type ItemStock struct {
	MedicineID uuid.UUID  `json:"medicine_id"`
	Requested  int64      `json:"requested"`
	Available  int64      `json:"available"`
	Level      StockLevel `json:"level"`
}

// Report is the full result of one validation run. Findings appear in
// prescription item order, so identical inputs produce identical reports.
type Report struct {
	PrescriptionID uuid.UUID   `json:"prescription_id"`
	Verdict        Verdict     `json:"verdict"`
	Issues         []Issue     `json:"issues"`
	Warnings       []Warning   `json:"warnings"`
	Stock          []ItemStock `json:"stock"`
	EvaluatedAt    time.Time   `json:"evaluated_at"`
}

func (r *Report) addIssue(code string, medicineID *uuid.UUID, detail string) {
	r.Issues = append(r.Issues, Issue{Code: code, MedicineID: medicineID, Detail: detail})
}

func (r *Report) addWarning(code string, medicineID *uuid.UUID, detail string) {
	r.Warnings = append(r.Warnings, Warning{Code: code, MedicineID: medicineID, Detail: detail})
}

// finalize derives the verdict from the collected findings.
func (r *Report) finalize() {
	switch {
	case len(r.Issues) > 0:
		r.Verdict = VerdictFail
	case len(r.Warnings) > 0:
		r.Verdict = VerdictNeedsReview
	default:
		r.Verdict = VerdictPass
	}
}

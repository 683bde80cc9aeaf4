package prescription

import (
	"time"

	"github.com/google/uuid"
)

// Status is the prescription lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusReviewed  Status = "reviewed"
	StatusDispensed Status = "dispensed"
	StatusDelivered Status = "delivered"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Prescription maps to the prescription table. Items are loaded with it.
type Prescription struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	PatientName    string     `db:"patient_name" json:"patient_name"`
	PrescriberID   uuid.UUID  `db:"prescriber_id" json:"prescriber_id"`
	PrescriberName string     `db:"prescriber_name" json:"prescriber_name"`
	Status         Status     `db:"status" json:"status"`
	Diagnosis      string     `db:"diagnosis" json:"diagnosis,omitempty"`
	Notes          string     `db:"notes" json:"notes,omitempty"`
	IssuedAt       time.Time  `db:"issued_at" json:"issued_at"`
	ValidUntil     time.Time  `db:"valid_until" json:"valid_until"`
	ReviewedBy     string     `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`

	Items []PrescriptionItem `db:"-" json:"items"`
}

// PrescriptionItem is one medicine line on a prescription.
type PrescriptionItem struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PrescriptionID uuid.UUID `db:"prescription_id" json:"prescription_id"`
	MedicineID     uuid.UUID `db:"medicine_id" json:"medicine_id"`
	MedicineName   string    `db:"medicine_name" json:"medicine_name"`
	Quantity       int64     `db:"quantity" json:"quantity"`
	Dosage         string    `db:"dosage" json:"dosage,omitempty"`
	Frequency      string    `db:"frequency" json:"frequency,omitempty"`
	DurationDays   int       `db:"duration_days" json:"duration_days,omitempty"`
	Substitutable  bool      `db:"substitutable" json:"substitutable"`
}

// AllergyRecord is a known patient allergy consulted during validation.
type AllergyRecord struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	Substance  string    `db:"substance" json:"substance"`
	Severity   string    `db:"severity" json:"severity"`
	Reaction   string    `db:"reaction" json:"reaction,omitempty"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// IsWithinValidity reports whether the prescription can still be acted on
// at the given time.
func (p *Prescription) IsWithinValidity(now time.Time) bool {
	return !now.Before(p.IssuedAt) && now.Before(p.ValidUntil)
}

// Active reports whether the prescription still participates in dispensing.
func (p *Prescription) Active() bool {
	switch p.Status {
	case StatusDraft, StatusReviewed, StatusDispensed:
		return true
	}
	return false
}

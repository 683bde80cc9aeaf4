package dispensing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmd/pharmd/internal/domain/inventory"
)

// Status is the dispense record lifecycle state.
type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusReviewed   Status = "reviewed"
	StatusDelivered  Status = "delivered"
	StatusReturned   Status = "returned"
	StatusCancelled  Status = "cancelled"
)

// ItemStatus tracks a single line through the picking process.
type ItemStatus string

const (
	ItemPending     ItemStatus = "pending"
	ItemDispensed   ItemStatus = "dispensed"
	ItemSubstituted ItemStatus = "substituted"
)

// Record maps to the dispense_record table: one pharmacist working session
// against one prescription. At most one non-terminal record exists per
// prescription at a time.
type Record struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	PrescriptionID uuid.UUID       `db:"prescription_id" json:"prescription_id"`
	PatientID      uuid.UUID       `db:"patient_id" json:"patient_id"`
	Status         Status          `db:"status" json:"status"`
	NeedsReview    bool            `db:"needs_review" json:"needs_review"`
	TotalCost      decimal.Decimal `db:"total_cost" json:"total_cost"`
	Notes          string          `db:"notes" json:"notes,omitempty"`
	StartedBy      string          `db:"started_by" json:"started_by"`
	StartedAt      time.Time       `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	ReviewedBy     string          `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	DeliveredAt    *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	ClosedReason   string          `db:"closed_reason" json:"closed_reason,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`

	Items []Item `db:"-" json:"items"`
}

// Item is one medicine line on a dispense record. Allocations pin the exact
// batches the quantity was reserved from, so later compensation credits the
// same batches it debited.
type Item struct {
	ID             uuid.UUID              `db:"id" json:"id"`
	RecordID       uuid.UUID              `db:"record_id" json:"record_id"`
	MedicineID     uuid.UUID              `db:"medicine_id" json:"medicine_id"`
	MedicineName   string                 `db:"medicine_name" json:"medicine_name"`
	Quantity       int64                  `db:"quantity" json:"quantity"`
	Status         ItemStatus             `db:"status" json:"status"`
	Allocations    []inventory.Allocation `db:"allocations" json:"allocations"`
	Cost           decimal.Decimal        `db:"cost" json:"cost"`
	SubstitutedFor *uuid.UUID             `db:"substituted_for" json:"substituted_for,omitempty"`
	DispensedAt    *time.Time             `db:"dispensed_at" json:"dispensed_at,omitempty"`
}

// Terminal reports whether the record can no longer change. Delivery is
// final: delivered goods are never taken back through this record.
func (r *Record) Terminal() bool {
	return r.Status == StatusDelivered || r.Status == StatusReturned || r.Status == StatusCancelled
}

// Active reports whether the record blocks a new dispense for the same
// prescription.
func (r *Record) Active() bool {
	switch r.Status {
	case StatusInProgress, StatusCompleted, StatusReviewed:
		return true
	}
	return false
}

func (r *Record) item(medicineID uuid.UUID) *Item {
	for i := range r.Items {
		if r.Items[i].MedicineID == medicineID {
			return &r.Items[i]
		}
	}
	return nil
}

package prescription

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists prescriptions with their items.
type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	// GetByID returns the prescription with items loaded, or nil when absent.
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	// Update persists header fields; items are immutable after creation.
	Update(ctx context.Context, p *Prescription) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Prescription, int, error)
}

// ListFilter narrows prescription listings. Zero values match everything.
type ListFilter struct {
	PatientID uuid.UUID
	Status    Status
}

// AllergyRepository persists patient allergy records.
type AllergyRepository interface {
	Create(ctx context.Context, a *AllergyRecord) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*AllergyRecord, error)
}

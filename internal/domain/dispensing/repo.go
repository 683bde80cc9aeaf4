package dispensing

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists dispense records with their items.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	// GetByID returns the record with items loaded, or nil when absent.
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	// Update persists the record header and every item.
	Update(ctx context.Context, r *Record) error
	// FindActive returns the non-terminal record for a prescription, or nil.
	FindActive(ctx context.Context, prescriptionID uuid.UUID) (*Record, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Record, int, error)
}

// ListFilter narrows record listings. Zero values match everything.
type ListFilter struct {
	PrescriptionID uuid.UUID
	PatientID      uuid.UUID
	Status         Status
}

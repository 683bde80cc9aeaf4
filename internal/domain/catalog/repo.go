package catalog

import (
	"context"

	"github.com/google/uuid"
)

type MedicineRepository interface {
	Create(ctx context.Context, m *Medicine) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error)
	GetByCode(ctx context.Context, code string) (*Medicine, error)
	Update(ctx context.Context, m *Medicine) error
	List(ctx context.Context, limit, offset int) ([]*Medicine, int, error)
	Search(ctx context.Context, name string, limit, offset int) ([]*Medicine, int, error)
}

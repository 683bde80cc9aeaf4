package catalog

import (
	"context"

	"github.com/google/uuid"

	"github.com/pharmd/pharmd/pkg/bizerror"
)

type Service struct {
	medicines MedicineRepository
}

func NewService(medicines MedicineRepository) *Service {
	return &Service{medicines: medicines}
}

var validMedicineStatuses = map[string]bool{
	"active": true, "inactive": true,
}

func (s *Service) CreateMedicine(ctx context.Context, m *Medicine) error {
	if m.Code == "" {
		return bizerror.New(bizerror.CodeInvalidInput, "code is required")
	}
	if m.Name == "" {
		return bizerror.New(bizerror.CodeInvalidInput, "name is required")
	}
	if m.Unit == "" {
		return bizerror.New(bizerror.CodeInvalidInput, "unit is required")
	}
	if m.Status == "" {
		m.Status = "active"
	}
	if !validMedicineStatuses[m.Status] {
		return bizerror.New(bizerror.CodeInvalidInput, "invalid status: %s", m.Status)
	}
	if m.MinStock < 0 || m.MaxStock < 0 || m.SafetyStock < 0 {
		return bizerror.New(bizerror.CodeInvalidInput, "stock thresholds must not be negative")
	}
	if m.MaxStock > 0 && m.MinStock > m.MaxStock {
		return bizerror.New(bizerror.CodeInvalidInput, "min_stock exceeds max_stock")
	}
	if existing, err := s.medicines.GetByCode(ctx, m.Code); err == nil && existing != nil {
		return bizerror.New(bizerror.CodeAlreadyExists, "medicine code %s already exists", m.Code)
	}
	return s.medicines.Create(ctx, m)
}

func (s *Service) GetMedicine(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	return s.medicines.GetByID(ctx, id)
}

func (s *Service) GetMedicineByCode(ctx context.Context, code string) (*Medicine, error) {
	return s.medicines.GetByCode(ctx, code)
}

// SafetyStockFor exposes a medicine's safety stock threshold to the
// inventory service without it depending on the full catalog model.
func (s *Service) SafetyStockFor(ctx context.Context, id uuid.UUID) (int64, error) {
	m, err := s.medicines.GetByID(ctx, id)
	if err != nil || m == nil {
		return 0, err
	}
	return m.SafetyStock, nil
}

func (s *Service) UpdateMedicine(ctx context.Context, m *Medicine) error {
	if m.Status != "" && !validMedicineStatuses[m.Status] {
		return bizerror.New(bizerror.CodeInvalidInput, "invalid status: %s", m.Status)
	}
	if m.MinStock < 0 || m.MaxStock < 0 || m.SafetyStock < 0 {
		return bizerror.New(bizerror.CodeInvalidInput, "stock thresholds must not be negative")
	}
	return s.medicines.Update(ctx, m)
}

func (s *Service) ListMedicines(ctx context.Context, limit, offset int) ([]*Medicine, int, error) {
	return s.medicines.List(ctx, limit, offset)
}

func (s *Service) SearchMedicines(ctx context.Context, name string, limit, offset int) ([]*Medicine, int, error) {
	return s.medicines.Search(ctx, name, limit, offset)
}

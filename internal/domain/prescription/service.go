package prescription

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pharmd/pharmd/pkg/bizerror"
)

// validTransitions is the closed prescription state machine. Anything not
// listed is rejected.
var validTransitions = map[Status]map[Status]bool{
	StatusDraft:     {StatusReviewed: true, StatusCancelled: true, StatusExpired: true},
	StatusReviewed:  {StatusDispensed: true, StatusCancelled: true, StatusExpired: true},
	StatusDispensed: {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered: {},
	StatusExpired:   {},
	StatusCancelled: {},
}

const defaultValidityDays = 30

type Service struct {
	repo      Repository
	allergies AllergyRepository
	now       func() time.Time
}

func NewService(repo Repository, allergies AllergyRepository) *Service {
	return &Service{
		repo:      repo,
		allergies: allergies,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new prescription in draft. Items are fixed at creation;
// corrections mean cancelling and reissuing.
func (s *Service) Create(ctx context.Context, p *Prescription) error {
	if p.PatientID == uuid.Nil {
		return bizerror.New(bizerror.CodeInvalidInput, "patient id is required")
	}
	if p.PrescriberID == uuid.Nil {
		return bizerror.New(bizerror.CodeInvalidInput, "prescriber id is required")
	}
	if len(p.Items) == 0 {
		return bizerror.New(bizerror.CodeInvalidInput, "prescription must have at least one item")
	}
	seen := make(map[uuid.UUID]bool, len(p.Items))
	for i := range p.Items {
		item := &p.Items[i]
		if item.MedicineID == uuid.Nil {
			return bizerror.New(bizerror.CodeInvalidInput, "item %d: medicine id is required", i)
		}
		if item.Quantity <= 0 {
			return bizerror.New(bizerror.CodeInvalidInput, "item %d: quantity must be positive, got %d", i, item.Quantity)
		}
		if seen[item.MedicineID] {
			return bizerror.New(bizerror.CodeInvalidInput, "item %d: duplicate medicine %s", i, item.MedicineID)
		}
		seen[item.MedicineID] = true
	}

	now := s.now()
	if p.IssuedAt.IsZero() {
		p.IssuedAt = now
	}
	if p.ValidUntil.IsZero() {
		p.ValidUntil = p.IssuedAt.AddDate(0, 0, defaultValidityDays)
	}
	if !p.ValidUntil.After(p.IssuedAt) {
		return bizerror.New(bizerror.CodeInvalidInput, "valid_until must be after issued_at")
	}
	p.Status = StatusDraft
	return s.repo.Create(ctx, p)
}

// Get loads a prescription. A draft or reviewed prescription whose validity
// window has lapsed is expired on read before being returned.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, bizerror.New(bizerror.CodeNotFound, "prescription %s not found", id)
	}
	if (p.Status == StatusDraft || p.Status == StatusReviewed) && !p.IsWithinValidity(s.now()) {
		p.Status = StatusExpired
		if err := s.repo.Update(ctx, p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// Review moves a draft prescription to reviewed, recording who signed off.
func (s *Service) Review(ctx context.Context, id uuid.UUID, reviewer string) (*Prescription, error) {
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "reviewer is required")
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusExpired {
		return nil, bizerror.New(bizerror.CodePrescriptionExpired, "prescription %s expired on %s", id, p.ValidUntil.Format("2006-01-02"))
	}
	if err := checkTransition(p.Status, StatusReviewed); err != nil {
		return nil, err
	}

	now := s.now()
	p.Status = StatusReviewed
	p.ReviewedBy = reviewer
	p.ReviewedAt = &now
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Transition moves a prescription along the state machine. The dispensing
// workflow drives dispensed/delivered/cancelled through this.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status) (*Prescription, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(p.Status, to); err != nil {
		return nil, err
	}
	p.Status = to
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func checkTransition(from, to Status) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return bizerror.New(bizerror.CodeInvalidInput, "unknown prescription status %q", from)
	}
	if !allowed[to] {
		return bizerror.New(bizerror.CodeInvalidStateTransition,
			"cannot move prescription from %s to %s", from, to)
	}
	return nil
}

// AddAllergy records a patient allergy for future validation runs.
func (s *Service) AddAllergy(ctx context.Context, a *AllergyRecord) error {
	if a.PatientID == uuid.Nil {
		return bizerror.New(bizerror.CodeInvalidInput, "patient id is required")
	}
	a.Substance = strings.TrimSpace(a.Substance)
	if a.Substance == "" {
		return bizerror.New(bizerror.CodeInvalidInput, "substance is required")
	}
	if a.RecordedAt.IsZero() {
		a.RecordedAt = s.now()
	}
	return s.allergies.Create(ctx, a)
}

func (s *Service) ListAllergies(ctx context.Context, patientID uuid.UUID) ([]*AllergyRecord, error) {
	if patientID == uuid.Nil {
		return nil, bizerror.New(bizerror.CodeInvalidInput, "patient id is required")
	}
	return s.allergies.ListByPatient(ctx, patientID)
}

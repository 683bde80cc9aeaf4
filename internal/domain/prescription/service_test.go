package prescription

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pharmd/pharmd/pkg/bizerror"
)

type mockRepo struct {
	prescriptions map[uuid.UUID]*Prescription
}

func newMockRepo() *mockRepo {
	return &mockRepo{prescriptions: make(map[uuid.UUID]*Prescription)}
}

func (m *mockRepo) Create(_ context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	m.prescriptions[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	p, ok := m.prescriptions[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, p *Prescription) error {
	cp := *p
	m.prescriptions[p.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, filter ListFilter, limit, offset int) ([]*Prescription, int, error) {
	var matched []*Prescription
	for _, p := range m.prescriptions {
		if filter.PatientID != uuid.Nil && p.PatientID != filter.PatientID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		cp := *p
		matched = append(matched, &cp)
	}
	return matched, len(matched), nil
}

type mockAllergyRepo struct {
	records []*AllergyRecord
}

func (m *mockAllergyRepo) Create(_ context.Context, a *AllergyRecord) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	m.records = append(m.records, &cp)
	return nil
}

func (m *mockAllergyRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*AllergyRecord, error) {
	var result []*AllergyRecord
	for _, a := range m.records {
		if a.PatientID == patientID {
			cp := *a
			result = append(result, &cp)
		}
	}
	return result, nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	svc := NewService(repo, &mockAllergyRepo{})
	return svc, repo
}

func validPrescription() *Prescription {
	return &Prescription{
		PatientID:    uuid.New(),
		PatientName:  "Ada Morales",
		PrescriberID: uuid.New(),
		Items: []PrescriptionItem{
			{MedicineID: uuid.New(), MedicineName: "Amoxicillin 500mg", Quantity: 21, Dosage: "500mg", Frequency: "tid"},
		},
	}
}

func TestCreateDefaultsStatusAndValidity(t *testing.T) {
	svc, _ := newTestService()
	p := validPrescription()

	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.Status != StatusDraft {
		t.Errorf("Status = %s, want draft", p.Status)
	}
	if got := p.ValidUntil.Sub(p.IssuedAt); got != defaultValidityDays*24*time.Hour {
		t.Errorf("validity window = %v, want %d days", got, defaultValidityDays)
	}
}

func TestCreateRequiresItems(t *testing.T) {
	svc, _ := newTestService()
	p := validPrescription()
	p.Items = nil

	err := svc.Create(context.Background(), p)
	if !bizerror.IsCode(err, bizerror.CodeInvalidInput) {
		t.Fatalf("Create(no items) error = %v, want %s", err, bizerror.CodeInvalidInput)
	}
}

func TestCreateRejectsDuplicateMedicines(t *testing.T) {
	svc, _ := newTestService()
	p := validPrescription()
	medID := p.Items[0].MedicineID
	p.Items = append(p.Items, PrescriptionItem{MedicineID: medID, Quantity: 5})

	err := svc.Create(context.Background(), p)
	if !bizerror.IsCode(err, bizerror.CodeInvalidInput) {
		t.Fatalf("Create(duplicate medicine) error = %v, want %s", err, bizerror.CodeInvalidInput)
	}
}

func TestReviewMovesDraftToReviewed(t *testing.T) {
	svc, _ := newTestService()
	p := validPrescription()
	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	reviewed, err := svc.Review(context.Background(), p.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if reviewed.Status != StatusReviewed || reviewed.ReviewedBy != "pharmacist-1" || reviewed.ReviewedAt == nil {
		t.Errorf("reviewed = %+v, want reviewed by pharmacist-1", reviewed)
	}
}

func TestReviewTwiceFails(t *testing.T) {
	svc, _ := newTestService()
	p := validPrescription()
	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.Review(context.Background(), p.ID, "pharmacist-1"); err != nil {
		t.Fatalf("first Review() error = %v", err)
	}

	_, err := svc.Review(context.Background(), p.ID, "pharmacist-2")
	if !bizerror.IsCode(err, bizerror.CodeInvalidStateTransition) {
		t.Fatalf("second Review() error = %v, want %s", err, bizerror.CodeInvalidStateTransition)
	}
}

func TestGetExpiresLapsedPrescription(t *testing.T) {
	svc, _ := newTestService()
	p := validPrescription()
	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	svc.now = func() time.Time { return p.ValidUntil.Add(time.Hour) }
	got, err := svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("Status = %s, want expired", got.Status)
	}

	_, err = svc.Review(context.Background(), p.ID, "pharmacist-1")
	if !bizerror.IsCode(err, bizerror.CodePrescriptionExpired) {
		t.Errorf("Review(expired) error = %v, want %s", err, bizerror.CodePrescriptionExpired)
	}
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	svc, _ := newTestService()
	p := validPrescription()
	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// draft cannot jump straight to delivered
	_, err := svc.Transition(context.Background(), p.ID, StatusDelivered)
	if !bizerror.IsCode(err, bizerror.CodeInvalidStateTransition) {
		t.Fatalf("Transition(draft->delivered) error = %v, want %s", err, bizerror.CodeInvalidStateTransition)
	}
}

func TestDeliveredIsTerminal(t *testing.T) {
	svc, _ := newTestService()
	p := validPrescription()
	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.Review(context.Background(), p.ID, "pharmacist-1"); err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	for _, to := range []Status{StatusDispensed, StatusDelivered} {
		if _, err := svc.Transition(context.Background(), p.ID, to); err != nil {
			t.Fatalf("Transition(%s) error = %v", to, err)
		}
	}

	for _, to := range []Status{StatusCancelled, StatusDispensed, StatusReviewed} {
		_, err := svc.Transition(context.Background(), p.ID, to)
		if !bizerror.IsCode(err, bizerror.CodeInvalidStateTransition) {
			t.Errorf("Transition(delivered->%s) error = %v, want %s", to, err, bizerror.CodeInvalidStateTransition)
		}
	}
}

func TestAllergyRoundTrip(t *testing.T) {
	svc, _ := newTestService()
	patientID := uuid.New()

	err := svc.AddAllergy(context.Background(), &AllergyRecord{
		PatientID: patientID,
		Substance: "penicillin",
		Severity:  "severe",
	})
	if err != nil {
		t.Fatalf("AddAllergy() error = %v", err)
	}

	records, err := svc.ListAllergies(context.Background(), patientID)
	if err != nil {
		t.Fatalf("ListAllergies() error = %v", err)
	}
	if len(records) != 1 || records[0].Substance != "penicillin" {
		t.Errorf("records = %+v, want one penicillin record", records)
	}
}

package integration

import (
	"context"
	"testing"

	"github.com/pharmd/pharmd/internal/domain/prescription"
	"github.com/pharmd/pharmd/pkg/bizerror"
)

func TestPrescriptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	med := createTestMedicine(t, ctx, "Lisinopril 10mg")
	svc := prescription.NewService(
		prescription.NewPgRepository(globalDB.Pool),
		prescription.NewPgAllergyRepository(globalDB.Pool),
	)

	rx := createTestPrescription(t, ctx, med, 14)

	stored, err := svc.Get(ctx, rx.ID)
	if err != nil {
		t.Fatalf("get prescription: %v", err)
	}
	if stored.Status != prescription.StatusDraft {
		t.Fatalf("status = %s, want draft", stored.Status)
	}
	if len(stored.Items) != 1 || stored.Items[0].Quantity != 14 {
		t.Fatalf("items = %+v, want one item with quantity 14", stored.Items)
	}

	reviewed, err := svc.Review(ctx, rx.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Status != prescription.StatusReviewed || reviewed.ReviewedBy != "pharmacist-1" {
		t.Fatalf("after review = %s by %q, want reviewed by pharmacist-1", reviewed.Status, reviewed.ReviewedBy)
	}
	if reviewed.ReviewedAt == nil {
		t.Fatal("reviewed_at not set")
	}

	// List narrowed to the patient finds exactly this prescription.
	list, total, err := svc.List(ctx, prescription.ListFilter{PatientID: rx.PatientID}, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].ID != rx.ID {
		t.Fatalf("list = %d results (total %d), want exactly the created prescription", len(list), total)
	}
}

func TestPrescriptionReviewTwiceRejected(t *testing.T) {
	ctx := context.Background()
	med := createTestMedicine(t, ctx, "Atorvastatin 20mg")
	svc := prescription.NewService(
		prescription.NewPgRepository(globalDB.Pool),
		prescription.NewPgAllergyRepository(globalDB.Pool),
	)

	rx := createTestPrescription(t, ctx, med, 30)
	if _, err := svc.Review(ctx, rx.ID, "pharmacist-1"); err != nil {
		t.Fatalf("first review: %v", err)
	}
	_, err := svc.Review(ctx, rx.ID, "pharmacist-2")
	if !bizerror.IsCode(err, bizerror.CodeInvalidStateTransition) {
		t.Fatalf("second review err = %v, want CodeInvalidStateTransition", err)
	}
}

func TestAllergyRecordsPerPatient(t *testing.T) {
	ctx := context.Background()
	med := createTestMedicine(t, ctx, "Amlodipine 5mg")
	svc := prescription.NewService(
		prescription.NewPgRepository(globalDB.Pool),
		prescription.NewPgAllergyRepository(globalDB.Pool),
	)

	rx := createTestPrescription(t, ctx, med, 7)
	allergy := &prescription.AllergyRecord{
		PatientID: rx.PatientID,
		Substance: "penicillin",
		Severity:  "severe",
		Reaction:  "anaphylaxis",
	}
	if err := svc.AddAllergy(ctx, allergy); err != nil {
		t.Fatalf("add allergy: %v", err)
	}

	records, err := svc.ListAllergies(ctx, rx.PatientID)
	if err != nil {
		t.Fatalf("list allergies: %v", err)
	}
	if len(records) != 1 || records[0].Substance != "penicillin" {
		t.Fatalf("allergies = %+v, want one penicillin record", records)
	}
}

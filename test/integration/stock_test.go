package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmd/pharmd/internal/domain/inventory"
	"github.com/pharmd/pharmd/pkg/bizerror"
)

func TestBatchPersistenceAndVersioning(t *testing.T) {
	ctx := context.Background()
	med := createTestMedicine(t, ctx, "Amoxicillin 500mg")
	repo := inventory.NewPgRepository(globalDB.Pool)

	batch := &inventory.Batch{
		ID:           uuid.New(),
		MedicineID:   med.ID,
		BatchNo:      "LOT-PG-1",
		CurrentStock: 40,
		ExpiryDate:   daysFromNow(120),
		UnitCost:     decimal.RequireFromString("1.25"),
		Location:     "shelf-a",
		Status:       inventory.BatchNormal,
	}
	if err := repo.CreateBatch(ctx, batch); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	stored, err := repo.GetBatch(ctx, med.ID, "LOT-PG-1")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if stored.CurrentStock != 40 || stored.Version != 1 {
		t.Fatalf("stored batch = stock %d version %d, want 40/1", stored.CurrentStock, stored.Version)
	}
	if !stored.UnitCost.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("unit cost = %s, want 1.25", stored.UnitCost)
	}

	stored.CurrentStock = 35
	if err := repo.UpdateBatch(ctx, stored); err != nil {
		t.Fatalf("update batch: %v", err)
	}
	if stored.Version != 2 {
		t.Fatalf("version after update = %d, want 2", stored.Version)
	}

	// A writer holding the old version must lose.
	stale := &inventory.Batch{}
	*stale = *stored
	stale.Version = 1
	stale.CurrentStock = 30
	if err := repo.UpdateBatch(ctx, stale); !errors.Is(err, inventory.ErrVersionConflict) {
		t.Fatalf("stale update err = %v, want ErrVersionConflict", err)
	}

	if _, err := repo.GetBatch(ctx, med.ID, "NO-SUCH-LOT"); !errors.Is(err, inventory.ErrBatchNotFound) {
		t.Fatalf("missing batch err = %v, want ErrBatchNotFound", err)
	}
}

func TestStockMovementsAcrossBatches(t *testing.T) {
	ctx := context.Background()
	med := createTestMedicine(t, ctx, "Ibuprofen 200mg")
	svc := newStockService(t)

	intakeBatch(t, ctx, svc, med.ID, "LOT-NEAR", 10, daysFromNow(30), "0.50")
	intakeBatch(t, ctx, svc, med.ID, "LOT-FAR", 20, daysFromNow(365), "0.55")

	plan, err := svc.RecordOut(ctx, inventory.StockOutInput{
		MedicineID: med.ID,
		Quantity:   15,
		Reason:     "ward restock",
		RecordedBy: "integration",
	})
	if err != nil {
		t.Fatalf("record out: %v", err)
	}
	want := []inventory.Allocation{{BatchNo: "LOT-NEAR", Quantity: 10}, {BatchNo: "LOT-FAR", Quantity: 5}}
	if len(plan) != 2 || plan[0] != want[0] || plan[1] != want[1] {
		t.Fatalf("allocation plan = %+v, want %+v", plan, want)
	}

	summary, err := svc.QueryStock(ctx, med.ID)
	if err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if summary.TotalAvailable != 15 {
		t.Fatalf("available after out = %d, want 15", summary.TotalAvailable)
	}

	entries, total, err := svc.ListLedger(ctx, med.ID, "", 50, 0)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if total != 4 || len(entries) != 4 {
		t.Fatalf("ledger entries = %d (total %d), want 4", len(entries), total)
	}

	discrepancies, err := svc.VerifyLedger(ctx, med.ID)
	if err != nil {
		t.Fatalf("verify ledger: %v", err)
	}
	if len(discrepancies) != 0 {
		t.Fatalf("ledger discrepancies = %+v, want none", discrepancies)
	}
}

func TestInsufficientStockLeavesRowsUntouched(t *testing.T) {
	ctx := context.Background()
	med := createTestMedicine(t, ctx, "Cephalexin 250mg")
	svc := newStockService(t)

	intakeBatch(t, ctx, svc, med.ID, "LOT-ONLY", 5, daysFromNow(90), "2.00")

	_, err := svc.RecordOut(ctx, inventory.StockOutInput{MedicineID: med.ID, Quantity: 8, RecordedBy: "integration"})
	if !bizerror.IsCode(err, bizerror.CodeInsufficientStock) {
		t.Fatalf("record out err = %v, want CodeInsufficientStock", err)
	}

	stored, err := inventory.NewPgRepository(globalDB.Pool).GetBatch(ctx, med.ID, "LOT-ONLY")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if stored.CurrentStock != 5 || stored.Version != 1 {
		t.Fatalf("batch after failed out = stock %d version %d, want untouched 5/1", stored.CurrentStock, stored.Version)
	}
}

func TestReservationCountersPersist(t *testing.T) {
	ctx := context.Background()
	med := createTestMedicine(t, ctx, "Metformin 850mg")
	svc := newStockService(t)

	intakeBatch(t, ctx, svc, med.ID, "LOT-RES", 30, daysFromNow(200), "0.30")

	legs, err := svc.Reserve(ctx, med.ID, 12, "order-77")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// A fresh service over the same database sees the reservation.
	other := newStockService(t)
	available, err := other.AvailableStock(ctx, med.ID)
	if err != nil {
		t.Fatalf("available stock: %v", err)
	}
	if available != 18 {
		t.Fatalf("available after reserve = %d, want 18", available)
	}

	if err := other.Release(ctx, med.ID, legs, "order-77"); err != nil {
		t.Fatalf("release: %v", err)
	}
	available, err = other.AvailableStock(ctx, med.ID)
	if err != nil {
		t.Fatalf("available stock: %v", err)
	}
	if available != 30 {
		t.Fatalf("available after release = %d, want 30", available)
	}
}

package dispensing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pharmd/pharmd/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const recordCols = `id, prescription_id, patient_id, status, needs_review, total_cost,
	notes, started_by, started_at, completed_at, reviewed_by, reviewed_at,
	delivered_at, closed_reason, created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var cost string
	err := row.Scan(
		&rec.ID, &rec.PrescriptionID, &rec.PatientID, &rec.Status, &rec.NeedsReview, &cost,
		&rec.Notes, &rec.StartedBy, &rec.StartedAt, &rec.CompletedAt, &rec.ReviewedBy,
		&rec.ReviewedAt, &rec.DeliveredAt, &rec.ClosedReason, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.TotalCost, err = decimal.NewFromString(cost)
	if err != nil {
		return nil, fmt.Errorf("parse total cost: %w", err)
	}
	return &rec, nil
}

func (r *PgRepository) Create(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	q := r.conn(ctx)
	query := `
		INSERT INTO dispense_record (
			id, prescription_id, patient_id, status, needs_review, total_cost, notes,
			started_by, started_at, completed_at, reviewed_by, reviewed_at,
			delivered_at, closed_reason, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	_, err := q.Exec(ctx, query,
		rec.ID, rec.PrescriptionID, rec.PatientID, rec.Status, rec.NeedsReview,
		rec.TotalCost.String(), rec.Notes, rec.StartedBy, rec.StartedAt, rec.CompletedAt,
		rec.ReviewedBy, rec.ReviewedAt, rec.DeliveredAt, rec.ClosedReason,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create dispense record: %w", err)
	}
	for i := range rec.Items {
		item := &rec.Items[i]
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.RecordID = rec.ID
		if err := r.upsertItem(ctx, q, item); err != nil {
			return err
		}
	}
	return nil
}

func (r *PgRepository) upsertItem(ctx context.Context, q queryable, item *Item) error {
	allocs, err := json.Marshal(item.Allocations)
	if err != nil {
		return fmt.Errorf("marshal allocations: %w", err)
	}

	query := `
		INSERT INTO dispense_item (
			id, record_id, medicine_id, medicine_name, quantity, status,
			allocations, cost, substituted_for, dispensed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			medicine_id = EXCLUDED.medicine_id,
			medicine_name = EXCLUDED.medicine_name,
			quantity = EXCLUDED.quantity,
			status = EXCLUDED.status,
			allocations = EXCLUDED.allocations,
			cost = EXCLUDED.cost,
			substituted_for = EXCLUDED.substituted_for,
			dispensed_at = EXCLUDED.dispensed_at`

	_, err = q.Exec(ctx, query,
		item.ID, item.RecordID, item.MedicineID, item.MedicineName, item.Quantity,
		item.Status, allocs, item.Cost.String(), item.SubstitutedFor, item.DispensedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert dispense item: %w", err)
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	query := `SELECT ` + recordCols + ` FROM dispense_record WHERE id = $1`
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dispense record: %w", err)
	}
	if err := r.loadItems(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *PgRepository) loadItems(ctx context.Context, rec *Record) error {
	query := `
		SELECT id, record_id, medicine_id, medicine_name, quantity, status,
			allocations, cost, substituted_for, dispensed_at
		FROM dispense_item WHERE record_id = $1 ORDER BY medicine_name ASC`

	rows, err := r.conn(ctx).Query(ctx, query, rec.ID)
	if err != nil {
		return fmt.Errorf("load dispense items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item Item
		var allocs []byte
		var cost string
		err := rows.Scan(
			&item.ID, &item.RecordID, &item.MedicineID, &item.MedicineName, &item.Quantity,
			&item.Status, &allocs, &cost, &item.SubstitutedFor, &item.DispensedAt,
		)
		if err != nil {
			return fmt.Errorf("scan dispense item: %w", err)
		}
		if len(allocs) > 0 {
			if err := json.Unmarshal(allocs, &item.Allocations); err != nil {
				return fmt.Errorf("unmarshal allocations: %w", err)
			}
		}
		item.Cost, err = decimal.NewFromString(cost)
		if err != nil {
			return fmt.Errorf("parse item cost: %w", err)
		}
		rec.Items = append(rec.Items, item)
	}
	return rows.Err()
}

func (r *PgRepository) Update(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = time.Now().UTC()

	q := r.conn(ctx)
	query := `
		UPDATE dispense_record SET
			status = $1, needs_review = $2, total_cost = $3, notes = $4,
			completed_at = $5, reviewed_by = $6, reviewed_at = $7,
			delivered_at = $8, closed_reason = $9, updated_at = $10
		WHERE id = $11`

	_, err := q.Exec(ctx, query,
		rec.Status, rec.NeedsReview, rec.TotalCost.String(), rec.Notes,
		rec.CompletedAt, rec.ReviewedBy, rec.ReviewedAt,
		rec.DeliveredAt, rec.ClosedReason, rec.UpdatedAt, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update dispense record: %w", err)
	}
	for i := range rec.Items {
		if err := r.upsertItem(ctx, q, &rec.Items[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *PgRepository) FindActive(ctx context.Context, prescriptionID uuid.UUID) (*Record, error) {
	query := `SELECT ` + recordCols + ` FROM dispense_record
		WHERE prescription_id = $1 AND status IN ('in-progress', 'completed', 'reviewed')
		LIMIT 1`

	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx, query, prescriptionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active dispense record: %w", err)
	}
	if err := r.loadItems(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *PgRepository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Record, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR prescription_id = $1)
		AND ($2::uuid IS NULL OR patient_id = $2)
		AND ($3 = '' OR status = $3)`

	var rxArg, patientArg any
	if filter.PrescriptionID != uuid.Nil {
		rxArg = filter.PrescriptionID
	}
	if filter.PatientID != uuid.Nil {
		patientArg = filter.PatientID
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM dispense_record`+where,
		rxArg, patientArg, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count dispense records: %w", err)
	}

	query := `SELECT ` + recordCols + ` FROM dispense_record` + where +
		` ORDER BY started_at DESC LIMIT $4 OFFSET $5`

	rows, err := r.conn(ctx).Query(ctx, query, rxArg, patientArg, string(filter.Status), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list dispense records: %w", err)
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan dispense record: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, rec := range result {
		if err := r.loadItems(ctx, rec); err != nil {
			return nil, 0, err
		}
	}
	return result, total, nil
}

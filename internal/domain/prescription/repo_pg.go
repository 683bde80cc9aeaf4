package prescription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

const prescriptionCols = `id, patient_id, patient_name, prescriber_id, prescriber_name,
	status, diagnosis, notes, issued_at, valid_until, reviewed_by, reviewed_at,
	created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(
		&p.ID, &p.PatientID, &p.PatientName, &p.PrescriberID, &p.PrescriberName,
		&p.Status, &p.Diagnosis, &p.Notes, &p.IssuedAt, &p.ValidUntil,
		&p.ReviewedBy, &p.ReviewedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) Create(ctx context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	q := r.conn(ctx)
	query := `
		INSERT INTO prescription (
			id, patient_id, patient_name, prescriber_id, prescriber_name, status,
			diagnosis, notes, issued_at, valid_until, reviewed_by, reviewed_at,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err := q.Exec(ctx, query,
		p.ID, p.PatientID, p.PatientName, p.PrescriberID, p.PrescriberName, p.Status,
		p.Diagnosis, p.Notes, p.IssuedAt, p.ValidUntil, p.ReviewedBy, p.ReviewedAt,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create prescription: %w", err)
	}

	itemQuery := `
		INSERT INTO prescription_item (
			id, prescription_id, medicine_id, medicine_name, quantity, dosage,
			frequency, duration_days, substitutable
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	for i := range p.Items {
		item := &p.Items[i]
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.PrescriptionID = p.ID
		_, err := q.Exec(ctx, itemQuery,
			item.ID, item.PrescriptionID, item.MedicineID, item.MedicineName,
			item.Quantity, item.Dosage, item.Frequency, item.DurationDays, item.Substitutable,
		)
		if err != nil {
			return fmt.Errorf("create prescription item: %w", err)
		}
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	query := `SELECT ` + prescriptionCols + ` FROM prescription WHERE id = $1`
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	if err := r.loadItems(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PgRepository) loadItems(ctx context.Context, p *Prescription) error {
	query := `
		SELECT id, prescription_id, medicine_id, medicine_name, quantity, dosage,
			frequency, duration_days, substitutable
		FROM prescription_item WHERE prescription_id = $1 ORDER BY medicine_name ASC`

	rows, err := r.conn(ctx).Query(ctx, query, p.ID)
	if err != nil {
		return fmt.Errorf("load prescription items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item PrescriptionItem
		err := rows.Scan(
			&item.ID, &item.PrescriptionID, &item.MedicineID, &item.MedicineName,
			&item.Quantity, &item.Dosage, &item.Frequency, &item.DurationDays, &item.Substitutable,
		)
		if err != nil {
			return fmt.Errorf("scan prescription item: %w", err)
		}
		p.Items = append(p.Items, item)
	}
	return rows.Err()
}

func (r *PgRepository) Update(ctx context.Context, p *Prescription) error {
	p.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE prescription SET
			status = $1, diagnosis = $2, notes = $3, valid_until = $4,
			reviewed_by = $5, reviewed_at = $6, updated_at = $7
		WHERE id = $8`

	_, err := r.conn(ctx).Exec(ctx, query,
		p.Status, p.Diagnosis, p.Notes, p.ValidUntil,
		p.ReviewedBy, p.ReviewedAt, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update prescription: %w", err)
	}
	return nil
}

func (r *PgRepository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Prescription, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR patient_id = $1) AND ($2 = '' OR status = $2)`
	var patientArg any
	if filter.PatientID != uuid.Nil {
		patientArg = filter.PatientID
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM prescription` + where
	if err := r.conn(ctx).QueryRow(ctx, countQuery, patientArg, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count prescriptions: %w", err)
	}

	query := `SELECT ` + prescriptionCols + ` FROM prescription` + where +
		` ORDER BY issued_at DESC LIMIT $3 OFFSET $4`

	rows, err := r.conn(ctx).Query(ctx, query, patientArg, string(filter.Status), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()

	var result []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan prescription: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, p := range result {
		if err := r.loadItems(ctx, p); err != nil {
			return nil, 0, err
		}
	}
	return result, total, nil
}

// PgAllergyRepository persists allergy records in PostgreSQL.
type PgAllergyRepository struct {
	pool *pgxpool.Pool
}

func NewPgAllergyRepository(pool *pgxpool.Pool) *PgAllergyRepository {
	return &PgAllergyRepository{pool: pool}
}

func (r *PgAllergyRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *PgAllergyRepository) Create(ctx context.Context, a *AllergyRecord) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.RecordedAt.IsZero() {
		a.RecordedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO allergy_record (id, patient_id, substance, severity, reaction, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6)`

	_, err := r.conn(ctx).Exec(ctx, query,
		a.ID, a.PatientID, a.Substance, a.Severity, a.Reaction, a.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("create allergy record: %w", err)
	}
	return nil
}

func (r *PgAllergyRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*AllergyRecord, error) {
	query := `
		SELECT id, patient_id, substance, severity, reaction, recorded_at
		FROM allergy_record WHERE patient_id = $1 ORDER BY recorded_at DESC`

	rows, err := r.conn(ctx).Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("list allergy records: %w", err)
	}
	defer rows.Close()

	var result []*AllergyRecord
	for rows.Next() {
		var a AllergyRecord
		if err := rows.Scan(&a.ID, &a.PatientID, &a.Substance, &a.Severity, &a.Reaction, &a.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan allergy record: %w", err)
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}

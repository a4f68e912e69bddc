package consent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cbclite/cbclite/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const formSelect = `
	SELECT c.id, c.patient_id, p.name, p.nik, c.consent_date, c.consent_type, c.signature_data,
	       c.created_at, c.updated_at
	FROM consent_form c JOIN patient p ON p.id = c.patient_id`

func (r *repoPG) Create(ctx context.Context, f *Form) error {
	f.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO consent_form (id, patient_id, consent_date, consent_type, signature_data)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING patient_id, created_at, updated_at
		)
		SELECT p.name, p.nik, ins.created_at, ins.updated_at
		FROM ins JOIN patient p ON p.id = ins.patient_id`,
		f.ID, f.PatientID, f.ConsentDate, f.ConsentType, f.SignatureData,
	).Scan(&f.Patient.Name, &f.Patient.NIK, &f.CreatedAt, &f.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return ErrPatientNotFound
	}
	if err != nil {
		return fmt.Errorf("insert consent form: %w", err)
	}
	f.Patient.ID = f.PatientID
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Form, error) {
	f, err := scanForm(r.conn(ctx).QueryRow(ctx, formSelect+` WHERE c.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get consent form: %w", err)
	}
	return f, nil
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Form, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR c.patient_id = $1)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM consent_form c`+where, filter.PatientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count consent forms: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		formSelect+where+` ORDER BY c.created_at DESC, c.id LIMIT $2 OFFSET $3`,
		filter.PatientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list consent forms: %w", err)
	}
	defer rows.Close()

	out := make([]*Form, 0)
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan consent form: %w", err)
		}
		out = append(out, f)
	}
	return out, total, rows.Err()
}

func scanForm(row pgx.Row) (*Form, error) {
	var f Form
	err := row.Scan(
		&f.ID, &f.PatientID, &f.Patient.Name, &f.Patient.NIK,
		&f.ConsentDate, &f.ConsentType, &f.SignatureData, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Patient.ID = f.PatientID
	return &f, nil
}

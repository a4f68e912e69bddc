package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cbclite/cbclite/internal/platform/db"
)

const nikConstraint = "patient_nik_key"

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, name, nik, birth_date, gender, phone, satusehat_id, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, name, nik, birth_date, gender, phone)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.NIK, p.BirthDate, p.Gender, p.Phone,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err, nikConstraint) {
		return ErrNIKTaken
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

// Update writes the editable columns. satusehat_id is never touched here.
func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET name=$2, nik=$3, birth_date=$4, gender=$5, phone=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING satusehat_id, created_at, updated_at`,
		p.ID, p.Name, p.NIK, p.BirthDate, p.Gender, p.Phone,
	).Scan(&p.SatuSehatID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if db.IsUniqueViolation(err, nikConstraint) {
		return ErrNIKTaken
	}
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}

// Delete removes the patient; encounters and consent forms go with it
// through ON DELETE CASCADE.
func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	patients := make([]*Patient, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan patient: %w", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	return patients, total, nil
}

func (r *repoPG) MarkSynced(ctx context.Context, id uuid.UUID, satuSehatID string) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET satusehat_id = $2, updated_at = NOW()
		WHERE id = $1 AND satusehat_id IS NULL
		RETURNING `+patientCols, id, satuSehatID))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mark patient synced: %w", err)
	}

	// Either the row is gone or another sync won the race.
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrAlreadySynced
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.Name, &p.NIK, &p.BirthDate, &p.Gender, &p.Phone, &p.SatuSehatID,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

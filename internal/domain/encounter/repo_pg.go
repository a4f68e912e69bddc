package encounter

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

const encounterSelect = `
	SELECT e.id, e.patient_id, p.name, p.nik, e.date, e.type, e.description, e.created_at, e.updated_at
	FROM encounter e JOIN patient p ON p.id = e.patient_id`

func (r *repoPG) Create(ctx context.Context, e *Encounter) error {
	e.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO encounter (id, patient_id, date, type, description)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING patient_id, created_at, updated_at
		)
		SELECT p.name, p.nik, ins.created_at, ins.updated_at
		FROM ins JOIN patient p ON p.id = ins.patient_id`,
		e.ID, e.PatientID, e.Date, e.Type, e.Description,
	).Scan(&e.Patient.Name, &e.Patient.NIK, &e.CreatedAt, &e.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return ErrPatientNotFound
	}
	if err != nil {
		return fmt.Errorf("insert encounter: %w", err)
	}
	e.Patient.ID = e.PatientID
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e, err := scanEncounter(r.conn(ctx).QueryRow(ctx, encounterSelect+` WHERE e.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get encounter: %w", err)
	}
	return e, nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Encounter, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR e.patient_id = $1)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounter e`+where, f.PatientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count encounters: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		encounterSelect+where+` ORDER BY e.created_at DESC, e.id LIMIT $2 OFFSET $3`,
		f.PatientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list encounters: %w", err)
	}
	defer rows.Close()

	out := make([]*Encounter, 0)
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan encounter: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list encounters: %w", err)
	}
	return out, total, nil
}

func scanEncounter(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(
		&e.ID, &e.PatientID, &e.Patient.Name, &e.Patient.NIK,
		&e.Date, &e.Type, &e.Description, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Patient.ID = e.PatientID
	return &e, nil
}

package encounter

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts e and fills its patient summary. An unknown patient
	// yields ErrPatientNotFound.
	Create(ctx context.Context, e *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Encounter, int, error)
}

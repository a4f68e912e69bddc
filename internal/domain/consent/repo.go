package consent

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts f and fills its patient summary. An unknown patient
	// yields ErrPatientNotFound.
	Create(ctx context.Context, f *Form) error
	GetByID(ctx context.Context, id uuid.UUID) (*Form, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Form, int, error)
}

package consent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cbclite/cbclite/internal/platform/validation"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create stores a consent form dated now.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Form, error) {
	req.normalize()
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return nil, &validation.Error{Fields: map[string]string{"patientId": "must be a valid UUID"}}
	}

	f := &Form{
		PatientID:     patientID,
		ConsentDate:   s.now().UTC(),
		ConsentType:   req.ConsentType,
		SignatureData: req.SignatureData,
	}
	if err := s.repo.Create(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Form, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Form, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

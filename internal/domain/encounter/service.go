package encounter

import (
	"context"

	"github.com/google/uuid"

	"github.com/cbclite/cbclite/internal/platform/validation"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Encounter, error) {
	req.normalize()
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return nil, &validation.Error{Fields: map[string]string{"patientId": "must be a valid UUID"}}
	}
	date, err := validation.ParseTimestamp(req.Date)
	if err != nil {
		return nil, &validation.Error{Fields: map[string]string{"date": "must be a date (YYYY-MM-DD) or an RFC 3339 timestamp"}}
	}

	e := &Encounter{
		PatientID:   patientID,
		Date:        date,
		Type:        req.Type,
		Description: req.Description,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

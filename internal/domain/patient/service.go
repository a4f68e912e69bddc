package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cbclite/cbclite/internal/platform/validation"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create validates the request, NIK included, before anything is stored.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Patient, error) {
	req.normalize()
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	birthDate, err := validation.ParseDate(req.BirthDate)
	if err != nil {
		return nil, &validation.Error{Fields: map[string]string{"birthDate": "must be a date in YYYY-MM-DD format"}}
	}

	p := &Patient{
		Name:      req.Name,
		NIK:       req.NIK,
		BirthDate: birthDate,
		Gender:    req.Gender,
		Phone:     req.Phone,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Update applies the supplied fields only. A blank phone clears it.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Patient, error) {
	req.normalize()
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.NIK != nil {
		p.NIK = *req.NIK
	}
	if req.BirthDate != nil {
		bd, err := validation.ParseDate(*req.BirthDate)
		if err != nil {
			return nil, &validation.Error{Fields: map[string]string{"birthDate": "must be a date in YYYY-MM-DD format"}}
		}
		p.BirthDate = bd
	}
	if req.Gender != nil {
		p.Gender = *req.Gender
	}
	if req.Phone != nil {
		p.Phone = normalizePhone(req.Phone)
	}

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// MarkSynced records the registry id returned by a successful sync. The id
// is write-once.
func (s *Service) MarkSynced(ctx context.Context, id uuid.UUID, satuSehatID string) (*Patient, error) {
	satuSehatID = strings.TrimSpace(satuSehatID)
	if satuSehatID == "" {
		return nil, fmt.Errorf("mark synced: empty registry id")
	}
	return s.repo.MarkSynced(ctx, id, satuSehatID)
}

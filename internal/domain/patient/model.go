package patient

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("patient not found")
	ErrNIKTaken      = errors.New("NIK is already registered in the system")
	ErrAlreadySynced = errors.New("patient is already registered with Satu Sehat")
)

// Patient maps to the patient table.
type Patient struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	NIK         string    `db:"nik" json:"nik"`
	BirthDate   time.Time `db:"birth_date" json:"birthDate"`
	Gender      string    `db:"gender" json:"gender"`
	Phone       *string   `db:"phone" json:"phone"`
	SatuSehatID *string   `db:"satusehat_id" json:"satuSehatId"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// Synced reports whether the registry has already assigned an id.
func (p *Patient) Synced() bool {
	return p.SatuSehatID != nil && *p.SatuSehatID != ""
}

// Summary is the patient view embedded in encounters and consent forms.
type Summary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	NIK  string    `json:"nik"`
}

func (p *Patient) Summary() Summary {
	return Summary{ID: p.ID, Name: p.Name, NIK: p.NIK}
}

// CreateRequest is the POST /api/patients body.
type CreateRequest struct {
	Name      string  `json:"name" validate:"required,max=255"`
	NIK       string  `json:"nik" validate:"required,nik"`
	BirthDate string  `json:"birthDate" validate:"required,isodate"`
	Gender    string  `json:"gender" validate:"required,oneof=male female"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
}

// UpdateRequest is the PUT /api/patients/:id body. Nil fields are left
// unchanged. The registry id is deliberately absent.
type UpdateRequest struct {
	Name      *string `json:"name" validate:"omitempty,min=1,max=255"`
	NIK       *string `json:"nik" validate:"omitempty,nik"`
	BirthDate *string `json:"birthDate" validate:"omitempty,isodate"`
	Gender    *string `json:"gender" validate:"omitempty,oneof=male female"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
}

func (r *CreateRequest) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.NIK = strings.TrimSpace(r.NIK)
	r.BirthDate = strings.TrimSpace(r.BirthDate)
	r.Phone = normalizePhone(r.Phone)
}

func (r *UpdateRequest) normalize() {
	trim := func(s *string) *string {
		if s == nil {
			return nil
		}
		v := strings.TrimSpace(*s)
		return &v
	}
	r.Name = trim(r.Name)
	r.NIK = trim(r.NIK)
	r.BirthDate = trim(r.BirthDate)
	r.Gender = trim(r.Gender)
	r.Phone = trim(r.Phone)
}

// normalizePhone maps a blank phone to nil so "no phone" has one representation.
func normalizePhone(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}

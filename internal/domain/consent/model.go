package consent

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cbclite/cbclite/internal/domain/patient"
)

var (
	ErrNotFound        = errors.New("consent form not found")
	ErrPatientNotFound = errors.New("patient not found")
)

// Form maps to the consent_form table.
type Form struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	PatientID     uuid.UUID       `db:"patient_id" json:"patientId"`
	Patient       patient.Summary `json:"patient"`
	ConsentDate   time.Time       `db:"consent_date" json:"consentDate"`
	ConsentType   string          `db:"consent_type" json:"consentType"`
	SignatureData *string         `db:"signature_data" json:"signatureData"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

// CreateRequest is the POST /api/consents body. The consent date is always
// the time the form is received.
type CreateRequest struct {
	PatientID     string  `json:"patientId" validate:"required,uuid"`
	ConsentType   string  `json:"consentType" validate:"required,max=100"`
	SignatureData *string `json:"signatureData"`
}

func (r *CreateRequest) normalize() {
	r.PatientID = strings.TrimSpace(r.PatientID)
	r.ConsentType = strings.TrimSpace(r.ConsentType)
	if r.SignatureData != nil && strings.TrimSpace(*r.SignatureData) == "" {
		r.SignatureData = nil
	}
}

type ListFilter struct {
	PatientID *uuid.UUID
}

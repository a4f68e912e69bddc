package encounter

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cbclite/cbclite/internal/domain/patient"
)

var (
	ErrNotFound        = errors.New("encounter not found")
	ErrPatientNotFound = errors.New("patient not found")
)

// Encounter maps to the encounter table. Patient is filled from a join and
// is read-only.
type Encounter struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	PatientID   uuid.UUID       `db:"patient_id" json:"patientId"`
	Patient     patient.Summary `json:"patient"`
	Date        time.Time       `db:"date" json:"date"`
	Type        string          `db:"type" json:"type"`
	Description *string         `db:"description" json:"description"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

// CreateRequest is the POST /api/encounters body. Type is free text; the
// front desk offers the fhirmodels.EncounterType* values.
type CreateRequest struct {
	PatientID   string  `json:"patientId" validate:"required,uuid"`
	Date        string  `json:"date" validate:"required,isotime"`
	Type        string  `json:"type" validate:"required,max=100"`
	Description *string `json:"description"`
}

func (r *CreateRequest) normalize() {
	r.PatientID = strings.TrimSpace(r.PatientID)
	r.Date = strings.TrimSpace(r.Date)
	r.Type = strings.TrimSpace(r.Type)
	if r.Description != nil {
		d := strings.TrimSpace(*r.Description)
		if d == "" {
			r.Description = nil
		} else {
			r.Description = &d
		}
	}
}

// ListFilter narrows List. A nil PatientID lists every encounter.
type ListFilter struct {
	PatientID *uuid.UUID
}

package satusehat

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cbclite/cbclite/internal/platform/fhir"
	"github.com/cbclite/cbclite/pkg/fhirmodels"
)

// nikPattern guards what leaves for the registry, independently of the
// records API's own NIK rule.
var nikPattern = regexp.MustCompile(`^\d{16}$`)

// PatientRecord is the local patient as the registry client sees it.
type PatientRecord struct {
	ID          uuid.UUID
	Name        string
	NIK         string
	BirthDate   time.Time
	Gender      string
	Phone       string
	SatuSehatID string
}

// BuildPatientPayload turns a record into the FHIR Patient the registry
// accepts, identifying it under fhirmodels.SystemNIK. It returns a
// *ValidationError and builds nothing when the record is incomplete or
// malformed.
func BuildPatientPayload(rec PatientRecord) (*fhir.Patient, error) {
	return BuildPatientPayloadWithSystem(rec, fhirmodels.SystemNIK)
}

// BuildPatientPayloadWithSystem is BuildPatientPayload with the NIK
// identifier system chosen by the caller.
func BuildPatientPayloadWithSystem(rec PatientRecord, nikSystem string) (*fhir.Patient, error) {
	name := strings.TrimSpace(rec.Name)
	nik := strings.TrimSpace(rec.NIK)
	gender := strings.TrimSpace(rec.Gender)

	var missing []string
	if name == "" {
		missing = append(missing, "name")
	}
	if nik == "" {
		missing = append(missing, "nik")
	}
	if rec.BirthDate.IsZero() {
		missing = append(missing, "birthDate")
	}
	if gender == "" {
		missing = append(missing, "gender")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Missing: missing}
	}

	if !nikPattern.MatchString(nik) {
		return nil, &ValidationError{Field: "nik", Reason: "NIK must be exactly 16 digits"}
	}
	if !fhirmodels.ValidGender(gender) {
		return nil, &ValidationError{Field: "gender", Reason: `gender must be "male" or "female"`}
	}

	p := &fhir.Patient{
		ResourceType: "Patient",
		Active:       true,
		Identifier: []fhir.Identifier{
			{System: nikSystem, Value: nik},
		},
		Name: []fhir.HumanName{
			{Use: fhirmodels.NameUseOfficial, Text: name},
		},
		Gender:    gender,
		BirthDate: rec.BirthDate.Format("2006-01-02"),
	}
	if phone := strings.TrimSpace(rec.Phone); phone != "" {
		p.Telecom = []fhir.ContactPoint{
			{System: fhirmodels.TelecomSystemPhone, Value: phone, Use: fhirmodels.TelecomUseMobile},
		}
	}
	return p, nil
}

package fhirmodels

// Code values shared by the records API and the registry payload.

// Administrative gender accepted for patient records and by the registry.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// ValidGender reports whether g is a gender the registry accepts.
func ValidGender(g string) bool {
	return g == GenderMale || g == GenderFemale
}

// Identifier systems.
const (
	// SystemNIK is the Satu Sehat identifier system for the 16-digit national ID.
	SystemNIK = "https://fhir.kemkes.go.id/id/nik"
	// SystemNIKTerminology is the older terminology-server form of the same
	// system, still accepted by some sandbox deployments.
	SystemNIKTerminology = "http://terminology.kemkes.go.id/identifier/nik"
)

// HumanName use.
const NameUseOfficial = "official"

// ContactPoint system and use codes.
const (
	TelecomSystemPhone = "phone"
	TelecomUseMobile   = "mobile"
)

// Encounter types offered by the clinic front desk. Stored as free text.
const (
	EncounterTypeOutpatient = "Rawat Jalan"
	EncounterTypeInpatient  = "Rawat Inap"
	EncounterTypeEmergency  = "UGD"
	EncounterTypeOther      = "Lainnya"
)

// Consent types offered on the consent form. Stored as free text.
const (
	ConsentTypeTreatment   = "Treatment"
	ConsentTypeDataSharing = "Data Sharing"
	ConsentTypeResearch    = "Research"
	ConsentTypeOther       = "Other"
)

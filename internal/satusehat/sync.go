package satusehat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cbclite/cbclite/internal/platform/auth"
)

// PatientDirectory is the records side of a sync. FindPatient returns
// ErrPatientNotFound for unknown ids; MarkSynced returns ErrAlreadySynced
// when the record already holds a registry id.
type PatientDirectory interface {
	FindPatient(ctx context.Context, id uuid.UUID) (PatientRecord, error)
	MarkSynced(ctx context.Context, id uuid.UUID, satuSehatID string) error
}

// PatientSyncer registers a patient with the registry. *Client implements it.
type PatientSyncer interface {
	SyncPatient(ctx context.Context, rec PatientRecord) (string, error)
}

// SyncService runs a sync for a stored patient and keeps the returned id.
type SyncService struct {
	dir    PatientDirectory
	client PatientSyncer
	log    SyncLog
	logger zerolog.Logger
	now    func() time.Time
}

func NewSyncService(dir PatientDirectory, client PatientSyncer, log SyncLog, logger zerolog.Logger) *SyncService {
	if log == nil {
		log = NewMemorySyncLog()
	}
	return &SyncService{dir: dir, client: client, log: log, logger: logger, now: time.Now}
}

// SyncPatient registers the patient and stores the registry id on it. A
// patient that already has an id is refused without contacting the
// registry.
func (s *SyncService) SyncPatient(ctx context.Context, patientID uuid.UUID) (string, error) {
	rec, err := s.dir.FindPatient(ctx, patientID)
	if err != nil {
		return "", err
	}
	if rec.SatuSehatID != "" {
		return "", ErrAlreadySynced
	}

	start := s.now()
	satuSehatID, syncErr := s.client.SyncPatient(ctx, rec)
	s.record(ctx, patientID, satuSehatID, syncErr, s.now().Sub(start))

	requestedBy := auth.UserIDFromContext(ctx)
	if syncErr != nil {
		s.logger.Warn().Err(syncErr).
			Str("patient_id", patientID.String()).
			Str("requested_by", requestedBy).
			Msg("satusehat sync failed")
		return "", syncErr
	}

	if err := s.dir.MarkSynced(ctx, patientID, satuSehatID); err != nil {
		s.logger.Error().Err(err).
			Str("patient_id", patientID.String()).
			Str("satusehat_id", satuSehatID).
			Msg("registry id not stored")
		return "", fmt.Errorf("store registry id %s: %w", satuSehatID, err)
	}
	s.logger.Info().
		Str("patient_id", patientID.String()).
		Str("satusehat_id", satuSehatID).
		Str("requested_by", requestedBy).
		Msg("satusehat patient registered")
	return satuSehatID, nil
}

// Logs returns recent attempts, newest first.
func (s *SyncService) Logs(ctx context.Context, f SyncLogFilter, limit int) ([]*SyncAttempt, error) {
	return s.log.List(ctx, f, limit)
}

func (s *SyncService) record(ctx context.Context, patientID uuid.UUID, fhirID string, err error, d time.Duration) {
	a := &SyncAttempt{
		PatientID:    patientID,
		ResourceType: "Patient",
		FHIRID:       fhirID,
		Status:       SyncSuccess,
		DurationMS:   d.Milliseconds(),
	}
	if err != nil {
		a.Status = SyncFailed
		msg := err.Error()
		a.ErrorMessage = &msg
		if code := upstreamStatus(err); code != 0 {
			a.HTTPStatus = &code
		}
	}
	if logErr := s.log.Record(ctx, a); logErr != nil {
		s.logger.Warn().Err(logErr).Msg("record satusehat sync attempt")
	}
}

func upstreamStatus(err error) int {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

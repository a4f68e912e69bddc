package satusehat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cbclite/cbclite/internal/platform/db"
)

// Sync attempt outcomes.
const (
	SyncSuccess = "success"
	SyncFailed  = "failed"
)

// SyncAttempt is one row of the send log.
type SyncAttempt struct {
	ID           int64     `json:"id"`
	PatientID    uuid.UUID `json:"patientId"`
	ResourceType string    `json:"resourceType"`
	FHIRID       string    `json:"fhirId,omitempty"`
	Status       string    `json:"status"`
	HTTPStatus   *int      `json:"httpStatus,omitempty"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	DurationMS   int64     `json:"durationMs"`
	CreatedAt    time.Time `json:"createdAt"`
}

type SyncLogFilter struct {
	Status    string
	PatientID *uuid.UUID
}

// SyncLog records every sync attempt, successful or not.
type SyncLog interface {
	Record(ctx context.Context, a *SyncAttempt) error
	List(ctx context.Context, f SyncLogFilter, limit int) ([]*SyncAttempt, error)
}

type MemorySyncLog struct {
	mu       sync.RWMutex
	attempts []*SyncAttempt
}

func NewMemorySyncLog() *MemorySyncLog {
	return &MemorySyncLog{}
}

func (l *MemorySyncLog) Record(_ context.Context, a *SyncAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a.ID = int64(len(l.attempts) + 1)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	l.attempts = append(l.attempts, &cp)
	return nil
}

// List returns newest attempts first.
func (l *MemorySyncLog) List(_ context.Context, f SyncLogFilter, limit int) ([]*SyncAttempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*SyncAttempt, 0)
	for i := len(l.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		a := l.attempts[i]
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

type syncLogPG struct {
	pool *pgxpool.Pool
}

func NewSyncLogPG(pool *pgxpool.Pool) SyncLog {
	return &syncLogPG{pool: pool}
}

func (l *syncLogPG) Record(ctx context.Context, a *SyncAttempt) error {
	err := db.Conn(ctx, l.pool).QueryRow(ctx, `
		INSERT INTO satusehat_sync_log (patient_id, resource_type, fhir_id, status, http_status, error_message, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		a.PatientID, a.ResourceType, a.FHIRID, a.Status, a.HTTPStatus, a.ErrorMessage, a.DurationMS,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert sync log: %w", err)
	}
	return nil
}

func (l *syncLogPG) List(ctx context.Context, f SyncLogFilter, limit int) ([]*SyncAttempt, error) {
	rows, err := db.Conn(ctx, l.pool).Query(ctx, `
		SELECT id, patient_id, resource_type, fhir_id, status, http_status, error_message, duration_ms, created_at
		FROM satusehat_sync_log
		WHERE ($1 = '' OR status = $1) AND ($2::uuid IS NULL OR patient_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, f.Status, f.PatientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync log: %w", err)
	}
	defer rows.Close()

	out := make([]*SyncAttempt, 0)
	for rows.Next() {
		var a SyncAttempt
		if err := rows.Scan(&a.ID, &a.PatientID, &a.ResourceType, &a.FHIRID, &a.Status,
			&a.HTTPStatus, &a.ErrorMessage, &a.DurationMS, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sync log: %w", err)
	}
	return out, nil
}

package integration

import (
	"context"
	"testing"

	"github.com/cbclite/cbclite/internal/satusehat"
)

func TestCredentialStorePG(t *testing.T) {
	ctx := context.Background()
	store := satusehat.NewCredentialStorePG(globalDB.Pool)

	if err := store.Save(ctx, satusehat.Credentials{ClientID: "first", ClientSecret: "s1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, satusehat.Credentials{ClientID: "second", ClientSecret: "s2"}); err != nil {
		t.Fatalf("Save again: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ClientID != "second" || got.ClientSecret != "s2" {
		t.Errorf("expected latest credentials, got %+v", got)
	}

	var rows int
	if err := globalDB.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM satusehat_settings`).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Errorf("expected a single settings row, got %d", rows)
	}
}

func TestSyncLogPG(t *testing.T) {
	ctx := context.Background()
	log := satusehat.NewSyncLogPG(globalDB.Pool)
	p := createTestPatient(t, ctx, "Logged")

	status := 400
	msg := "identifier NIK tidak valid"
	failed := &satusehat.SyncAttempt{
		PatientID: p.ID, ResourceType: "Patient", Status: satusehat.SyncFailed,
		HTTPStatus: &status, ErrorMessage: &msg, DurationMS: 120,
	}
	if err := log.Record(ctx, failed); err != nil {
		t.Fatalf("Record failed attempt: %v", err)
	}
	ok := &satusehat.SyncAttempt{
		PatientID: p.ID, ResourceType: "Patient", FHIRID: "P02478375538", Status: satusehat.SyncSuccess, DurationMS: 80,
	}
	if err := log.Record(ctx, ok); err != nil {
		t.Fatalf("Record success: %v", err)
	}
	if ok.ID == 0 || ok.CreatedAt.IsZero() {
		t.Errorf("expected id and created_at populated, got %+v", ok)
	}

	all, err := log.List(ctx, satusehat.SyncLogFilter{PatientID: &p.ID}, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(all))
	}
	if all[0].Status != satusehat.SyncSuccess {
		t.Errorf("expected newest first, got %s", all[0].Status)
	}

	failures, err := log.List(ctx, satusehat.SyncLogFilter{Status: satusehat.SyncFailed, PatientID: &p.ID}, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failures) != 1 || failures[0].HTTPStatus == nil || *failures[0].HTTPStatus != 400 {
		t.Errorf("unexpected failures %+v", failures)
	}
}

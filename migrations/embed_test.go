package migrations

import (
	"testing"

	"github.com/cbclite/cbclite/internal/platform/db"
)

func TestEmbeddedMigrationsLoad(t *testing.T) {
	migrations, err := db.NewMigrator(nil, FS).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected at least 2 embedded migrations, got %d", len(migrations))
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("expected contiguous versions, position %d has %d", i, m.Version)
		}
		if m.SQL == "" {
			t.Errorf("migration %s is empty", m.Name)
		}
	}
}

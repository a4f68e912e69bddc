package patient

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cbclite/cbclite/internal/platform/validation"
)

// -- Mock Repository --

type mockRepo struct {
	patients map[uuid.UUID]*Patient
	creates  int
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockRepo) nikTaken(nik string, except uuid.UUID) bool {
	for id, p := range m.patients {
		if id != except && p.NIK == nik {
			return true
		}
	}
	return false
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	m.creates++
	if m.nikTaken(p.NIK, uuid.Nil) {
		return ErrNIKTaken
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now().Add(time.Duration(len(m.patients)) * time.Millisecond)
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	existing, ok := m.patients[p.ID]
	if !ok {
		return ErrNotFound
	}
	if m.nikTaken(p.NIK, p.ID) {
		return ErrNIKTaken
	}
	p.SatuSehatID = existing.SatuSehatID
	p.UpdatedAt = time.Now()
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.patients[id]; !ok {
		return ErrNotFound
	}
	delete(m.patients, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	all := make([]*Patient, 0, len(m.patients))
	for _, p := range m.patients {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) MarkSynced(_ context.Context, id uuid.UUID, satuSehatID string) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.SatuSehatID != nil {
		return nil, ErrAlreadySynced
	}
	p.SatuSehatID = &satuSehatID
	cp := *p
	return &cp, nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo), repo
}

func strPtr(s string) *string { return &s }

func validCreate() CreateRequest {
	return CreateRequest{
		Name:      "Siti Aminah",
		NIK:       "3201234567890001",
		BirthDate: "1990-05-17",
		Gender:    "female",
		Phone:     strPtr("081234567890"),
	}
}

func TestService_Create(t *testing.T) {
	svc, _ := newTestService()

	p, err := svc.Create(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected ID to be assigned")
	}
	if p.BirthDate.Format("2006-01-02") != "1990-05-17" {
		t.Errorf("unexpected birth date %s", p.BirthDate)
	}
	if p.SatuSehatID != nil {
		t.Error("new patients must not carry a registry id")
	}
}

func TestService_Create_TrimsAndDropsBlankPhone(t *testing.T) {
	svc, _ := newTestService()
	req := validCreate()
	req.Name = "  Siti Aminah  "
	req.Phone = strPtr("   ")

	p, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Siti Aminah" {
		t.Errorf("expected trimmed name, got %q", p.Name)
	}
	if p.Phone != nil {
		t.Errorf("expected blank phone to be nil, got %q", *p.Phone)
	}
}

func TestService_Create_RejectsBadNIKBeforeStorage(t *testing.T) {
	svc, repo := newTestService()
	for _, nik := range []string{"", "123", "12345678901234567", "320123456789000X"} {
		req := validCreate()
		req.NIK = nik
		_, err := svc.Create(context.Background(), req)
		var verr *validation.Error
		if !errors.As(err, &verr) {
			t.Fatalf("nik %q: expected validation error, got %v", nik, err)
		}
		if _, ok := verr.Fields["nik"]; !ok {
			t.Errorf("nik %q: expected nik field error, got %v", nik, verr.Fields)
		}
	}
	if repo.creates != 0 {
		t.Errorf("expected no repository writes, got %d", repo.creates)
	}
}

func TestService_Create_RequiredFields(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Create(context.Background(), CreateRequest{})
	var verr *validation.Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, f := range []string{"name", "nik", "birthDate", "gender"} {
		if _, ok := verr.Fields[f]; !ok {
			t.Errorf("expected %s to be reported", f)
		}
	}
}

func TestService_Create_DuplicateNIK(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Create(context.Background(), validCreate()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := svc.Create(context.Background(), validCreate())
	if !errors.Is(err, ErrNIKTaken) {
		t.Errorf("expected ErrNIKTaken, got %v", err)
	}
}

func TestService_Update_Partial(t *testing.T) {
	svc, _ := newTestService()
	p, _ := svc.Create(context.Background(), validCreate())

	updated, err := svc.Update(context.Background(), p.ID, UpdateRequest{Name: strPtr("Siti A.")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Name != "Siti A." {
		t.Errorf("expected name updated, got %q", updated.Name)
	}
	if updated.NIK != p.NIK || updated.Gender != p.Gender || !updated.BirthDate.Equal(p.BirthDate) {
		t.Error("expected untouched fields to keep their values")
	}
	if updated.Phone == nil || *updated.Phone != "081234567890" {
		t.Error("expected phone to be kept")
	}
}

func TestService_Update_ClearsPhone(t *testing.T) {
	svc, _ := newTestService()
	p, _ := svc.Create(context.Background(), validCreate())

	updated, err := svc.Update(context.Background(), p.ID, UpdateRequest{Phone: strPtr("")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Phone != nil {
		t.Errorf("expected phone cleared, got %q", *updated.Phone)
	}
}

func TestService_Update_Validation(t *testing.T) {
	svc, _ := newTestService()
	p, _ := svc.Create(context.Background(), validCreate())

	tests := []struct {
		name  string
		req   UpdateRequest
		field string
	}{
		{"short nik", UpdateRequest{NIK: strPtr("12345")}, "nik"},
		{"blank name", UpdateRequest{Name: strPtr("  ")}, "name"},
		{"bad gender", UpdateRequest{Gender: strPtr("other")}, "gender"},
		{"bad date", UpdateRequest{BirthDate: strPtr("17-05-1990")}, "birthDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Update(context.Background(), p.ID, tt.req)
			var verr *validation.Error
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Errorf("expected %s field error, got %v", tt.field, verr.Fields)
			}
		})
	}
}

func TestService_Update_NotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Update(context.Background(), uuid.New(), UpdateRequest{Name: strPtr("x")})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_Update_DuplicateNIK(t *testing.T) {
	svc, _ := newTestService()
	first, _ := svc.Create(context.Background(), validCreate())
	second := validCreate()
	second.NIK = "3201234567890002"
	p2, _ := svc.Create(context.Background(), second)

	_, err := svc.Update(context.Background(), p2.ID, UpdateRequest{NIK: strPtr(first.NIK)})
	if !errors.Is(err, ErrNIKTaken) {
		t.Errorf("expected ErrNIKTaken, got %v", err)
	}
}

func TestService_Delete(t *testing.T) {
	svc, _ := newTestService()
	p, _ := svc.Create(context.Background(), validCreate())

	if err := svc.Delete(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Get(context.Background(), p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := svc.Delete(context.Background(), p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestService_MarkSynced_WriteOnce(t *testing.T) {
	svc, _ := newTestService()
	p, _ := svc.Create(context.Background(), validCreate())

	synced, err := svc.MarkSynced(context.Background(), p.ID, "P02478375538")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !synced.Synced() || *synced.SatuSehatID != "P02478375538" {
		t.Errorf("expected registry id stored, got %v", synced.SatuSehatID)
	}

	if _, err := svc.MarkSynced(context.Background(), p.ID, "P-OTHER"); !errors.Is(err, ErrAlreadySynced) {
		t.Errorf("expected ErrAlreadySynced, got %v", err)
	}
	got, _ := svc.Get(context.Background(), p.ID)
	if *got.SatuSehatID != "P02478375538" {
		t.Errorf("registry id must not change, got %s", *got.SatuSehatID)
	}
}

func TestService_MarkSynced_EmptyID(t *testing.T) {
	svc, _ := newTestService()
	p, _ := svc.Create(context.Background(), validCreate())
	if _, err := svc.MarkSynced(context.Background(), p.ID, " "); err == nil {
		t.Error("expected error for empty registry id")
	}
}

func TestService_Update_KeepsRegistryID(t *testing.T) {
	svc, _ := newTestService()
	p, _ := svc.Create(context.Background(), validCreate())
	_, _ = svc.MarkSynced(context.Background(), p.ID, "P1")

	updated, err := svc.Update(context.Background(), p.ID, UpdateRequest{Name: strPtr("Renamed")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.SatuSehatID == nil || *updated.SatuSehatID != "P1" {
		t.Error("expected registry id to survive an update")
	}
}

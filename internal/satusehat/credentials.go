package satusehat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cbclite/cbclite/internal/platform/db"
)

// Credentials is the OAuth2 client-credentials pair issued by Satu Sehat.
type Credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

// MaskedSecret keeps the last four characters of the secret.
func (c Credentials) MaskedSecret() string {
	if c.ClientSecret == "" {
		return ""
	}
	if len(c.ClientSecret) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 8) + c.ClientSecret[len(c.ClientSecret)-4:]
}

// CredentialStore keeps the single credential pair. Load returns the zero
// Credentials when nothing is stored.
type CredentialStore interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, c Credentials) error
}

type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds Credentials
}

func NewMemoryCredentialStore(initial Credentials) *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: initial}
}

func (s *MemoryCredentialStore) Load(_ context.Context) (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds, nil
}

func (s *MemoryCredentialStore) Save(_ context.Context, c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = c
	return nil
}

type credentialStorePG struct {
	pool *pgxpool.Pool
}

// NewCredentialStorePG stores credentials in the single-row
// satusehat_settings table.
func NewCredentialStorePG(pool *pgxpool.Pool) CredentialStore {
	return &credentialStorePG{pool: pool}
}

func (s *credentialStorePG) Load(ctx context.Context) (Credentials, error) {
	var c Credentials
	err := db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT client_id, client_secret FROM satusehat_settings WHERE id = 1`,
	).Scan(&c.ClientID, &c.ClientSecret)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("load satusehat credentials: %w", err)
	}
	return c, nil
}

func (s *credentialStorePG) Save(ctx context.Context, c Credentials) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO satusehat_settings (id, client_id, client_secret, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET client_id = EXCLUDED.client_id, client_secret = EXCLUDED.client_secret, updated_at = NOW()`,
		c.ClientID, c.ClientSecret)
	if err != nil {
		return fmt.Errorf("save satusehat credentials: %w", err)
	}
	return nil
}

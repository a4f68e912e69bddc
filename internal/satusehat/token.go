package satusehat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ExpiryMargin is subtracted from the lifetime the registry grants so a
// token is never presented in its final seconds.
const ExpiryMargin = 5000 * time.Millisecond

const maxResponseBody = 1 << 20

// AccessToken is a bearer token and the instant it stops being used.
type AccessToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Valid reports whether the token can still be presented at now.
func (t AccessToken) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// TokenPersister keeps a token across process restarts. LoadToken returns
// nil, nil when nothing is stored.
type TokenPersister interface {
	LoadToken(ctx context.Context) (*AccessToken, error)
	SaveToken(ctx context.Context, t AccessToken) error
	ClearToken(ctx context.Context) error
}

// TokenStore is the token cache shared by every registry call. The
// persister is optional; the in-memory copy is authoritative.
type TokenStore struct {
	mu        sync.RWMutex
	token     *AccessToken
	persister TokenPersister
}

func NewTokenStore(p TokenPersister) *TokenStore {
	return &TokenStore{persister: p}
}

func (s *TokenStore) Get() (AccessToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return AccessToken{}, false
	}
	return *s.token, true
}

// Set caches t in memory, then writes it through to the persister.
func (s *TokenStore) Set(ctx context.Context, t AccessToken) error {
	s.mu.Lock()
	s.token = &t
	s.mu.Unlock()
	if s.persister == nil {
		return nil
	}
	return s.persister.SaveToken(ctx, t)
}

func (s *TokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
	if s.persister == nil {
		return nil
	}
	return s.persister.ClearToken(ctx)
}

// Warm loads a persisted token into memory. Expired tokens are ignored.
func (s *TokenStore) Warm(ctx context.Context, now time.Time) error {
	if s.persister == nil {
		return nil
	}
	t, err := s.persister.LoadToken(ctx)
	if err != nil {
		return err
	}
	if t == nil || !t.Valid(now) {
		return nil
	}
	s.mu.Lock()
	s.token = t
	s.mu.Unlock()
	return nil
}

// Token cache states reported by Status.
const (
	TokenEmpty   = "empty"
	TokenCached  = "cached"
	TokenExpired = "expired"
)

type TokenStatus struct {
	State     string     `json:"state"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

func WithTokenHTTPClient(c *http.Client) TokenOption {
	return func(m *TokenManager) { m.httpClient = c }
}

// WithClock replaces time.Now, for tests that move the clock past expiry.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) { m.now = now }
}

// WithTokenTimeout bounds each request to the authorization endpoint.
func WithTokenTimeout(d time.Duration) TokenOption {
	return func(m *TokenManager) { m.timeout = d }
}

func WithTokenLogger(l zerolog.Logger) TokenOption {
	return func(m *TokenManager) { m.logger = l }
}

// TokenManager obtains client-credentials tokens and caches them until
// expiry. Concurrent cache misses share one authorization request per
// credentials generation.
type TokenManager struct {
	authURL    string
	creds      CredentialStore
	store      *TokenStore
	httpClient *http.Client
	timeout    time.Duration
	now        func() time.Time
	logger     zerolog.Logger
	group      singleflight.Group

	// mu guards gen and the commit of a fetched token into store. gen is
	// bumped on every credential replacement.
	mu  sync.Mutex
	gen uint64
}

func NewTokenManager(authURL string, creds CredentialStore, store *TokenStore, opts ...TokenOption) *TokenManager {
	if store == nil {
		store = NewTokenStore(nil)
	}
	m := &TokenManager{
		authURL:    authURL,
		creds:      creds,
		store:      store,
		httpClient: &http.Client{},
		timeout:    15 * time.Second,
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AccessToken returns a bearer token, requesting a new one only when the
// cached token is missing or expired.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	t, err := m.Token(ctx)
	if err != nil {
		return "", err
	}
	return t.Value, nil
}

// Token is AccessToken with the expiry attached.
func (m *TokenManager) Token(ctx context.Context) (AccessToken, error) {
	// gen is read before the credentials so a replacement in between never
	// lets old credentials run under the new generation.
	gen := m.generation()
	creds, err := m.creds.Load(ctx)
	if err != nil {
		return AccessToken{}, fmt.Errorf("load credentials: %w", err)
	}
	if !creds.Complete() {
		return AccessToken{}, &ConfigurationError{Msg: "credentials not set"}
	}

	if t, ok := m.store.Get(); ok && t.Valid(m.now()) {
		return t, nil
	}

	// The flight outlives any single caller; m.timeout still bounds it.
	flightCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan("token:"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		// A caller that queued behind a finished flight finds the new token here.
		if t, ok := m.store.Get(); ok && t.Valid(m.now()) {
			return t, nil
		}
		return m.fetch(flightCtx, creds, gen)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return AccessToken{}, res.Err
		}
		return res.Val.(AccessToken), nil
	case <-ctx.Done():
		return AccessToken{}, &AuthError{Err: ctx.Err(), timeout: isTimeout(ctx.Err())}
	}
}

func (m *TokenManager) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// SetCredentials replaces the stored credentials and drops any cached token,
// so the next call authenticates with the new pair.
func (m *TokenManager) SetCredentials(ctx context.Context, c Credentials) error {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.ClientSecret = strings.TrimSpace(c.ClientSecret)
	if !c.Complete() {
		return &ConfigurationError{Msg: "clientId and clientSecret are both required"}
	}
	if err := m.creds.Save(ctx, c); err != nil {
		return err
	}

	m.mu.Lock()
	m.gen++
	err := m.store.Clear(ctx)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("clear cached token: %w", err)
	}
	m.logger.Info().Str("client_id", c.ClientID).Msg("satusehat credentials replaced")
	return nil
}

func (m *TokenManager) Credentials(ctx context.Context) (Credentials, error) {
	return m.creds.Load(ctx)
}

// Status describes the cache without touching the network.
func (m *TokenManager) Status() TokenStatus {
	t, ok := m.store.Get()
	if !ok {
		return TokenStatus{State: TokenEmpty}
	}
	exp := t.ExpiresAt
	if !t.Valid(m.now()) {
		return TokenStatus{State: TokenExpired, ExpiresAt: &exp}
	}
	return TokenStatus{State: TokenCached, ExpiresAt: &exp}
}

type tokenResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresIn   seconds `json:"expires_in"`
}

// seconds accepts a JSON number or a numeric string. Satu Sehat sends the
// latter.
type seconds int64

func (s *seconds) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("expires_in %q is not a number", raw)
	}
	*s = seconds(f)
	return nil
}

// fetch requests a token for creds. The token is cached only while gen is
// still current; a token minted for replaced credentials goes back to the
// callers that asked for it and nowhere else.
func (m *TokenManager) fetch(ctx context.Context, creds Credentials, gen uint64) (AccessToken, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	u, err := url.Parse(m.authURL)
	if err != nil {
		return AccessToken{}, &ConfigurationError{Msg: fmt.Sprintf("invalid auth URL: %v", err)}
	}
	q := u.Query()
	q.Set("grant_type", "client_credentials")
	u.RawQuery = q.Encode()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return AccessToken{}, &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return AccessToken{}, &AuthError{Err: err, timeout: isTimeout(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return AccessToken{}, &AuthError{StatusCode: resp.StatusCode, Err: err, timeout: isTimeout(err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return AccessToken{}, &AuthError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return AccessToken{}, &AuthError{StatusCode: resp.StatusCode, Body: string(body), Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return AccessToken{}, &AuthError{StatusCode: resp.StatusCode, Body: string(body), Err: fmt.Errorf("token response has no access_token")}
	}

	t := AccessToken{
		Value:     tr.AccessToken,
		ExpiresAt: m.now().Add(time.Duration(tr.ExpiresIn)*time.Second - ExpiryMargin),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		m.logger.Info().Msg("satusehat credentials replaced during token request, token not cached")
		return t, nil
	}
	if err := m.store.Set(ctx, t); err != nil {
		m.logger.Warn().Err(err).Msg("persist satusehat token")
	}
	m.logger.Info().Time("expires_at", t.ExpiresAt).Msg("satusehat token refreshed")
	return t, nil
}

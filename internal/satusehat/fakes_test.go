package satusehat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// authServer is a fake authorization endpoint that counts requests.
type authServer struct {
	*httptest.Server
	calls     atomic.Int32
	mu        sync.Mutex
	lastForm  url.Values
	lastQuery url.Values
	status    int
	body      string
	delay     time.Duration
	// perClient answers with TOKEN-FOR-<client_id> and applies slow only
	// to the listed client ids.
	perClient bool
	slow      map[string]time.Duration
}

func newAuthServer(t *testing.T, body string) *authServer {
	t.Helper()
	s := &authServer{status: http.StatusOK, body: body}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		_ = r.ParseForm()
		s.mu.Lock()
		s.lastForm = r.PostForm
		s.lastQuery = r.URL.Query()
		status, body, delay := s.status, s.body, s.delay
		if s.perClient {
			id := r.PostForm.Get("client_id")
			body = `{"access_token":"TOKEN-FOR-` + id + `","expires_in":3600}`
			delay = s.slow[id]
		}
		s.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

// tokenPerClient switches the server to per-client tokens, delaying the
// given client ids.
func (s *authServer) tokenPerClient(slow map[string]time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perClient = true
	s.slow = slow
}

// waitForCalls blocks until the server has seen n requests.
func (s *authServer) waitForCalls(t *testing.T, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.calls.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("auth server saw %d requests, want %d", s.calls.Load(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *authServer) setDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *authServer) respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

// registryServer is a fake FHIR endpoint that counts requests and records
// the last bearer token and body it saw.
type registryServer struct {
	*httptest.Server
	calls    atomic.Int32
	mu       sync.Mutex
	lastAuth string
	lastBody []byte
	lastURL  *url.URL
	status   int
	body     string
	delay    time.Duration
}

func newRegistryServer(t *testing.T, status int, body string) *registryServer {
	t.Helper()
	s := &registryServer{status: status, body: body}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		b, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.lastAuth = r.Header.Get("Authorization")
		s.lastBody = b
		s.lastURL = r.URL
		status, body, delay := s.status, s.body, s.delay
		s.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/fhir+json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *registryServer) setDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *registryServer) respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

// fakeClock is a settable clock for token expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memoryPersister is an in-memory TokenPersister.
type memoryPersister struct {
	mu      sync.Mutex
	token   *AccessToken
	saves   int
	clears  int
	loadErr error
}

func (p *memoryPersister) LoadToken(_ context.Context) (*AccessToken, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	if p.token == nil {
		return nil, nil
	}
	cp := *p.token
	return &cp, nil
}

func (p *memoryPersister) SaveToken(_ context.Context, t AccessToken) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = &t
	p.saves++
	return nil
}

func (p *memoryPersister) ClearToken(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = nil
	p.clears++
	return nil
}

const tokenT1 = `{"access_token":"T1","expires_in":3600}`

func newTestManager(authURL string, creds Credentials, opts ...TokenOption) (*TokenManager, *fakeClock) {
	clock := newFakeClock()
	opts = append([]TokenOption{WithClock(clock.Now)}, opts...)
	return NewTokenManager(authURL, NewMemoryCredentialStore(creds), NewTokenStore(nil), opts...), clock
}

package satusehat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/cbclite/cbclite/internal/platform/fhir"
	"github.com/cbclite/cbclite/pkg/fhirmodels"
)

// TokenSource supplies bearer tokens. *TokenManager implements it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout bounds each FHIR request. Token acquisition has its own
// deadline on the TokenManager.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) { cl.timeout = d }
}

func WithLogger(l zerolog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// WithIdentifierSystem sets the NIK identifier system used in payloads and
// lookups. Empty keeps fhirmodels.SystemNIK.
func WithIdentifierSystem(system string) ClientOption {
	return func(cl *Client) {
		if system != "" {
			cl.nikSystem = system
		}
	}
}

// Client talks to the Satu Sehat FHIR API. Every call is attempted once.
type Client struct {
	fhirURL    string
	tokens     TokenSource
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
	nikSystem  string
}

func NewClient(fhirURL string, tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		fhirURL:    strings.TrimRight(fhirURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{},
		timeout:    15 * time.Second,
		logger:     zerolog.Nop(),
		nikSystem:  fhirmodels.SystemNIK,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SyncPatient creates the patient in the registry and returns the id the
// registry assigned. The payload is validated before a token is requested.
// Storing the id is the caller's job.
func (c *Client) SyncPatient(ctx context.Context, rec PatientRecord) (string, error) {
	payload, err := BuildPatientPayloadWithSystem(rec, c.nikSystem)
	if err != nil {
		return "", err
	}

	var created fhir.Patient
	if err := c.do(ctx, http.MethodPost, "/Patient", payload, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", &RegistryError{StatusCode: http.StatusOK, Diagnostics: "registry response has no resource id"}
	}
	return created.ID, nil
}

// LookupPatientByNIK searches the registry for a patient holding nik and
// returns its id, or ErrNotRegistered.
func (c *Client) LookupPatientByNIK(ctx context.Context, nik string) (string, error) {
	nik = strings.TrimSpace(nik)
	if !nikPattern.MatchString(nik) {
		return "", &ValidationError{Field: "nik", Reason: "NIK must be exactly 16 digits"}
	}

	q := url.Values{}
	q.Set("identifier", c.nikSystem+"|"+nik)

	var bundle fhir.Bundle
	if err := c.do(ctx, http.MethodGet, "/Patient?"+q.Encode(), nil, &bundle); err != nil {
		return "", err
	}
	for _, e := range bundle.Entry {
		if e.Resource.ID != "" {
			return e.Resource.ID, nil
		}
	}
	return "", ErrNotRegistered
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.fhirURL+path, body)
	if err != nil {
		return &RegistryError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/fhir+json, application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("satusehat request failed")
		return &RegistryError{Err: err, timeout: isTimeout(err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &RegistryError{StatusCode: resp.StatusCode, Err: err, timeout: isTimeout(err)}
	}
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("satusehat response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newRegistryError(resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &RegistryError{
			StatusCode:  resp.StatusCode,
			Diagnostics: "unreadable registry response",
			Body:        ErrorBody{Raw: string(respBody)},
			Err:         err,
		}
	}
	return nil
}

package satusehat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/cbclite/cbclite/internal/platform/fhir"
)

// ErrTimeout matches, via errors.Is, any AuthError or RegistryError caused by
// an outbound call running past its deadline.
var ErrTimeout = errors.New("satusehat: request timed out")

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrAlreadySynced   = errors.New("patient is already registered with Satu Sehat")
	ErrNotRegistered   = errors.New("no Satu Sehat patient matches this NIK")
)

// ConfigurationError means the client credentials are missing. No request
// was sent.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "satusehat configuration: " + e.Msg
}

// ValidationError means the patient record cannot be turned into a registry
// payload. No request was sent.
type ValidationError struct {
	Missing []string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return "missing required fields: " + strings.Join(e.Missing, ", ")
	}
	return e.Reason
}

// AuthError is a failed token request: a non-2xx answer from the
// authorization endpoint or a transport failure reaching it.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
	timeout    bool
}

func (e *AuthError) Error() string {
	switch {
	case e.timeout:
		return "satusehat auth: token request timed out"
	case e.Err != nil:
		return "satusehat auth: " + e.Err.Error()
	}
	return fmt.Sprintf("satusehat auth: status %d: %s", e.StatusCode, e.Body)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrTimeout && e.timeout }

func (e *AuthError) Timeout() bool { return e.timeout }

// RegistryError is a failed FHIR call. Diagnostics holds the message shown to
// the operator.
type RegistryError struct {
	StatusCode  int
	Diagnostics string
	Body        ErrorBody
	Err         error
	timeout     bool
}

func (e *RegistryError) Error() string {
	switch {
	case e.timeout:
		return "satusehat registry: request timed out"
	case e.Err != nil && e.StatusCode == 0:
		return "satusehat registry: " + e.Err.Error()
	}
	return fmt.Sprintf("satusehat registry: status %d: %s", e.StatusCode, e.Diagnostics)
}

func (e *RegistryError) Unwrap() error { return e.Err }

func (e *RegistryError) Is(target error) bool { return target == ErrTimeout && e.timeout }

func (e *RegistryError) Timeout() bool { return e.timeout }

// ErrorBody is the registry's error response. Exactly one of Outcome or Raw
// is meaningful: Outcome when the body was an OperationOutcome carrying a
// message, Raw otherwise.
type ErrorBody struct {
	Outcome *fhir.OperationOutcome
	Raw     string
}

func parseErrorBody(b []byte) ErrorBody {
	var oo fhir.OperationOutcome
	if err := json.Unmarshal(b, &oo); err == nil {
		if _, ok := oo.FirstDiagnostics(); ok {
			return ErrorBody{Outcome: &oo}
		}
	}
	return ErrorBody{Raw: strings.TrimSpace(string(b))}
}

// Message returns the first diagnostic, or the raw body when the response
// was not an OperationOutcome.
func (b ErrorBody) Message() string {
	if msg, ok := b.Outcome.FirstDiagnostics(); ok {
		return msg
	}
	return b.Raw
}

func newRegistryError(status int, body []byte) *RegistryError {
	eb := parseErrorBody(body)
	msg := eb.Message()
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &RegistryError{StatusCode: status, Diagnostics: msg, Body: eb}
}

// isTimeout reports whether err came from a deadline rather than a caller
// cancellation or a network fault.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

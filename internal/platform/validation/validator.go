// Package validation validates request DTOs with go-playground/validator and
// turns failures into field-keyed messages for the error response detail.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validate = newValidate()
	nikRe    = regexp.MustCompile(`^\d{16}$`)
)

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("nik", validateNIK)
	_ = v.RegisterValidation("isodate", validateISODate)
	_ = v.RegisterValidation("isotime", validateISOTime)
	return v
}

// validateNIK: the national identity number is exactly 16 ASCII digits.
func validateNIK(fl validator.FieldLevel) bool {
	return nikRe.MatchString(fl.Field().String())
}

func validateISODate(fl validator.FieldLevel) bool {
	_, err := ParseDate(fl.Field().String())
	return err == nil
}

func validateISOTime(fl validator.FieldLevel) bool {
	_, err := ParseTimestamp(fl.Field().String())
	return err == nil
}

// ParseTimestamp accepts an RFC 3339 timestamp, kept as given, or a calendar
// date, read as midnight UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.New("invalid timestamp")
	}
	return t, nil
}

// ParseDate accepts a calendar date (2006-01-02) or a full RFC 3339
// timestamp. A timestamp keeps its own date; it is not shifted to UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.New("invalid date")
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// Error lists the invalid fields of a request, keyed by JSON name.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return strings.Join(parts, ", ")
}

// Struct validates s. Field failures come back as *Error.
func Struct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &Error{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		if _, seen := out.Fields[fe.Field()]; seen {
			continue
		}
		out.Fields[fe.Field()] = message(fe)
	}
	return out
}

// EchoValidator adapts the package validator to echo.Validator.
type EchoValidator struct{}

func (EchoValidator) Validate(i interface{}) error {
	return Struct(i)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "nik":
		return "must be exactly 16 digits"
	case "isodate":
		return "must be a date in YYYY-MM-DD format"
	case "isotime":
		return "must be a date (YYYY-MM-DD) or an RFC 3339 timestamp"
	case "oneof":
		return "must be one of: " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "e164", "numeric":
		return "must be a valid phone number"
	default:
		return "is invalid"
	}
}

package patient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cbclite/cbclite/internal/platform/middleware"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func jsonContext(e *echo.Echo, method, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/api/patients", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func withID(c echo.Context, id string) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	return he.Code
}

const createBody = `{"name":"Budi Santoso","nik":"3171010101900001","birthDate":"1990-01-01","gender":"male","phone":"0812000111"}`

func TestHandler_CreatePatient(t *testing.T) {
	h, e := newTestHandler()
	c, rec := jsonContext(e, http.MethodPost, createBody)

	if err := h.CreatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["name"] != "Budi Santoso" {
		t.Errorf("expected Budi Santoso, got %v", body["name"])
	}
	if v, ok := body["satuSehatId"]; !ok || v != nil {
		t.Errorf("expected satuSehatId present and null, got %v", v)
	}
}

func TestHandler_CreatePatient_InvalidNIK(t *testing.T) {
	h, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodPost, `{"name":"Budi","nik":"12345","birthDate":"1990-01-01","gender":"male"}`)

	err := h.CreatePatient(c)
	if httpCode(t, err) != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", httpCode(t, err))
	}
	api, ok := err.(*echo.HTTPError).Message.(middleware.APIError)
	if !ok {
		t.Fatalf("expected APIError message, got %T", err.(*echo.HTTPError).Message)
	}
	fields := api.Detail.(map[string]string)
	if fields["nik"] == "" {
		t.Errorf("expected nik in detail, got %v", fields)
	}
}

func TestHandler_CreatePatient_DuplicateNIK(t *testing.T) {
	h, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodPost, createBody)
	if err := h.CreatePatient(c); err != nil {
		t.Fatalf("first create: %v", err)
	}

	c, _ = jsonContext(e, http.MethodPost, createBody)
	if code := httpCode(t, h.CreatePatient(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_GetPatient(t *testing.T) {
	h, e := newTestHandler()
	p, _ := h.svc.Create(context.Background(), validCreate())

	c, rec := jsonContext(e, http.MethodGet, "")
	if err := h.GetPatient(withID(c, p.ID.String())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodGet, "")
	if code := httpCode(t, h.GetPatient(withID(c, uuid.New().String()))); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_GetPatient_InvalidID(t *testing.T) {
	h, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodGet, "")
	if code := httpCode(t, h.GetPatient(withID(c, "not-a-uuid"))); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_ListPatients(t *testing.T) {
	h, e := newTestHandler()
	for _, nik := range []string{"3171010101900001", "3171010101900002", "3171010101900003"} {
		req := validCreate()
		req.NIK = nik
		if _, err := h.svc.Create(context.Background(), req); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/patients?limit=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var list []Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("expected a JSON array: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 patients, got %d", len(list))
	}
	if rec.Header().Get("X-Total-Count") != "3" {
		t.Errorf("expected X-Total-Count 3, got %q", rec.Header().Get("X-Total-Count"))
	}
	if rec.Header().Get("X-Next-Offset") != "2" {
		t.Errorf("expected X-Next-Offset 2, got %q", rec.Header().Get("X-Next-Offset"))
	}
	if list[0].CreatedAt.Before(list[1].CreatedAt) {
		t.Error("expected newest first")
	}
}

func TestHandler_UpdatePatient(t *testing.T) {
	h, e := newTestHandler()
	p, _ := h.svc.Create(context.Background(), validCreate())

	c, rec := jsonContext(e, http.MethodPut, `{"phone":"0899","satuSehatId":"FORGED"}`)
	if err := h.UpdatePatient(withID(c, p.ID.String())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Phone == nil || *got.Phone != "0899" {
		t.Errorf("expected phone updated, got %v", got.Phone)
	}
	if got.SatuSehatID != nil {
		t.Errorf("satuSehatId must not be writable through PUT, got %q", *got.SatuSehatID)
	}
	if got.Name != p.Name {
		t.Errorf("expected name unchanged, got %q", got.Name)
	}
}

func TestHandler_UpdatePatient_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodPut, `{"name":"x"}`)
	if code := httpCode(t, h.UpdatePatient(withID(c, uuid.New().String()))); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_DeletePatient(t *testing.T) {
	h, e := newTestHandler()
	p, _ := h.svc.Create(context.Background(), validCreate())

	c, rec := jsonContext(e, http.MethodDelete, "")
	if err := h.DeletePatient(withID(c, p.ID.String())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c, _ = jsonContext(e, http.MethodDelete, "")
	if code := httpCode(t, h.DeletePatient(withID(c, p.ID.String()))); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

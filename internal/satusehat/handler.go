package satusehat

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cbclite/cbclite/internal/platform/auth"
	"github.com/cbclite/cbclite/internal/platform/middleware"
	"github.com/cbclite/cbclite/internal/platform/validation"
)

// RoleRegistryOperator may replace the registry credentials.
const RoleRegistryOperator = "registry-operator"

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

type Handler struct {
	tokens *TokenManager
	sync   *SyncService
	client *Client
}

func NewHandler(tokens *TokenManager, sync *SyncService, client *Client) *Handler {
	return &Handler{tokens: tokens, sync: sync, client: client}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patients/:id/satusehat-sync", h.SyncPatient)

	g := api.Group("/satusehat")
	g.GET("/credentials", h.GetCredentials)
	g.PUT("/credentials", h.PutCredentials, auth.RequireRole(RoleRegistryOperator))
	g.POST("/token", h.FetchToken)
	g.GET("/status", h.Status)
	g.GET("/logs", h.ListLogs)
	g.GET("/patients", h.LookupPatient)
}

// CredentialsView never carries the full secret.
type CredentialsView struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	Configured   bool   `json:"configured"`
}

func viewOf(c Credentials) CredentialsView {
	return CredentialsView{ClientID: c.ClientID, ClientSecret: c.MaskedSecret(), Configured: c.Complete()}
}

type credentialsRequest struct {
	ClientID     string `json:"clientId" validate:"required,max=255"`
	ClientSecret string `json:"clientSecret" validate:"required,max=255"`
}

func (r *credentialsRequest) normalize() {
	r.ClientID = strings.TrimSpace(r.ClientID)
	r.ClientSecret = strings.TrimSpace(r.ClientSecret)
}

func (h *Handler) GetCredentials(c echo.Context) error {
	creds, err := h.tokens.Credentials(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOf(creds))
}

func (h *Handler) PutCredentials(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	req.normalize()
	if err := validation.Struct(req); err != nil {
		return httpError(err)
	}
	creds := Credentials{ClientID: req.ClientID, ClientSecret: req.ClientSecret}
	if err := h.tokens.SetCredentials(c.Request().Context(), creds); err != nil {
		return httpError(err)
	}
	stored, err := h.tokens.Credentials(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOf(stored))
}

// FetchToken makes sure a valid token is cached and reports its expiry. The
// token itself is not returned.
func (h *Handler) FetchToken(c echo.Context) error {
	t, err := h.tokens.Token(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"expiresAt": t.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tokens.Status())
}

func (h *Handler) SyncPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	satuSehatID, err := h.sync.SyncPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"satuSehatId": satuSehatID})
}

func (h *Handler) ListLogs(c echo.Context) error {
	f := SyncLogFilter{Status: c.QueryParam("status")}
	if f.Status != "" && f.Status != SyncSuccess && f.Status != SyncFailed {
		return echo.NewHTTPError(http.StatusBadRequest, "status must be success or failed")
	}
	if raw := c.QueryParam("patientId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patientId")
		}
		f.PatientID = &id
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	attempts, err := h.sync.Logs(c.Request().Context(), f, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, attempts)
}

func (h *Handler) LookupPatient(c echo.Context) error {
	nik := c.QueryParam("nik")
	id, err := h.client.LookupPatientByNIK(c.Request().Context(), nik)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"nik": nik, "satuSehatId": id})
}

// httpError maps registry failures onto API responses.
func httpError(err error) error {
	var (
		verr  *validation.Error
		vErr  *ValidationError
		cfErr *ConfigurationError
		auErr *AuthError
		rgErr *RegistryError
	)
	switch {
	case errors.As(err, &verr):
		return middleware.NewAPIError(http.StatusBadRequest, "validation_error", verr.Error(), verr.Fields)
	case errors.As(err, &vErr):
		detail := map[string]interface{}{}
		if len(vErr.Missing) > 0 {
			detail["missing"] = vErr.Missing
		}
		if vErr.Field != "" {
			detail["field"] = vErr.Field
		}
		return middleware.NewAPIError(http.StatusBadRequest, "validation_error", vErr.Error(), detail)
	case errors.As(err, &cfErr):
		return middleware.NewAPIError(http.StatusBadRequest, "configuration_error",
			"Satu Sehat credentials are not set", nil)
	case errors.As(err, &auErr):
		if auErr.Timeout() {
			return middleware.NewAPIError(http.StatusGatewayTimeout, "satusehat_timeout", auErr.Error(), nil)
		}
		return middleware.NewAPIError(http.StatusBadGateway, "satusehat_auth_error", auErr.Error(),
			map[string]interface{}{"upstreamStatus": auErr.StatusCode})
	case errors.As(err, &rgErr):
		if rgErr.Timeout() {
			return middleware.NewAPIError(http.StatusGatewayTimeout, "satusehat_timeout", rgErr.Error(), nil)
		}
		msg := rgErr.Diagnostics
		if msg == "" {
			msg = rgErr.Error()
		}
		return middleware.NewAPIError(http.StatusBadGateway, "satusehat_registry_error", msg,
			map[string]interface{}{"upstreamStatus": rgErr.StatusCode})
	case errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrNotRegistered):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadySynced):
		return echo.NewHTTPError(http.StatusConflict, ErrAlreadySynced.Error())
	}
	return err
}

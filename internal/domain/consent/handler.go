package consent

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cbclite/cbclite/internal/platform/middleware"
	"github.com/cbclite/cbclite/internal/platform/validation"
	"github.com/cbclite/cbclite/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/consents", h.ListConsents)
	api.GET("/consents/:id", h.GetConsent)
	api.POST("/consents", h.CreateConsent)
}

func (h *Handler) CreateConsent(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	f, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) GetConsent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid consent id")
	}
	f, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) ListConsents(c echo.Context) error {
	var filter ListFilter
	if raw := c.QueryParam("patientId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patientId")
		}
		filter.PatientID = &id
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	pagination.SetPage(c, pg, total)
	return c.JSON(http.StatusOK, items)
}

func httpError(err error) error {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		return middleware.NewAPIError(http.StatusBadRequest, "validation_error", verr.Error(), verr.Fields)
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrPatientNotFound.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	}
	return err
}

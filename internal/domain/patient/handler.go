package patient

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
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.POST("/patients", h.CreatePatient)
	api.PUT("/patients/:id", h.UpdatePatient)
	api.DELETE("/patients/:id", h.DeletePatient)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	p, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	pagination.SetPage(c, pg, total)
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	p, err := h.svc.Update(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	return id, nil
}

// httpError maps service errors onto API responses. Unknown errors pass
// through to the error handler as 500s.
func httpError(err error) error {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		return middleware.NewAPIError(http.StatusBadRequest, "validation_error", verr.Error(), verr.Fields)
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	case errors.Is(err, ErrNIKTaken):
		return echo.NewHTTPError(http.StatusConflict, "NIK is already registered in the system. Please enter a different NIK.")
	case errors.Is(err, ErrAlreadySynced):
		return echo.NewHTTPError(http.StatusConflict, ErrAlreadySynced.Error())
	}
	return err
}

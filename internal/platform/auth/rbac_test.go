package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		roles    []string
		wantCode int
	}{
		{"no roles", nil, http.StatusForbidden},
		{"other role", []string{"front-desk"}, http.StatusForbidden},
		{"matching role", []string{"registry-operator"}, http.StatusOK},
		{"admin bypass", []string{RoleAdmin}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPut, "/api/satusehat/credentials", nil)
			req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, tt.roles))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			h := RequireRole("registry-operator")(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})
			err := h(c)
			if tt.wantCode == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != tt.wantCode {
				t.Fatalf("expected %d, got %v", tt.wantCode, err)
			}
		})
	}
}

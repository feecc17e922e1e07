package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func renderError(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	ErrorHandler(err, c)
	return rec
}

func TestErrorHandler(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		rec := renderError(t, NewBadRequestError("Invalid session ID", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
		body := rec.Body.String()
		if !containsAll(body, `"error":"Invalid session ID"`, `"code":"BAD_REQUEST"`) {
			t.Errorf("Unexpected body: %s", body)
		}
	})

	t.Run("api error with cause", func(t *testing.T) {
		rec := renderError(t, NewInternalError("failed to save file", errors.New("disk full")))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("Expected status 500, got %d", rec.Code)
		}
		body := rec.Body.String()
		if !containsAll(body, `"error":"failed to save file"`, `"details":"disk full"`) {
			t.Errorf("Unexpected body: %s", body)
		}
	})

	t.Run("echo http error", func(t *testing.T) {
		rec := renderError(t, echo.NewHTTPError(http.StatusNotFound, "asset not found"))

		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", rec.Code)
		}
		if !containsAll(rec.Body.String(), `"error":"asset not found"`) {
			t.Errorf("Unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("unknown error", func(t *testing.T) {
		rec := renderError(t, errors.New("boom"))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("Expected status 500, got %d", rec.Code)
		}
		if !containsAll(rec.Body.String(), "An unexpected error occurred", `"details":"boom"`) {
			t.Errorf("Unexpected body: %s", rec.Body.String())
		}
	})
}

func TestAPIError_Error(t *testing.T) {
	err := NewBadRequestError("Invalid session ID", nil)
	if err.Error() != "BAD_REQUEST: Invalid session ID" {
		t.Errorf("Unexpected error string: %s", err.Error())
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

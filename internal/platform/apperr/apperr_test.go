package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/weekplan/internal/domain/plan"
)

func TestError_Wrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("publish: %w", Unavailable("ledger", cause))

	if !Is(err, CodeLedgerUnavailable) {
		t.Error("expected LEDGER_UNAVAILABLE")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
	var e *Error
	if !errors.As(err, &e) || e.Status != http.StatusServiceUnavailable || e.Collaborator != "ledger" || !e.Retryable() {
		t.Errorf("unexpected error %+v", e)
	}
}

func TestVersionConflict(t *testing.T) {
	e := VersionConflict(3, 4)
	if e.Status != http.StatusPreconditionFailed || e.Code != CodeVersionConflict {
		t.Errorf("unexpected %+v", e)
	}
}

func TestHTTPErrorHandler_AppError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-1")

	issues := []plan.Issue{{Code: plan.CodeIntervalOverlap, Message: "overlap", Pointer: "days[0].intervals[1]"}}
	HTTPErrorHandler(zerolog.Nop())(Validation(issues), c)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["code"] != CodeValidationError || body["request_id"] != "req-1" {
		t.Errorf("unexpected body %v", body)
	}
	list, ok := body["issues"].([]interface{})
	if !ok || len(list) != 1 {
		t.Fatalf("expected 1 issue, got %v", body["issues"])
	}
	if list[0].(map[string]interface{})["pointer"] != "days[0].intervals[1]" {
		t.Errorf("unexpected issue %v", list[0])
	}
}

func TestHTTPErrorHandler_EchoError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	HTTPErrorHandler(zerolog.Nop())(echo.NewHTTPError(http.StatusForbidden, "insufficient permissions"), c)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["code"] != CodeForbidden || body["message"] != "insufficient permissions" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHTTPErrorHandler_PlainErrorIsMasked(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	HTTPErrorHandler(zerolog.Nop())(errors.New("secret dsn leaked"), c)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["message"] != "internal error" {
		t.Errorf("expected masked message, got %v", body["message"])
	}
}

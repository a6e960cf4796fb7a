package apperrors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("count", "count must be between 1 and 1000")

	if !errors.Is(err, ErrValidation) {
		t.Error("expected error to match ErrValidation")
	}
	if err.Error() != "count must be between 1 and 1000" {
		t.Errorf("unexpected message %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "count" {
		t.Errorf("expected field 'count', got %q", appErr.Field)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("job", "abc123")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if err.Error() != "job abc123 not found" {
		t.Errorf("expected message 'job abc123 not found', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Resource != "job" {
		t.Errorf("expected resource 'job', got %q", appErr.Resource)
	}
}

func TestConflict(t *testing.T) {
	t.Parallel()
	err := Conflict("job", "abc123", "job abc123 is not Submitted")

	if !errors.Is(err, ErrConflict) {
		t.Error("expected error to match ErrConflict")
	}
	if err.Error() != "job abc123 is not Submitted" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestUnavailable_KeepsCause(t *testing.T) {
	t.Parallel()
	err := Unavailable("store.create", sql.ErrConnDone)

	if !errors.Is(err, ErrUnavailable) {
		t.Error("expected error to match ErrUnavailable")
	}
	if !errors.Is(err, sql.ErrConnDone) {
		t.Error("expected cause to be visible to errors.Is")
	}
	if err.Error() != "store.create: "+sql.ErrConnDone.Error() {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestInternal(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("encode result")
	err := Internal("worker.complete", cause)

	if !errors.Is(err, ErrInternal) {
		t.Error("expected error to match ErrInternal")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Op != "worker.complete" {
		t.Errorf("expected op 'worker.complete', got %q", appErr.Op)
	}
	if appErr.Cause != cause {
		t.Error("expected cause to be preserved")
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", Validation("count", "required"), http.StatusBadRequest},
		{"invalid state", InvalidState("job", "1", "job is not Done"), http.StatusBadRequest},
		{"unauthorized", Unauthorized("invalid token"), http.StatusUnauthorized},
		{"not found", NotFound("job", "123"), http.StatusNotFound},
		{"conflict", Conflict("user", "bob", "exists"), http.StatusConflict},
		{"unavailable", Unavailable("queue.publish", fmt.Errorf("closed")), http.StatusServiceUnavailable},
		{"compute", Compute("sink", fmt.Errorf("boom")), http.StatusInternalServerError},
		{"internal", Internal("op", fmt.Errorf("fail")), http.StatusInternalServerError},
		{"wrapped validation", fmt.Errorf("wrap: %w", Validation("f", "m")), http.StatusBadRequest},
		{"unknown error", fmt.Errorf("unknown"), http.StatusInternalServerError},
		{"nil error", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := HTTPStatus(tt.err)
			if got != tt.expected {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestErrorsIsWithWrapping(t *testing.T) {
	t.Parallel()
	original := NotFound("job", "abc")
	wrapped := fmt.Errorf("worker: %w", original)
	doubleWrapped := fmt.Errorf("handler: %w", wrapped)

	if !errors.Is(doubleWrapped, ErrNotFound) {
		t.Error("expected errors.Is to find ErrNotFound through multiple wraps")
	}
}

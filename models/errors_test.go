package models_test

import (
	"errors"
	"fmt"
	"testing"

	"bitbucket.org/vetmanager/caja_backend/models"
)

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{models.NewValidationError("amount", "must be positive"), models.ErrKindValidation},
		{models.NewStateError("cash_drawer", "drawer is not open"), models.ErrKindState},
		{models.NewConflictError("a drawer is already open for this location"), models.ErrKindConflict},
		{models.NewNotFoundError("cash_drawer"), models.ErrKindNotFound},
		{models.NewLimitError(2, "plan allows at most 2 open drawer(s)"), models.ErrKindLimit},
		{errors.New("boom"), ""},
		{nil, ""},
	}
	for _, tc := range cases {
		if kind := models.ErrorKind(tc.err); kind != tc.kind {
			t.Fatalf("ErrorKind(%v) = %q, want %q", tc.err, kind, tc.kind)
		}
	}
}

func TestErrorKind_SeesThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("close drawer 7: %w", models.NewStateError("cash_drawer", "drawer is not open"))
	if kind := models.ErrorKind(wrapped); kind != models.ErrKindState {
		t.Fatalf("ErrorKind(wrapped) = %q, want %q", kind, models.ErrKindState)
	}
}

func TestValidationError_FieldAndMessage(t *testing.T) {
	err := models.NewValidationError("final_amount", "must not be negative")
	if err.Error() != "final_amount: must not be negative" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if field := models.ErrorField(err); field != "final_amount" {
		t.Fatalf("ErrorField = %q, want final_amount", field)
	}

	bare := models.NewValidationError("", "malformed body")
	if bare.Error() != "malformed body" {
		t.Fatalf("Error() without field = %q", bare.Error())
	}
	if field := models.ErrorField(models.NewConflictError("race")); field != "" {
		t.Fatalf("ErrorField on non-validation error = %q, want empty", field)
	}
}

func TestNotFoundError_Message(t *testing.T) {
	err := models.NewNotFoundError("shift")
	if err.Error() != "shift not found" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

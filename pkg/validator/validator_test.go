package validator

import (
	"testing"
)

type testPayload struct {
	Term  string `json:"term" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Limit int    `json:"limit" validate:"gte=1"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		Term:  "liquidation",
		Email: "alice@example.com",
		Limit: 25,
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := testPayload{
		Term:  "",
		Email: "invalid",
		Limit: 0,
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	foundEmail := false
	for _, v := range vErrs {
		if v.Field == "email" {
			foundEmail = true
		}
	}

	if !foundEmail {
		t.Fatal("expected email field to be present in validation errors")
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "term", Tag: "required"},
		{Field: "limit", Tag: "gte", Param: "1"},
	}

	want := "term failed on required; limit failed on gte=1"
	if errs.Error() != want {
		t.Fatalf("unexpected message: %q", errs.Error())
	}
}

package query

import (
	"context"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/formbridge/formbridge/core"
)

func TestGetFormMessage_ValidateReturnsRichError(t *testing.T) {
	err := (GetFormMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorCodeBadInput {
		t.Fatalf("expected %q text code, got %q", core.ErrorCodeBadInput, rich.TextCode)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
	}
	validation := rich.AllValidationErrors()
	if len(validation) == 0 {
		t.Fatalf("expected validation errors in envelope")
	}
	if validation[0].Field != "form_id" {
		t.Fatalf("expected form_id validation field, got %q", validation[0].Field)
	}
}

func TestListResponsesMessage_ValidateBlankFormID(t *testing.T) {
	err := (ListResponsesMessage{FormID: "   "}).Validate()
	if err == nil {
		t.Fatalf("expected validation error for blank form id")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
}

func TestGetFormQuery_NilReaderReturnsRichError(t *testing.T) {
	var qry *GetFormQuery
	_, err := qry.Query(context.Background(), GetFormMessage{FormID: "form-1"})
	if err == nil {
		t.Fatalf("expected dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorCodeInternal {
		t.Fatalf("expected %q text code, got %q", core.ErrorCodeInternal, rich.TextCode)
	}
	if rich.Code != http.StatusInternalServerError {
		t.Fatalf("expected %d code, got %d", http.StatusInternalServerError, rich.Code)
	}
}

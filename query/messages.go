package query

import (
	"strings"
)

const (
	TypeEvaluateVisibility = "formbridge.query.visibility.evaluate"
	TypeGetForm            = "formbridge.query.form.get"
	TypeListForms          = "formbridge.query.form.list"
	TypeGetResponse        = "formbridge.query.response.get"
	TypeListResponses      = "formbridge.query.response.list"
)

type EvaluateVisibilityMessage struct {
	FormID       string
	AnswersSoFar map[string]any
}

func (EvaluateVisibilityMessage) Type() string { return TypeEvaluateVisibility }

func (m EvaluateVisibilityMessage) Validate() error {
	if strings.TrimSpace(m.FormID) == "" {
		return queryValidationError("form_id", "form id is required")
	}
	return nil
}

type GetFormMessage struct {
	FormID string
}

func (GetFormMessage) Type() string { return TypeGetForm }

func (m GetFormMessage) Validate() error {
	if strings.TrimSpace(m.FormID) == "" {
		return queryValidationError("form_id", "form id is required")
	}
	return nil
}

type ListFormsMessage struct {
	OwnerID string
}

func (ListFormsMessage) Type() string { return TypeListForms }

func (m ListFormsMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return queryValidationError("owner_id", "owner id is required")
	}
	return nil
}

type GetResponseMessage struct {
	ResponseID string
}

func (GetResponseMessage) Type() string { return TypeGetResponse }

func (m GetResponseMessage) Validate() error {
	if strings.TrimSpace(m.ResponseID) == "" {
		return queryValidationError("response_id", "response id is required")
	}
	return nil
}

type ListResponsesMessage struct {
	FormID string
	// IncludeDeleted keeps responses whose Airtable record was destroyed.
	IncludeDeleted bool
}

func (ListResponsesMessage) Type() string { return TypeListResponses }

func (m ListResponsesMessage) Validate() error {
	if strings.TrimSpace(m.FormID) == "" {
		return queryValidationError("form_id", "form id is required")
	}
	return nil
}

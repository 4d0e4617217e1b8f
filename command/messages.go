package command

import (
	"strings"
)

const (
	TypeBeginAuthorization  = "formbridge.command.authorization.begin"
	TypeCompleteCallback    = "formbridge.command.authorization.callback"
	TypeRefreshCredential   = "formbridge.command.credential.refresh"
	TypeSubmitResponse      = "formbridge.command.response.submit"
	TypeProcessNotification = "formbridge.command.webhook.process"
)

type BeginAuthorizationMessage struct{}

func (BeginAuthorizationMessage) Type() string { return TypeBeginAuthorization }

func (BeginAuthorizationMessage) Validate() error { return nil }

type CompleteCallbackMessage struct {
	Code  string
	State string
}

func (CompleteCallbackMessage) Type() string { return TypeCompleteCallback }

func (m CompleteCallbackMessage) Validate() error {
	if strings.TrimSpace(m.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	if strings.TrimSpace(m.State) == "" {
		return commandValidationError("state", "authorization state is required")
	}
	return nil
}

type RefreshCredentialMessage struct {
	SubjectID string
}

func (RefreshCredentialMessage) Type() string { return TypeRefreshCredential }

func (m RefreshCredentialMessage) Validate() error {
	if strings.TrimSpace(m.SubjectID) == "" {
		return commandValidationError("subject_id", "subject id is required")
	}
	return nil
}

type SubmitResponseMessage struct {
	FormID      string
	Answers     map[string]any
	SubmittedBy string
}

func (SubmitResponseMessage) Type() string { return TypeSubmitResponse }

func (m SubmitResponseMessage) Validate() error {
	if strings.TrimSpace(m.FormID) == "" {
		return commandValidationError("form_id", "form id is required")
	}
	if m.Answers == nil {
		return commandValidationError("answers", "answers are required")
	}
	return nil
}

type ProcessNotificationMessage struct {
	RawBody   []byte
	Signature string
}

func (ProcessNotificationMessage) Type() string { return TypeProcessNotification }

func (m ProcessNotificationMessage) Validate() error {
	if len(m.RawBody) == 0 {
		return commandValidationError("raw_body", "notification body is required")
	}
	return nil
}

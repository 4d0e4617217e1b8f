package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/formbridge/formbridge/rules"
)

var (
	ErrNoCredential            = errors.New("core: no credential for subject")
	ErrCredentialDeleted       = errors.New("core: credential revoked")
	ErrResponseNotFound        = errors.New("core: response not found")
	ErrFormNotFound            = errors.New("core: form not found")
	ErrUserNotFound            = errors.New("core: user not found")
	ErrInvalidResponseStatus   = errors.New("core: invalid response status transition")
	ErrResponseDeletedUpstream = errors.New("core: response deleted in airtable")
)

// Credential is the stored Airtable OAuth credential for one local user.
// At most one credential exists per subject; it is written only by the
// authorization callback and the refresh gate, serialized per subject.
type Credential struct {
	SubjectID    string
	UserID       string
	TokenType    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c Credential) Validate() error {
	if strings.TrimSpace(c.SubjectID) == "" {
		return fmt.Errorf("core: credential subject id is required")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("core: credential access token is required")
	}
	return nil
}

// PendingAuthorization is the ephemeral per-attempt PKCE state created when
// a login URL is issued and consumed exactly once by the callback. Loss on
// restart only invalidates in-flight logins.
type PendingAuthorization struct {
	State        string
	CodeVerifier string
	CreatedAt    time.Time
}

// User is the local account bound to one Airtable identity.
type User struct {
	ID             string
	Email          string
	AirtableUserID string
	Name           string
	LastLoginAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// QuestionType enumerates the Airtable field kinds a form can bind to.
type QuestionType string

const (
	QuestionTypeSingleLineText QuestionType = "singleLineText"
	QuestionTypeMultilineText  QuestionType = "multilineText"
	QuestionTypeSingleSelect   QuestionType = "singleSelect"
	QuestionTypeMultipleSelect QuestionType = "multipleSelect"
	QuestionTypeAttachment     QuestionType = "attachment"
)

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeSingleLineText, QuestionTypeMultilineText,
		QuestionTypeSingleSelect, QuestionTypeMultipleSelect,
		QuestionTypeAttachment:
		return true
	}
	return false
}

// QuestionSpec describes one form question bound to an Airtable field. The
// question key matches the external field name so answers round-trip
// without translation.
type QuestionSpec struct {
	QuestionKey   string
	FieldID       string
	Label         string
	Type          QuestionType
	Required      bool
	SelectOptions []string
	Rules         *rules.RuleSet
}

// FormDefinition is immutable at evaluation time; edits happen only through
// the form endpoints, never during submission or reconciliation.
type FormDefinition struct {
	ID              string
	OwnerID         string
	AirtableBaseID  string
	AirtableTableID string
	BaseName        string
	TableName       string
	Name            string
	Description     string
	Published       bool
	Questions       []QuestionSpec
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (f FormDefinition) Question(key string) (QuestionSpec, bool) {
	for _, question := range f.Questions {
		if question.QuestionKey == key {
			return question, true
		}
	}
	return QuestionSpec{}, false
}

type ResponseStatus string

const (
	ResponseStatusDraft     ResponseStatus = "draft"
	ResponseStatusSubmitted ResponseStatus = "submitted"
	ResponseStatusDeleted   ResponseStatus = "deleted"
)

// ResponseRecord stores one form submission and mirrors the Airtable record
// it created. AirtableRecordID is empty until the external create succeeds.
type ResponseRecord struct {
	ID                string
	FormID            string
	AirtableRecordID  string
	Answers           map[string]any
	SubmittedBy       string
	Status            ResponseStatus
	DeletedInAirtable bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MarkDeletedInAirtable transitions the record to its terminal deleted
// state. The transition is idempotent and irreversible: once a record is
// deleted upstream it must never be un-deleted locally.
func (r *ResponseRecord) MarkDeletedInAirtable(now time.Time) {
	if r == nil {
		return
	}
	r.Status = ResponseStatusDeleted
	r.DeletedInAirtable = true
	r.UpdatedAt = now
}

// ApplyUpstreamAnswers overwrites the stored answers with the authoritative
// record fetched from Airtable. Writes are absolute so webhook redelivery
// converges to the same state.
func (r *ResponseRecord) ApplyUpstreamAnswers(answers map[string]any, now time.Time) error {
	if r == nil {
		return ErrResponseNotFound
	}
	if r.DeletedInAirtable {
		return ErrResponseDeletedUpstream
	}
	r.Answers = cloneAnswers(answers)
	r.UpdatedAt = now
	return nil
}

func cloneAnswers(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

package sqlstore

import (
	"time"

	"github.com/formbridge/formbridge/core"
	"github.com/formbridge/formbridge/rules"
)

// questionPayload is the JSON shape persisted in the forms.questions column.
// It mirrors the wire shape the form endpoints accept so stored definitions
// can be audited with plain SQL.
type questionPayload struct {
	QuestionKey   string         `json:"questionKey"`
	FieldID       string         `json:"fieldId"`
	Label         string         `json:"label"`
	Type          string         `json:"type"`
	Required      bool           `json:"required"`
	SelectOptions []string       `json:"selectOptions,omitempty"`
	Rules         *rules.RuleSet `json:"rules,omitempty"`
}

// tokenPayload is the plaintext shape sealed into credentials.encrypted_payload.
type tokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func newQuestionPayloads(questions []core.QuestionSpec) []questionPayload {
	out := make([]questionPayload, 0, len(questions))
	for _, question := range questions {
		out = append(out, questionPayload{
			QuestionKey:   question.QuestionKey,
			FieldID:       question.FieldID,
			Label:         question.Label,
			Type:          string(question.Type),
			Required:      question.Required,
			SelectOptions: append([]string(nil), question.SelectOptions...),
			Rules:         question.Rules,
		})
	}
	return out
}

func questionSpecs(payloads []questionPayload) []core.QuestionSpec {
	out := make([]core.QuestionSpec, 0, len(payloads))
	for _, payload := range payloads {
		out = append(out, core.QuestionSpec{
			QuestionKey:   payload.QuestionKey,
			FieldID:       payload.FieldID,
			Label:         payload.Label,
			Type:          core.QuestionType(payload.Type),
			Required:      payload.Required,
			SelectOptions: append([]string(nil), payload.SelectOptions...),
			Rules:         payload.Rules,
		})
	}
	return out
}

func (r *userRecord) toDomain() core.User {
	if r == nil {
		return core.User{}
	}
	user := core.User{
		ID:             r.ID,
		Email:          r.Email,
		AirtableUserID: r.AirtableUserID,
		Name:           r.Name,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.LastLoginAt != nil {
		user.LastLoginAt = *r.LastLoginAt
	}
	return user
}

func newUserRecord(user core.User, now time.Time) *userRecord {
	record := &userRecord{
		ID:             user.ID,
		Email:          user.Email,
		AirtableUserID: user.AirtableUserID,
		Name:           user.Name,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if !user.LastLoginAt.IsZero() {
		lastLogin := user.LastLoginAt.UTC()
		record.LastLoginAt = &lastLogin
	}
	return record
}

func (r *formRecord) toDomain() core.FormDefinition {
	if r == nil {
		return core.FormDefinition{}
	}
	return core.FormDefinition{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		AirtableBaseID:  r.AirtableBaseID,
		AirtableTableID: r.AirtableTableID,
		BaseName:        r.BaseName,
		TableName:       r.TableName,
		Name:            r.Name,
		Description:     r.Description,
		Published:       r.Published,
		Questions:       questionSpecs(r.Questions),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func newFormRecord(form core.FormDefinition, now time.Time) *formRecord {
	return &formRecord{
		ID:              form.ID,
		OwnerID:         form.OwnerID,
		AirtableBaseID:  form.AirtableBaseID,
		AirtableTableID: form.AirtableTableID,
		BaseName:        form.BaseName,
		TableName:       form.TableName,
		Name:            form.Name,
		Description:     form.Description,
		Published:       form.Published,
		Questions:       newQuestionPayloads(form.Questions),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (r *responseRecord) toDomain() core.ResponseRecord {
	if r == nil {
		return core.ResponseRecord{}
	}
	return core.ResponseRecord{
		ID:                r.ID,
		FormID:            r.FormID,
		AirtableRecordID:  r.AirtableRecordID,
		Answers:           copyAnswers(r.Answers),
		SubmittedBy:       r.SubmittedBy,
		Status:            core.ResponseStatus(r.Status),
		DeletedInAirtable: r.DeletedInAirtable,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func newResponseRecord(response core.ResponseRecord, now time.Time) *responseRecord {
	return &responseRecord{
		ID:                response.ID,
		FormID:            response.FormID,
		AirtableRecordID:  response.AirtableRecordID,
		Answers:           copyAnswers(response.Answers),
		SubmittedBy:       response.SubmittedBy,
		Status:            string(response.Status),
		DeletedInAirtable: response.DeletedInAirtable,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func copyAnswers(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

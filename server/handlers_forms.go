package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/formbridge/formbridge/core"
	"github.com/formbridge/formbridge/rules"
)

type questionDTO struct {
	QuestionKey   string         `json:"questionKey"`
	FieldID       string         `json:"fieldId"`
	Label         string         `json:"label"`
	Type          string         `json:"type"`
	Required      bool           `json:"required"`
	SelectOptions []string       `json:"selectOptions,omitempty"`
	Rules         *rules.RuleSet `json:"rules,omitempty"`
}

type formDTO struct {
	ID              string        `json:"id"`
	OwnerID         string        `json:"ownerId,omitempty"`
	AirtableBaseID  string        `json:"airtableBaseId"`
	AirtableTableID string        `json:"airtableTableId"`
	BaseName        string        `json:"baseName,omitempty"`
	TableName       string        `json:"tableName,omitempty"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	Published       bool          `json:"published"`
	Questions       []questionDTO `json:"questions"`
	CreatedAt       time.Time     `json:"createdAt,omitzero"`
	UpdatedAt       time.Time     `json:"updatedAt,omitzero"`
}

type formInput struct {
	AirtableBaseID  string        `json:"airtableBaseId"`
	AirtableTableID string        `json:"airtableTableId"`
	BaseName        string        `json:"baseName"`
	TableName       string        `json:"tableName"`
	Name            string        `json:"name"`
	Description     string        `json:"description"`
	Published       bool          `json:"published"`
	Questions       []questionDTO `json:"questions"`
}

type responseDTO struct {
	ID                string         `json:"id"`
	FormID            string         `json:"formId"`
	AirtableRecordID  string         `json:"airtableRecordId,omitempty"`
	Answers           map[string]any `json:"answers"`
	SubmittedBy       string         `json:"submittedBy,omitempty"`
	Status            string         `json:"status"`
	DeletedInAirtable bool           `json:"deletedInAirtable"`
	CreatedAt         time.Time      `json:"createdAt,omitzero"`
	UpdatedAt         time.Time      `json:"updatedAt,omitzero"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, core.ErrorCodeNoCredential, "no session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId": sess.UserID,
		"email":  sess.Email,
	})
}

func (s *Server) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, core.ErrorCodeNoCredential, "no session")
		return
	}

	var input formInput
	if err := decodeJSONBody(r, &input); err != nil {
		writeErrorCode(w, http.StatusBadRequest, core.ErrorCodeBadInput, "invalid request body")
		return
	}

	form, err := formFromInput(input)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, core.ErrorCodeBadInput, err.Error())
		return
	}
	form.OwnerID = sess.UserID

	saved, err := s.forms.Save(r.Context(), form)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newFormDTO(saved))
}

func (s *Server) handleListForms(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, core.ErrorCodeNoCredential, "no session")
		return
	}
	forms, err := s.forms.ListByOwner(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]formDTO, 0, len(forms))
	for _, form := range forms {
		out = append(out, newFormDTO(form))
	}
	writeJSON(w, http.StatusOK, map[string]any{"forms": out})
}

func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request) {
	form, ok := s.ownedForm(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newFormDTO(form))
}

func (s *Server) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	form, ok := s.ownedForm(w, r)
	if !ok {
		return
	}

	var input formInput
	if err := decodeJSONBody(r, &input); err != nil {
		writeErrorCode(w, http.StatusBadRequest, core.ErrorCodeBadInput, "invalid request body")
		return
	}
	next, err := formFromInput(input)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, core.ErrorCodeBadInput, err.Error())
		return
	}
	next.ID = form.ID
	next.OwnerID = form.OwnerID
	next.CreatedAt = form.CreatedAt

	saved, err := s.forms.Save(r.Context(), next)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFormDTO(saved))
}

func (s *Server) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	form, ok := s.ownedForm(w, r)
	if !ok {
		return
	}
	if err := s.forms.Delete(r.Context(), form.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListResponses(w http.ResponseWriter, r *http.Request) {
	form, ok := s.ownedForm(w, r)
	if !ok {
		return
	}
	responses, err := s.responses.ListByForm(r.Context(), form.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	includeDeleted := strings.EqualFold(r.URL.Query().Get("includeDeleted"), "true")
	out := make([]responseDTO, 0, len(responses))
	for _, response := range responses {
		if response.DeletedInAirtable && !includeDeleted {
			continue
		}
		out = append(out, newResponseDTO(response))
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": out})
}

// ownedForm loads the path form and enforces ownership. Foreign forms read
// as not found so ids do not leak across accounts.
func (s *Server) ownedForm(w http.ResponseWriter, r *http.Request) (core.FormDefinition, bool) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, core.ErrorCodeNoCredential, "no session")
		return core.FormDefinition{}, false
	}
	formID := chi.URLParam(r, "formID")
	form, err := s.forms.Get(r.Context(), formID)
	if err != nil {
		writeError(w, err)
		return core.FormDefinition{}, false
	}
	if form.OwnerID != sess.UserID {
		writeErrorCode(w, http.StatusNotFound, core.ErrorCodeNotFound, "form not found")
		return core.FormDefinition{}, false
	}
	return form, true
}

func (s *Server) handlePublicForm(w http.ResponseWriter, r *http.Request) {
	form, err := s.forms.Get(r.Context(), chi.URLParam(r, "formID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !form.Published {
		writeErrorCode(w, http.StatusNotFound, core.ErrorCodeNotFound, "form not found")
		return
	}
	dto := newFormDTO(form)
	dto.OwnerID = ""
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Answers     map[string]any `json:"answers"`
		SubmittedBy string         `json:"submittedBy"`
	}
	if err := decodeJSONBody(r, &input); err != nil {
		writeErrorCode(w, http.StatusBadRequest, core.ErrorCodeBadInput, "invalid request body")
		return
	}
	if input.Answers == nil {
		writeErrorCode(w, http.StatusBadRequest, core.ErrorCodeBadInput, "answers are required")
		return
	}

	response, err := s.service.SubmitResponse(r.Context(), chi.URLParam(r, "formID"), input.Answers, input.SubmittedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newResponseDTO(response))
}

func (s *Server) handleEvaluateLogic(w http.ResponseWriter, r *http.Request) {
	var input struct {
		AnswersSoFar map[string]any `json:"answersSoFar"`
		Answers      map[string]any `json:"answers"`
	}
	if err := decodeJSONBody(r, &input); err != nil {
		writeErrorCode(w, http.StatusBadRequest, core.ErrorCodeBadInput, "invalid request body")
		return
	}
	answers := input.AnswersSoFar
	if answers == nil {
		answers = input.Answers
	}

	keys, err := s.service.VisibleQuestionKeys(r.Context(), chi.URLParam(r, "formID"), answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"visibleQuestionKeys": keys})
}

func formFromInput(input formInput) (core.FormDefinition, error) {
	if strings.TrimSpace(input.Name) == "" {
		return core.FormDefinition{}, errors.New("form name is required")
	}
	if strings.TrimSpace(input.AirtableBaseID) == "" || strings.TrimSpace(input.AirtableTableID) == "" {
		return core.FormDefinition{}, errors.New("airtable base and table are required")
	}

	questions := make([]core.QuestionSpec, 0, len(input.Questions))
	for i, question := range input.Questions {
		if strings.TrimSpace(question.QuestionKey) == "" {
			return core.FormDefinition{}, fmt.Errorf("question %d: questionKey is required", i)
		}
		questionType := core.QuestionType(question.Type)
		if !questionType.Valid() {
			return core.FormDefinition{}, fmt.Errorf("question %q: unsupported type %q", question.QuestionKey, question.Type)
		}
		if question.Rules != nil {
			if err := question.Rules.Validate(); err != nil {
				return core.FormDefinition{}, fmt.Errorf("question %q: %w", question.QuestionKey, err)
			}
		}
		questions = append(questions, core.QuestionSpec{
			QuestionKey:   question.QuestionKey,
			FieldID:       question.FieldID,
			Label:         question.Label,
			Type:          questionType,
			Required:      question.Required,
			SelectOptions: question.SelectOptions,
			Rules:         question.Rules,
		})
	}

	return core.FormDefinition{
		AirtableBaseID:  input.AirtableBaseID,
		AirtableTableID: input.AirtableTableID,
		BaseName:        input.BaseName,
		TableName:       input.TableName,
		Name:            input.Name,
		Description:     input.Description,
		Published:       input.Published,
		Questions:       questions,
	}, nil
}

func newFormDTO(form core.FormDefinition) formDTO {
	questions := make([]questionDTO, 0, len(form.Questions))
	for _, question := range form.Questions {
		questions = append(questions, questionDTO{
			QuestionKey:   question.QuestionKey,
			FieldID:       question.FieldID,
			Label:         question.Label,
			Type:          string(question.Type),
			Required:      question.Required,
			SelectOptions: question.SelectOptions,
			Rules:         question.Rules,
		})
	}
	return formDTO{
		ID:              form.ID,
		OwnerID:         form.OwnerID,
		AirtableBaseID:  form.AirtableBaseID,
		AirtableTableID: form.AirtableTableID,
		BaseName:        form.BaseName,
		TableName:       form.TableName,
		Name:            form.Name,
		Description:     form.Description,
		Published:       form.Published,
		Questions:       questions,
		CreatedAt:       form.CreatedAt,
		UpdatedAt:       form.UpdatedAt,
	}
}

func newResponseDTO(response core.ResponseRecord) responseDTO {
	return responseDTO{
		ID:                response.ID,
		FormID:            response.FormID,
		AirtableRecordID:  response.AirtableRecordID,
		Answers:           response.Answers,
		SubmittedBy:       response.SubmittedBy,
		Status:            string(response.Status),
		DeletedInAirtable: response.DeletedInAirtable,
		CreatedAt:         response.CreatedAt,
		UpdatedAt:         response.UpdatedAt,
	}
}

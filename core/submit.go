package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/formbridge/formbridge/rules"
)

// SubmitResponse validates and stores one form submission. Visibility rules
// are re-evaluated server-side against the submitted answers, so a client
// cannot smuggle values into hidden questions or skip a required visible
// one. On success the answers are written to Airtable first and the local
// record carries the resulting record id; if the Airtable write fails the
// submission is kept locally as a draft instead of being lost.
func (s *Service) SubmitResponse(ctx context.Context, formID string, answers map[string]any, submittedBy string) (ResponseRecord, error) {
	if s == nil {
		return ResponseRecord{}, fmt.Errorf("core: service is nil")
	}
	startedAt := s.now()

	response, err := s.submitResponse(ctx, formID, answers, submittedBy)
	s.observeOperation(ctx, startedAt, "submit_response", err, map[string]any{
		"form_id": formID,
	})
	if err != nil {
		return ResponseRecord{}, s.mapError(err)
	}
	return response, nil
}

func (s *Service) submitResponse(ctx context.Context, formID string, answers map[string]any, submittedBy string) (ResponseRecord, error) {
	if s.formStore == nil || s.responseStore == nil {
		return ResponseRecord{}, fmt.Errorf("core: submission stores are not configured")
	}
	if answers == nil {
		return ResponseRecord{}, fmt.Errorf("core: answers are required")
	}

	form, err := s.formStore.Get(ctx, strings.TrimSpace(formID))
	if err != nil {
		return ResponseRecord{}, err
	}

	visible := visibleQuestions(form, answers)
	accepted := acceptedAnswers(form, answers, visible)
	if errs := validateAnswers(form, accepted, visible); len(errs) > 0 {
		return ResponseRecord{}, fmt.Errorf("core: invalid submission: %s", strings.Join(errs, "; "))
	}

	now := s.now()
	response := ResponseRecord{
		FormID:      form.ID,
		Answers:     accepted,
		SubmittedBy: strings.TrimSpace(submittedBy),
		Status:      ResponseStatusSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	recordID, createErr := s.createAirtableRecord(ctx, form, accepted)
	if createErr != nil {
		// The user's input survives as a draft; a later repair pass can
		// replay it upstream.
		s.logWarn(ctx, "airtable record creation failed, storing draft", map[string]any{
			"form_id": form.ID,
			"error":   createErr.Error(),
		})
		response.Status = ResponseStatusDraft
	} else {
		response.AirtableRecordID = recordID
	}

	stored, err := s.responseStore.Create(ctx, response)
	if err != nil {
		return ResponseRecord{}, err
	}
	return stored, nil
}

// VisibleQuestionKeys evaluates every question's visibility rules against
// the answers gathered so far, in form order. Rendering, submission, and
// this endpoint all share the same evaluator.
func (s *Service) VisibleQuestionKeys(ctx context.Context, formID string, answersSoFar map[string]any) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	if s.formStore == nil {
		return nil, fmt.Errorf("core: form store is not configured")
	}

	form, err := s.formStore.Get(ctx, strings.TrimSpace(formID))
	if err != nil {
		return nil, s.mapError(err)
	}

	keys := make([]string, 0, len(form.Questions))
	for _, question := range form.Questions {
		if rules.Visible(question.Rules, answersSoFar) {
			keys = append(keys, question.QuestionKey)
		}
	}
	return keys, nil
}

func (s *Service) createAirtableRecord(ctx context.Context, form FormDefinition, answers map[string]any) (string, error) {
	if s.recordClient == nil {
		return "", fmt.Errorf("core: record client is not configured")
	}
	accessToken, err := s.accessTokenForOwner(ctx, form.OwnerID)
	if err != nil {
		return "", err
	}

	fields := make(map[string]any, len(answers))
	for _, question := range form.Questions {
		answer, ok := answers[question.QuestionKey]
		if !ok || answer == nil {
			continue
		}
		fields[question.FieldID] = answer
	}

	record, err := s.recordClient.CreateRecord(ctx, accessToken, form.AirtableBaseID, form.AirtableTableID, fields)
	if err != nil {
		return "", err
	}
	return record.ID, nil
}

func visibleQuestions(form FormDefinition, answers map[string]any) map[string]bool {
	visible := make(map[string]bool, len(form.Questions))
	for _, question := range form.Questions {
		visible[question.QuestionKey] = rules.Visible(question.Rules, answers)
	}
	return visible
}

// acceptedAnswers keeps only answers addressed to visible questions the
// form actually defines. Hidden-question answers are dropped, not rejected,
// since a client may have collected them before a later answer changed the
// visibility outcome.
func acceptedAnswers(form FormDefinition, answers map[string]any, visible map[string]bool) map[string]any {
	accepted := make(map[string]any, len(answers))
	for _, question := range form.Questions {
		if !visible[question.QuestionKey] {
			continue
		}
		if answer, ok := answers[question.QuestionKey]; ok {
			accepted[question.QuestionKey] = answer
		}
	}
	return accepted
}

func validateAnswers(form FormDefinition, answers map[string]any, visible map[string]bool) []string {
	var errs []string
	for _, question := range form.Questions {
		if !visible[question.QuestionKey] {
			continue
		}
		answer, ok := answers[question.QuestionKey]
		if isEmptyAnswer(answer) {
			ok = false
		}
		if !ok {
			if question.Required {
				errs = append(errs, question.Label+" is required")
			}
			continue
		}

		switch question.Type {
		case QuestionTypeSingleLineText, QuestionTypeMultilineText:
			if _, isString := answer.(string); !isString {
				errs = append(errs, question.Label+" must be text")
			}
		case QuestionTypeSingleSelect:
			value, isString := answer.(string)
			if !isString {
				errs = append(errs, question.Label+" must be a single option")
				continue
			}
			if len(question.SelectOptions) > 0 && !containsOption(question.SelectOptions, value) {
				errs = append(errs, "invalid option for "+question.Label)
			}
		case QuestionTypeMultipleSelect:
			values, isSlice := answer.([]any)
			if !isSlice {
				if typed, ok := answer.([]string); ok {
					values = make([]any, len(typed))
					for i, v := range typed {
						values[i] = v
					}
					isSlice = true
				}
			}
			if !isSlice {
				errs = append(errs, question.Label+" must be a list of options")
				continue
			}
			if len(question.SelectOptions) == 0 {
				continue
			}
			for _, raw := range values {
				value, isString := raw.(string)
				if !isString || !containsOption(question.SelectOptions, value) {
					errs = append(errs, "invalid option(s) for "+question.Label)
					break
				}
			}
		case QuestionTypeAttachment:
			// Attachment payloads are validated upstream by Airtable.
		}
	}
	return errs
}

func isEmptyAnswer(answer any) bool {
	if answer == nil {
		return true
	}
	if value, ok := answer.(string); ok {
		return strings.TrimSpace(value) == ""
	}
	return false
}

func containsOption(options []string, value string) bool {
	for _, option := range options {
		if option == value {
			return true
		}
	}
	return false
}

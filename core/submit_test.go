package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/formbridge/formbridge/rules"
)

func seedSubmitFixture(t *testing.T) *serviceFixture {
	t.Helper()
	fixture := newServiceFixture(t, Config{})
	seedCredential(t, fixture, time.Hour)

	if _, err := fixture.forms.Save(context.Background(), FormDefinition{
		ID:              "form-1",
		OwnerID:         "user-1",
		AirtableBaseID:  "appX",
		AirtableTableID: "tblY",
		Questions: []QuestionSpec{
			{
				QuestionKey: "role",
				FieldID:     "fldRole",
				Label:       "Role",
				Type:        QuestionTypeSingleSelect,
				Required:    true,
				SelectOptions: []string{
					"Engineer",
					"Designer",
				},
			},
			{
				QuestionKey: "languages",
				FieldID:     "fldLang",
				Label:       "Languages",
				Type:        QuestionTypeMultipleSelect,
				SelectOptions: []string{
					"Go",
					"Rust",
					"Python",
				},
				Rules: &rules.RuleSet{
					Logic: rules.LogicAnd,
					Conditions: []rules.Condition{
						{QuestionKey: "role", Operator: rules.OperatorEquals, Value: "Engineer"},
					},
				},
			},
			{
				QuestionKey: "notes",
				FieldID:     "fldNotes",
				Label:       "Notes",
				Type:        QuestionTypeMultilineText,
			},
		},
	}); err != nil {
		t.Fatalf("seed form: %v", err)
	}
	return fixture
}

func TestSubmitResponseHappyPath(t *testing.T) {
	fixture := seedSubmitFixture(t)

	response, err := fixture.service.SubmitResponse(context.Background(), "form-1", map[string]any{
		"role":      "Engineer",
		"languages": []any{"Go", "Rust"},
		"notes":     "keen",
	}, "user-1")
	if err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}

	if response.Status != ResponseStatusSubmitted {
		t.Fatalf("expected submitted status, got %q", response.Status)
	}
	if response.AirtableRecordID == "" {
		t.Fatal("expected airtable record id on success")
	}

	record := fixture.records.records[response.AirtableRecordID]
	if record.Fields["fldRole"] != "Engineer" {
		t.Fatalf("answers should map to field ids, got %+v", record.Fields)
	}
	if _, ok := record.Fields["role"]; ok {
		t.Fatal("question keys must not leak into airtable fields")
	}
}

func TestSubmitResponseDropsHiddenAnswers(t *testing.T) {
	fixture := seedSubmitFixture(t)

	// languages is only visible for Engineers; a Designer submission may
	// still carry a stale answer collected before the role changed.
	response, err := fixture.service.SubmitResponse(context.Background(), "form-1", map[string]any{
		"role":      "Designer",
		"languages": []any{"Go"},
	}, "user-1")
	if err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}

	if _, ok := response.Answers["languages"]; ok {
		t.Fatalf("hidden answer should be dropped, got %+v", response.Answers)
	}
	record := fixture.records.records[response.AirtableRecordID]
	if _, ok := record.Fields["fldLang"]; ok {
		t.Fatalf("hidden answer must not reach airtable, got %+v", record.Fields)
	}
}

func TestSubmitResponseRequiredValidation(t *testing.T) {
	fixture := seedSubmitFixture(t)

	if _, err := fixture.service.SubmitResponse(context.Background(), "form-1", map[string]any{
		"notes": "missing role",
	}, "user-1"); err == nil {
		t.Fatal("expected required-field failure")
	}
}

func TestSubmitResponseSelectOptionValidation(t *testing.T) {
	fixture := seedSubmitFixture(t)

	cases := []map[string]any{
		{"role": "Manager"},
		{"role": "Engineer", "languages": []any{"COBOL"}},
		{"role": "Engineer", "languages": "Go"},
		{"role": 42},
	}
	for i, answers := range cases {
		if _, err := fixture.service.SubmitResponse(context.Background(), "form-1", answers, "user-1"); err == nil {
			t.Fatalf("case %d: expected validation failure for %+v", i, answers)
		}
	}
}

func TestSubmitResponseFallsBackToDraftOnUpstreamFailure(t *testing.T) {
	fixture := seedSubmitFixture(t)
	fixture.records.createErr = fmt.Errorf("airtable is down")

	response, err := fixture.service.SubmitResponse(context.Background(), "form-1", map[string]any{
		"role": "Designer",
	}, "user-1")
	if err != nil {
		t.Fatalf("SubmitResponse should keep the submission as draft: %v", err)
	}

	if response.Status != ResponseStatusDraft {
		t.Fatalf("expected draft status, got %q", response.Status)
	}
	if response.AirtableRecordID != "" {
		t.Fatalf("draft must not carry a record id, got %q", response.AirtableRecordID)
	}
	if response.Answers["role"] != "Designer" {
		t.Fatalf("draft must keep validated answers, got %+v", response.Answers)
	}
}

func TestSubmitResponseUnknownForm(t *testing.T) {
	fixture := seedSubmitFixture(t)

	if _, err := fixture.service.SubmitResponse(context.Background(), "missing-form", map[string]any{}, "user-1"); err == nil {
		t.Fatal("expected form-not-found failure")
	}
}

func TestVisibleQuestionKeysMatchesSubmissionFiltering(t *testing.T) {
	fixture := seedSubmitFixture(t)

	keys, err := fixture.service.VisibleQuestionKeys(context.Background(), "form-1", map[string]any{"role": "Engineer"})
	if err != nil {
		t.Fatalf("VisibleQuestionKeys: %v", err)
	}
	if len(keys) != 3 || keys[0] != "role" || keys[1] != "languages" || keys[2] != "notes" {
		t.Fatalf("unexpected visible keys for Engineer: %v", keys)
	}

	keys, err = fixture.service.VisibleQuestionKeys(context.Background(), "form-1", map[string]any{"role": "Designer"})
	if err != nil {
		t.Fatalf("VisibleQuestionKeys: %v", err)
	}
	for _, key := range keys {
		if key == "languages" {
			t.Fatalf("languages should be hidden for Designer: %v", keys)
		}
	}
	if len(keys) != 2 {
		t.Fatalf("expected two visible keys for Designer, got %v", keys)
	}
}

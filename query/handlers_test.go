package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/formbridge/formbridge/core"
)

type stubVisibilityReader struct {
	visibleFn func(ctx context.Context, formID string, answersSoFar map[string]any) ([]string, error)
}

func (s stubVisibilityReader) VisibleQuestionKeys(ctx context.Context, formID string, answersSoFar map[string]any) ([]string, error) {
	if s.visibleFn == nil {
		return nil, fmt.Errorf("visibility not stubbed")
	}
	return s.visibleFn(ctx, formID, answersSoFar)
}

type stubFormReader struct {
	getFn  func(ctx context.Context, id string) (core.FormDefinition, error)
	listFn func(ctx context.Context, ownerID string) ([]core.FormDefinition, error)
}

func (s stubFormReader) Get(ctx context.Context, id string) (core.FormDefinition, error) {
	if s.getFn == nil {
		return core.FormDefinition{}, fmt.Errorf("get not stubbed")
	}
	return s.getFn(ctx, id)
}

func (s stubFormReader) ListByOwner(ctx context.Context, ownerID string) ([]core.FormDefinition, error) {
	if s.listFn == nil {
		return nil, fmt.Errorf("list not stubbed")
	}
	return s.listFn(ctx, ownerID)
}

type stubResponseReader struct {
	getFn  func(ctx context.Context, id string) (core.ResponseRecord, error)
	listFn func(ctx context.Context, formID string) ([]core.ResponseRecord, error)
}

func (s stubResponseReader) Get(ctx context.Context, id string) (core.ResponseRecord, error) {
	if s.getFn == nil {
		return core.ResponseRecord{}, fmt.Errorf("get not stubbed")
	}
	return s.getFn(ctx, id)
}

func (s stubResponseReader) ListByForm(ctx context.Context, formID string) ([]core.ResponseRecord, error) {
	if s.listFn == nil {
		return nil, fmt.Errorf("list not stubbed")
	}
	return s.listFn(ctx, formID)
}

func TestEvaluateVisibilityQuery_QueryDelegates(t *testing.T) {
	called := false
	reader := stubVisibilityReader{
		visibleFn: func(_ context.Context, formID string, answersSoFar map[string]any) ([]string, error) {
			called = true
			if formID != "form-1" {
				t.Fatalf("unexpected form id: %q", formID)
			}
			if answersSoFar["role"] != "Engineer" {
				t.Fatalf("unexpected answers: %v", answersSoFar)
			}
			return []string{"role", "languages"}, nil
		},
	}

	qry := NewEvaluateVisibilityQuery(reader)
	keys, err := qry.Query(context.Background(), EvaluateVisibilityMessage{
		FormID:       "form-1",
		AnswersSoFar: map[string]any{"role": "Engineer"},
	})
	if err != nil {
		t.Fatalf("query visibility: %v", err)
	}
	if !called {
		t.Fatalf("expected visibility reader invocation")
	}
	if len(keys) != 2 || keys[0] != "role" || keys[1] != "languages" {
		t.Fatalf("unexpected visible keys: %v", keys)
	}
}

func TestGetFormQuery_QueryDelegates(t *testing.T) {
	reader := stubFormReader{
		getFn: func(_ context.Context, id string) (core.FormDefinition, error) {
			if id != "form-1" {
				t.Fatalf("unexpected form id: %q", id)
			}
			return core.FormDefinition{ID: "form-1", Name: "Onboarding"}, nil
		},
	}

	qry := NewGetFormQuery(reader)
	form, err := qry.Query(context.Background(), GetFormMessage{FormID: "form-1"})
	if err != nil {
		t.Fatalf("query form: %v", err)
	}
	if form.Name != "Onboarding" {
		t.Fatalf("unexpected form result: %#v", form)
	}
}

func TestListFormsQuery_QueryDelegates(t *testing.T) {
	reader := stubFormReader{
		listFn: func(_ context.Context, ownerID string) ([]core.FormDefinition, error) {
			if ownerID != "user-1" {
				t.Fatalf("unexpected owner id: %q", ownerID)
			}
			return []core.FormDefinition{{ID: "form-1"}, {ID: "form-2"}}, nil
		},
	}

	qry := NewListFormsQuery(reader)
	forms, err := qry.Query(context.Background(), ListFormsMessage{OwnerID: "user-1"})
	if err != nil {
		t.Fatalf("query forms: %v", err)
	}
	if len(forms) != 2 {
		t.Fatalf("unexpected forms result: %#v", forms)
	}
}

func TestListResponsesQuery_ExcludesDeletedByDefault(t *testing.T) {
	reader := stubResponseReader{
		listFn: func(_ context.Context, formID string) ([]core.ResponseRecord, error) {
			if formID != "form-1" {
				t.Fatalf("unexpected form id: %q", formID)
			}
			return []core.ResponseRecord{
				{ID: "resp-1"},
				{ID: "resp-2", DeletedInAirtable: true},
				{ID: "resp-3"},
			}, nil
		},
	}

	qry := NewListResponsesQuery(reader)
	responses, err := qry.Query(context.Background(), ListResponsesMessage{FormID: "form-1"})
	if err != nil {
		t.Fatalf("query responses: %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("expected deleted response filtered out, got %#v", responses)
	}
	for _, response := range responses {
		if response.DeletedInAirtable {
			t.Fatalf("deleted response leaked into default listing: %#v", response)
		}
	}
}

func TestListResponsesQuery_IncludeDeletedKeepsAll(t *testing.T) {
	reader := stubResponseReader{
		listFn: func(context.Context, string) ([]core.ResponseRecord, error) {
			return []core.ResponseRecord{
				{ID: "resp-1"},
				{ID: "resp-2", DeletedInAirtable: true},
			}, nil
		},
	}

	qry := NewListResponsesQuery(reader)
	responses, err := qry.Query(context.Background(), ListResponsesMessage{FormID: "form-1", IncludeDeleted: true})
	if err != nil {
		t.Fatalf("query responses: %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("expected all responses, got %#v", responses)
	}
}

func TestGetResponseQuery_QueryDelegates(t *testing.T) {
	reader := stubResponseReader{
		getFn: func(_ context.Context, id string) (core.ResponseRecord, error) {
			if id != "resp-1" {
				t.Fatalf("unexpected response id: %q", id)
			}
			return core.ResponseRecord{ID: "resp-1", Status: core.ResponseStatusSubmitted}, nil
		},
	}

	qry := NewGetResponseQuery(reader)
	response, err := qry.Query(context.Background(), GetResponseMessage{ResponseID: "resp-1"})
	if err != nil {
		t.Fatalf("query response: %v", err)
	}
	if response.Status != core.ResponseStatusSubmitted {
		t.Fatalf("unexpected response result: %#v", response)
	}
}

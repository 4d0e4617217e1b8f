package query

import (
	"context"

	"github.com/formbridge/formbridge/core"
)

type VisibilityReader interface {
	VisibleQuestionKeys(ctx context.Context, formID string, answersSoFar map[string]any) ([]string, error)
}

type FormReader interface {
	Get(ctx context.Context, id string) (core.FormDefinition, error)
	ListByOwner(ctx context.Context, ownerID string) ([]core.FormDefinition, error)
}

type ResponseReader interface {
	Get(ctx context.Context, id string) (core.ResponseRecord, error)
	ListByForm(ctx context.Context, formID string) ([]core.ResponseRecord, error)
}

type EvaluateVisibilityQuery struct {
	reader VisibilityReader
}

func NewEvaluateVisibilityQuery(reader VisibilityReader) *EvaluateVisibilityQuery {
	return &EvaluateVisibilityQuery{reader: reader}
}

func (q *EvaluateVisibilityQuery) Query(ctx context.Context, msg EvaluateVisibilityMessage) ([]string, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: visibility reader is required")
	}
	return q.reader.VisibleQuestionKeys(ctx, msg.FormID, msg.AnswersSoFar)
}

type GetFormQuery struct {
	reader FormReader
}

func NewGetFormQuery(reader FormReader) *GetFormQuery {
	return &GetFormQuery{reader: reader}
}

func (q *GetFormQuery) Query(ctx context.Context, msg GetFormMessage) (core.FormDefinition, error) {
	if q == nil || q.reader == nil {
		return core.FormDefinition{}, queryDependencyError("query: form reader is required")
	}
	return q.reader.Get(ctx, msg.FormID)
}

type ListFormsQuery struct {
	reader FormReader
}

func NewListFormsQuery(reader FormReader) *ListFormsQuery {
	return &ListFormsQuery{reader: reader}
}

func (q *ListFormsQuery) Query(ctx context.Context, msg ListFormsMessage) ([]core.FormDefinition, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: form reader is required")
	}
	return q.reader.ListByOwner(ctx, msg.OwnerID)
}

type GetResponseQuery struct {
	reader ResponseReader
}

func NewGetResponseQuery(reader ResponseReader) *GetResponseQuery {
	return &GetResponseQuery{reader: reader}
}

func (q *GetResponseQuery) Query(ctx context.Context, msg GetResponseMessage) (core.ResponseRecord, error) {
	if q == nil || q.reader == nil {
		return core.ResponseRecord{}, queryDependencyError("query: response reader is required")
	}
	return q.reader.Get(ctx, msg.ResponseID)
}

type ListResponsesQuery struct {
	reader ResponseReader
}

func NewListResponsesQuery(reader ResponseReader) *ListResponsesQuery {
	return &ListResponsesQuery{reader: reader}
}

// Query lists the responses for a form. Responses whose Airtable record
// was destroyed are excluded unless the message asks for them.
func (q *ListResponsesQuery) Query(ctx context.Context, msg ListResponsesMessage) ([]core.ResponseRecord, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: response reader is required")
	}
	responses, err := q.reader.ListByForm(ctx, msg.FormID)
	if err != nil {
		return nil, err
	}
	if msg.IncludeDeleted {
		return responses, nil
	}
	visible := make([]core.ResponseRecord, 0, len(responses))
	for _, response := range responses {
		if response.DeletedInAirtable {
			continue
		}
		visible = append(visible, response)
	}
	return visible, nil
}

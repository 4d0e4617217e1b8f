package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/formbridge/formbridge/core"
)

var (
	_ gocmd.Querier[EvaluateVisibilityMessage, []string]         = (*EvaluateVisibilityQuery)(nil)
	_ gocmd.Querier[GetFormMessage, core.FormDefinition]         = (*GetFormQuery)(nil)
	_ gocmd.Querier[ListFormsMessage, []core.FormDefinition]     = (*ListFormsQuery)(nil)
	_ gocmd.Querier[GetResponseMessage, core.ResponseRecord]     = (*GetResponseQuery)(nil)
	_ gocmd.Querier[ListResponsesMessage, []core.ResponseRecord] = (*ListResponsesQuery)(nil)

	_ VisibilityReader = (*core.Service)(nil)
)

package formbridge

import (
	"fmt"

	fbcommand "github.com/formbridge/formbridge/command"
	"github.com/formbridge/formbridge/core"
	fbquery "github.com/formbridge/formbridge/query"
)

// CommandQueryService is the slice of the core service the facade composes
// over. *core.Service satisfies it.
type CommandQueryService interface {
	fbcommand.MutatingService
	fbquery.VisibilityReader
}

type Commands struct {
	BeginAuthorization  *fbcommand.BeginAuthorizationCommand
	CompleteCallback    *fbcommand.CompleteCallbackCommand
	RefreshCredential   *fbcommand.RefreshCredentialCommand
	SubmitResponse      *fbcommand.SubmitResponseCommand
	ProcessNotification *fbcommand.ProcessNotificationCommand
}

type Queries struct {
	EvaluateVisibility *fbquery.EvaluateVisibilityQuery
	GetForm            *fbquery.GetFormQuery
	ListForms          *fbquery.ListFormsQuery
	GetResponse        *fbquery.GetResponseQuery
	ListResponses      *fbquery.ListResponsesQuery
}

// Facade bundles the command and query handlers over one service instance
// so hosts wire a single value instead of ten constructors.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	formReader     fbquery.FormReader
	responseReader fbquery.ResponseReader
}

func WithFormReader(reader fbquery.FormReader) FacadeOption {
	return func(options *facadeOptions) {
		options.formReader = reader
	}
}

func WithResponseReader(reader fbquery.ResponseReader) FacadeOption {
	return func(options *facadeOptions) {
		options.responseReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("formbridge: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	if cfg.formReader == nil {
		cfg.formReader = resolveFormReader(service)
	}
	if cfg.responseReader == nil {
		cfg.responseReader = resolveResponseReader(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		BeginAuthorization:  fbcommand.NewBeginAuthorizationCommand(service),
		CompleteCallback:    fbcommand.NewCompleteCallbackCommand(service),
		RefreshCredential:   fbcommand.NewRefreshCredentialCommand(service),
		SubmitResponse:      fbcommand.NewSubmitResponseCommand(service),
		ProcessNotification: fbcommand.NewProcessNotificationCommand(service),
	}
	facade.queries = Queries{
		EvaluateVisibility: fbquery.NewEvaluateVisibilityQuery(service),
		GetForm:            fbquery.NewGetFormQuery(cfg.formReader),
		ListForms:          fbquery.NewListFormsQuery(cfg.formReader),
		GetResponse:        fbquery.NewGetResponseQuery(cfg.responseReader),
		ListResponses:      fbquery.NewListResponsesQuery(cfg.responseReader),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

type dependencyProvider interface {
	Dependencies() core.ServiceDependencies
}

func resolveFormReader(service CommandQueryService) fbquery.FormReader {
	if reader, ok := service.(fbquery.FormReader); ok {
		return reader
	}
	provider, ok := service.(dependencyProvider)
	if !ok {
		return nil
	}
	return provider.Dependencies().FormStore
}

func resolveResponseReader(service CommandQueryService) fbquery.ResponseReader {
	if reader, ok := service.(fbquery.ResponseReader); ok {
		return reader
	}
	provider, ok := service.(dependencyProvider)
	if !ok {
		return nil
	}
	return provider.Dependencies().ResponseStore
}

package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/formbridge/formbridge/core"
)

// MutatingService is the slice of the core service the commands mutate
// through.
type MutatingService interface {
	BeginAuthorization(ctx context.Context) (core.AuthorizationIntent, error)
	CompleteAuthorization(ctx context.Context, code, state string) (core.CallbackResult, error)
	ValidAccessToken(ctx context.Context, subjectID string) (string, error)
	SubmitResponse(ctx context.Context, formID string, answers map[string]any, submittedBy string) (core.ResponseRecord, error)
	HandleNotification(ctx context.Context, rawBody []byte, signatureHeader string) (core.ReconcileOutcome, error)
}

type BeginAuthorizationCommand struct {
	service MutatingService
}

func NewBeginAuthorizationCommand(service MutatingService) *BeginAuthorizationCommand {
	return &BeginAuthorizationCommand{service: service}
}

func (c *BeginAuthorizationCommand) Execute(ctx context.Context, _ BeginAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authorization service is required")
	}
	out, err := c.service.BeginAuthorization(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteCallbackCommand struct {
	service MutatingService
}

func NewCompleteCallbackCommand(service MutatingService) *CompleteCallbackCommand {
	return &CompleteCallbackCommand{service: service}
}

func (c *CompleteCallbackCommand) Execute(ctx context.Context, msg CompleteCallbackMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: callback service is required")
	}
	out, err := c.service.CompleteAuthorization(ctx, msg.Code, msg.State)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshCredentialCommand struct {
	service MutatingService
}

func NewRefreshCredentialCommand(service MutatingService) *RefreshCredentialCommand {
	return &RefreshCredentialCommand{service: service}
}

func (c *RefreshCredentialCommand) Execute(ctx context.Context, msg RefreshCredentialMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: credential service is required")
	}
	out, err := c.service.ValidAccessToken(ctx, msg.SubjectID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SubmitResponseCommand struct {
	service MutatingService
}

func NewSubmitResponseCommand(service MutatingService) *SubmitResponseCommand {
	return &SubmitResponseCommand{service: service}
}

func (c *SubmitResponseCommand) Execute(ctx context.Context, msg SubmitResponseMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: submission service is required")
	}
	out, err := c.service.SubmitResponse(ctx, msg.FormID, msg.Answers, msg.SubmittedBy)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ProcessNotificationCommand struct {
	service MutatingService
}

func NewProcessNotificationCommand(service MutatingService) *ProcessNotificationCommand {
	return &ProcessNotificationCommand{service: service}
}

func (c *ProcessNotificationCommand) Execute(ctx context.Context, msg ProcessNotificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook service is required")
	}
	out, err := c.service.HandleNotification(ctx, msg.RawBody, msg.Signature)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

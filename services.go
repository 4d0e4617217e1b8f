package formbridge

import "github.com/formbridge/formbridge/core"

type Config = core.Config

type OAuthConfig = core.OAuthConfig
type WebhookConfig = core.WebhookConfig
type SessionConfig = core.SessionConfig

type Option = core.Option

type Service = core.Service

type Credential = core.Credential
type User = core.User
type FormDefinition = core.FormDefinition
type QuestionSpec = core.QuestionSpec
type ResponseRecord = core.ResponseRecord
type TokenGrant = core.TokenGrant
type Identity = core.Identity

type AuthorizationIntent = core.AuthorizationIntent
type CallbackResult = core.CallbackResult
type ReconcileOutcome = core.ReconcileOutcome

var (
	WithLogger           = core.WithLogger
	WithLoggerProvider   = core.WithLoggerProvider
	WithMetricsRecorder  = core.WithMetricsRecorder
	WithErrorMapper      = core.WithErrorMapper
	WithConfigProvider   = core.WithConfigProvider
	WithOptionsResolver  = core.WithOptionsResolver
	WithPendingAuthStore = core.WithPendingAuthStore
	WithSubjectLocker    = core.WithSubjectLocker
	WithCredentialStore  = core.WithCredentialStore
	WithUserStore        = core.WithUserStore
	WithFormStore        = core.WithFormStore
	WithResponseStore    = core.WithResponseStore
	WithTokenExchanger   = core.WithTokenExchanger
	WithIdentityClient   = core.WithIdentityClient
	WithRecordClient     = core.WithRecordClient
	WithSessionIssuer    = core.WithSessionIssuer
	WithWebhookVerifier  = core.WithWebhookVerifier
	WithJobEnqueuer      = core.WithJobEnqueuer
	WithClock            = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

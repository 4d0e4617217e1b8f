package core

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service is the form-sync core: authorization flow, token refresh gate,
// webhook reconciliation, submission, and visibility evaluation.
type Service struct {
	config           Config
	logger           Logger
	loggerProvider   LoggerProvider
	metricsRecorder  MetricsRecorder
	errorMapper      ErrorMapper
	configProvider   ConfigProvider
	optionsResolver  OptionsResolver
	pendingAuthStore PendingAuthStore
	subjectLocker    SubjectLocker
	credentialStore  CredentialStore
	userStore        UserStore
	formStore        FormStore
	responseStore    ResponseStore
	tokenExchanger   TokenExchanger
	identityClient   IdentityClient
	recordClient     RecordClient
	sessionIssuer    SessionIssuer
	webhookVerifier  SignatureVerifier
	jobEnqueuer      JobEnqueuer
	nowFn            func() time.Time
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("formbridge", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("formbridge"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = serviceErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.pendingAuthStore == nil {
		builder.pendingAuthStore = NewMemoryPendingAuthStore(DefaultPendingAuthTTL)
	}
	if builder.subjectLocker == nil {
		builder.subjectLocker = NewMemorySubjectLocker()
	}
	if builder.nowFn == nil {
		builder.nowFn = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Service{
		config:           finalConfig,
		logger:           logger,
		loggerProvider:   provider,
		metricsRecorder:  builder.metricsRecorder,
		errorMapper:      builder.errorMapper,
		configProvider:   builder.configProvider,
		optionsResolver:  builder.optionsResolver,
		pendingAuthStore: builder.pendingAuthStore,
		subjectLocker:    builder.subjectLocker,
		credentialStore:  builder.credentialStore,
		userStore:        builder.userStore,
		formStore:        builder.formStore,
		responseStore:    builder.responseStore,
		tokenExchanger:   builder.tokenExchanger,
		identityClient:   builder.identityClient,
		recordClient:     builder.recordClient,
		sessionIssuer:    builder.sessionIssuer,
		webhookVerifier:  builder.webhookVerifier,
		jobEnqueuer:      builder.jobEnqueuer,
		nowFn:            builder.nowFn,
	}, nil
}

// ServiceDependencies exposes the wired stores to composition layers that
// need direct read access, such as the query facade.
type ServiceDependencies struct {
	CredentialStore CredentialStore
	UserStore       UserStore
	FormStore       FormStore
	ResponseStore   ResponseStore
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		CredentialStore: s.credentialStore,
		UserStore:       s.userStore,
		FormStore:       s.formStore,
		ResponseStore:   s.responseStore,
	}
}

// Config returns the resolved configuration.
func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return serviceErrorMapper(err)
	}
	if mapped := s.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (s *Service) now() time.Time {
	if s == nil || s.nowFn == nil {
		return time.Now().UTC()
	}
	return s.nowFn().UTC()
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper != nil {
		if mapped := mapper(err); mapped != nil {
			return mapped
		}
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return err
}

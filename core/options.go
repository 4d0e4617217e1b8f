package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig    Config
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

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithPendingAuthStore(store PendingAuthStore) Option {
	return func(b *serviceBuilder) {
		b.pendingAuthStore = store
	}
}

func WithSubjectLocker(locker SubjectLocker) Option {
	return func(b *serviceBuilder) {
		b.subjectLocker = locker
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *serviceBuilder) {
		b.credentialStore = store
	}
}

func WithUserStore(store UserStore) Option {
	return func(b *serviceBuilder) {
		b.userStore = store
	}
}

func WithFormStore(store FormStore) Option {
	return func(b *serviceBuilder) {
		b.formStore = store
	}
}

func WithResponseStore(store ResponseStore) Option {
	return func(b *serviceBuilder) {
		b.responseStore = store
	}
}

func WithTokenExchanger(exchanger TokenExchanger) Option {
	return func(b *serviceBuilder) {
		b.tokenExchanger = exchanger
	}
}

func WithIdentityClient(client IdentityClient) Option {
	return func(b *serviceBuilder) {
		b.identityClient = client
	}
}

func WithRecordClient(client RecordClient) Option {
	return func(b *serviceBuilder) {
		b.recordClient = client
	}
}

func WithSessionIssuer(issuer SessionIssuer) Option {
	return func(b *serviceBuilder) {
		b.sessionIssuer = issuer
	}
}

func WithWebhookVerifier(verifier SignatureVerifier) Option {
	return func(b *serviceBuilder) {
		b.webhookVerifier = verifier
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.jobEnqueuer = enqueuer
	}
}

func WithClock(nowFn func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.nowFn = nowFn
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("formbridge", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     serviceErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		nowFn:           func() time.Time { return time.Now().UTC() },
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.Environment) != "" {
		layer["environment"] = cfg.Environment
	}
	if includeZero || strings.TrimSpace(cfg.FrontendURL) != "" {
		layer["frontend_url"] = cfg.FrontendURL
	}

	oauth := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.OAuth.ClientID) != "" {
		oauth["client_id"] = cfg.OAuth.ClientID
	}
	if includeZero || strings.TrimSpace(cfg.OAuth.ClientSecret) != "" {
		oauth["client_secret"] = cfg.OAuth.ClientSecret
	}
	if includeZero || strings.TrimSpace(cfg.OAuth.AuthURL) != "" {
		oauth["auth_url"] = cfg.OAuth.AuthURL
	}
	if includeZero || strings.TrimSpace(cfg.OAuth.TokenURL) != "" {
		oauth["token_url"] = cfg.OAuth.TokenURL
	}
	if includeZero || strings.TrimSpace(cfg.OAuth.RedirectURI) != "" {
		oauth["redirect_uri"] = cfg.OAuth.RedirectURI
	}
	if includeZero || len(cfg.OAuth.Scopes) > 0 {
		oauth["scopes"] = append([]string(nil), cfg.OAuth.Scopes...)
	}
	if len(oauth) > 0 {
		layer["oauth"] = oauth
	}

	if includeZero || strings.TrimSpace(cfg.Webhook.MACSecret) != "" {
		layer["webhook"] = map[string]any{
			"mac_secret": cfg.Webhook.MACSecret,
		}
	}

	session := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Session.Secret) != "" {
		session["secret"] = cfg.Session.Secret
	}
	if includeZero || cfg.Session.TTL > 0 {
		session["ttl"] = cfg.Session.TTL
	}
	if len(session) > 0 {
		layer["session"] = session
	}

	return layer
}

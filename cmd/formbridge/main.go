package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/formbridge/formbridge/airtable"
	"github.com/formbridge/formbridge/core"
	"github.com/formbridge/formbridge/jobs"
	fbmigrations "github.com/formbridge/formbridge/migrations"
	"github.com/formbridge/formbridge/security"
	"github.com/formbridge/formbridge/server"
	"github.com/formbridge/formbridge/session"
	sqlstore "github.com/formbridge/formbridge/store/sql"
	"github.com/formbridge/formbridge/webhooks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "formbridge:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	ctx := context.Background()

	_, logger := glog.Resolve("formbridge", nil, nil)
	logger = glog.Ensure(logger)

	cfg := core.DefaultConfig()
	cfg.Environment = envOrDefault("APP_ENV", cfg.Environment)
	cfg.FrontendURL = envOrDefault("FRONTEND_URL", "http://localhost:5173")
	cfg.OAuth.ClientID = mustEnv("AIRTABLE_CLIENT_ID")
	cfg.OAuth.ClientSecret = os.Getenv("AIRTABLE_CLIENT_SECRET")
	cfg.OAuth.RedirectURI = envOrDefault("OAUTH_REDIRECT_URI", "http://localhost:8080/auth/airtable/callback")
	cfg.Webhook.MACSecret = os.Getenv("AIRTABLE_WEBHOOK_SECRET")
	cfg.Session.Secret = mustEnv("SESSION_SECRET")

	client, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	secrets, err := buildSecretProvider()
	if err != nil {
		return err
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, secrets)
	if err != nil {
		return err
	}

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = envDurationOrDefault("FORM_CACHE_TTL", time.Minute)
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return fmt.Errorf("build form cache: %w", err)
	}
	formStore, err := sqlstore.NewCachedFormStore(factory.FormStore(), cacheService)
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(cfg.Session.Secret, cfg.Session.TTL)
	if err != nil {
		return err
	}

	oauthClient, err := airtable.NewOAuthClient(airtable.OAuthConfig{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		TokenURL:     cfg.OAuth.TokenURL,
		RedirectURI:  cfg.OAuth.RedirectURI,
	}, nil)
	if err != nil {
		return err
	}
	apiClient := airtable.NewClient()

	pendingAuth := core.NewMemoryPendingAuthStore(core.DefaultPendingAuthTTL)
	jobQueue := jobs.NewMemoryQueue(64)
	jobEnqueuer := jobs.NewEnqueuer(jobQueue)

	serviceOptions := []core.Option{
		core.WithLogger(logger),
		core.WithPendingAuthStore(pendingAuth),
		core.WithJobEnqueuer(jobEnqueuer),
		core.WithCredentialStore(factory.CredentialStore()),
		core.WithUserStore(factory.UserStore()),
		core.WithFormStore(formStore),
		core.WithResponseStore(factory.ResponseStore()),
		core.WithTokenExchanger(oauthClient),
		core.WithIdentityClient(apiClient),
		core.WithRecordClient(apiClient),
		core.WithSessionIssuer(sessions),
	}
	if cfg.Webhook.MACSecret != "" {
		verifier, verifierErr := webhooks.NewMACVerifier(cfg.Webhook.MACSecret)
		if verifierErr != nil {
			return verifierErr
		}
		serviceOptions = append(serviceOptions, core.WithWebhookVerifier(verifier))
	}

	service, err := core.NewService(cfg, serviceOptions...)
	if err != nil {
		return err
	}

	runner, err := jobs.NewRunner(service, pendingAuth, jobs.WithLogger(logger))
	if err != nil {
		return err
	}
	worker, err := jobs.NewWorker(jobQueue, runner, logger)
	if err != nil {
		return err
	}
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go func() {
		if workerErr := worker.Run(workerCtx); workerErr != nil {
			logger.Error("job worker stopped", "error", workerErr)
		}
	}()
	go jobs.RunSweepSchedule(workerCtx, jobEnqueuer,
		envDurationOrDefault("PENDING_AUTH_SWEEP_INTERVAL", 10*time.Minute), logger)

	srv, err := server.New(server.Config{
		Service:     service,
		Sessions:    sessions,
		Metadata:    apiClient,
		Forms:       formStore,
		Responses:   factory.ResponseStore(),
		Credentials: factory.CredentialStore(),
		FrontendURL: cfg.FrontendURL,
		WebhookURL:  envOrDefault("WEBHOOK_NOTIFICATION_URL", ""),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	addr := ":" + envOrDefault("PORT", "8080")
	logger.Info("formbridge listening", "addr", addr, "environment", cfg.Environment)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return httpServer.ListenAndServe()
}

type persistenceConfig struct {
	driver string
	server string
}

func (c persistenceConfig) GetDebug() bool                { return false }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "formbridge" }

func openDatabase(ctx context.Context) (*persistence.Client, error) {
	driver := strings.ToLower(envOrDefault("DB_DRIVER", "sqlite3"))

	var (
		dsn     string
		dialect schema.Dialect
		target  string
	)
	switch driver {
	case "postgres", "pq":
		driver = "postgres"
		dsn = mustEnv("DATABASE_URL")
		dialect = pgdialect.New()
		target = fbmigrations.DialectPostgres
	case "sqlite", "sqlite3":
		driver = "sqlite3"
		dsn = envOrDefault("DATABASE_URL", "file:formbridge.db?_foreign_keys=on")
		dialect = sqlitedialect.New()
		target = fbmigrations.DialectSQLite
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{driver: driver, server: dsn}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}

	_, err = fbmigrations.Register(ctx, func(_ context.Context, dialectName string, _ string, fsys fs.FS) error {
		if dialectName != target {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, fbmigrations.WithValidationTargets(target))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return client, nil
}

// buildSecretProvider assembles the at-rest token encryption keyring.
// APP_KEY encrypts; comma-separated APP_KEY_RETIRED entries stay readable
// for rows sealed before a rotation.
func buildSecretProvider() (core.SecretProvider, error) {
	appKey := mustEnv("APP_KEY")
	current, err := security.NewAppKeySecretProviderFromString(appKey)
	if err != nil {
		return nil, err
	}

	retiredRaw := strings.TrimSpace(os.Getenv("APP_KEY_RETIRED"))
	if retiredRaw == "" {
		return current, nil
	}

	var retired []core.SecretProvider
	for _, key := range strings.Split(retiredRaw, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		provider, retiredErr := security.NewAppKeySecretProviderFromString(key)
		if retiredErr != nil {
			return nil, retiredErr
		}
		retired = append(retired, provider)
	}
	if len(retired) == 0 {
		return current, nil
	}
	return security.NewKeyringSecretProvider(current, retired...)
}

func mustEnv(key string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		fmt.Fprintf(os.Stderr, "formbridge: %s is required\n", key)
		os.Exit(1)
	}
	return value
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envDurationOrDefault(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

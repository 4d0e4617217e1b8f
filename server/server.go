package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/formbridge/formbridge/airtable"
	"github.com/formbridge/formbridge/core"
	"github.com/formbridge/formbridge/session"
)

// FormService is the slice of the core service the HTTP surface drives.
type FormService interface {
	BeginAuthorization(ctx context.Context) (core.AuthorizationIntent, error)
	CompleteAuthorization(ctx context.Context, code, state string) (core.CallbackResult, error)
	ValidAccessToken(ctx context.Context, subjectID string) (string, error)
	SubmitResponse(ctx context.Context, formID string, answers map[string]any, submittedBy string) (core.ResponseRecord, error)
	HandleNotification(ctx context.Context, rawBody []byte, signatureHeader string) (core.ReconcileOutcome, error)
	VisibleQuestionKeys(ctx context.Context, formID string, answersSoFar map[string]any) ([]string, error)
}

// MetadataClient covers the Airtable metadata and webhook-management API the
// authenticated builder endpoints call through the token gate.
type MetadataClient interface {
	ListBases(ctx context.Context, accessToken string) ([]airtable.Base, error)
	ListTables(ctx context.Context, accessToken, baseID string) ([]airtable.Table, error)
	ListTableFields(ctx context.Context, accessToken, baseID, tableID string) ([]airtable.Field, error)
	CreateWebhook(ctx context.Context, accessToken, baseID, tableID, notificationURL string) (airtable.Webhook, error)
	ListWebhooks(ctx context.Context, accessToken, baseID string) ([]airtable.Webhook, error)
	DeleteWebhook(ctx context.Context, accessToken, baseID, webhookID string) error
}

// SessionVerifier validates bearer tokens on authenticated routes.
type SessionVerifier interface {
	Verify(token string) (session.Claims, error)
}

type Config struct {
	Service     FormService
	Sessions    SessionVerifier
	Metadata    MetadataClient
	Forms       core.FormStore
	Responses   core.ResponseStore
	Credentials core.CredentialStore
	FrontendURL string
	// WebhookURL is the public notification URL registered with Airtable
	// when a webhook subscription is created.
	WebhookURL string
	Logger     core.Logger
}

type Server struct {
	service     FormService
	sessions    SessionVerifier
	metadata    MetadataClient
	forms       core.FormStore
	responses   core.ResponseStore
	credentials core.CredentialStore
	frontendURL string
	webhookURL  string
	logger      core.Logger
	router      chi.Router
}

func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("server: form service is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("server: session verifier is required")
	}
	if cfg.Forms == nil {
		return nil, fmt.Errorf("server: form store is required")
	}
	if cfg.Responses == nil {
		return nil, fmt.Errorf("server: response store is required")
	}

	srv := &Server{
		service:     cfg.Service,
		sessions:    cfg.Sessions,
		metadata:    cfg.Metadata,
		forms:       cfg.Forms,
		responses:   cfg.Responses,
		credentials: cfg.Credentials,
		frontendURL: cfg.FrontendURL,
		webhookURL:  cfg.WebhookURL,
		logger:      cfg.Logger,
	}
	if srv.logger == nil {
		srv.logger = glog.Nop()
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	router := chi.NewRouter()

	router.Get("/health", s.handleHealth)

	router.Get("/auth/oauth-url", s.handleOAuthURL)
	router.Get("/auth/airtable/callback", s.handleOAuthCallback)

	router.Post("/webhooks/airtable", s.handleWebhookDelivery)

	// Public form surface for the renderer.
	router.Get("/forms/{formID}", s.handlePublicForm)
	router.Post("/forms/{formID}/submit", s.handleSubmit)
	router.Post("/forms/{formID}/evaluate-logic", s.handleEvaluateLogic)

	// Builder API behind the session middleware.
	router.Route("/api", func(api chi.Router) {
		api.Use(s.requireSession)

		api.Get("/me", s.handleMe)

		api.Get("/bases", s.handleListBases)
		api.Get("/bases/{baseID}/tables", s.handleListTables)
		api.Get("/bases/{baseID}/tables/{tableID}/fields", s.handleListFields)

		api.Post("/forms", s.handleCreateForm)
		api.Get("/forms", s.handleListForms)
		api.Get("/forms/{formID}", s.handleGetForm)
		api.Put("/forms/{formID}", s.handleUpdateForm)
		api.Delete("/forms/{formID}", s.handleDeleteForm)
		api.Get("/forms/{formID}/responses", s.handleListResponses)

		api.Post("/webhooks", s.handleCreateWebhook)
		api.Get("/webhooks", s.handleListWebhooks)
		api.Delete("/webhooks/{webhookID}", s.handleDeleteWebhook)
	})

	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

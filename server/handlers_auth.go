package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/formbridge/formbridge/core"
)

func (s *Server) handleOAuthURL(w http.ResponseWriter, r *http.Request) {
	intent, err := s.service.BeginAuthorization(r.Context())
	if err != nil {
		s.logger.Error("begin authorization failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":   intent.URL,
		"state": intent.State,
	})
}

// handleOAuthCallback finishes the provider redirect. Success and failure
// both land on the frontend callback route; raw errors never render here.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if providerErr := strings.TrimSpace(query.Get("error")); providerErr != "" {
		s.logger.Warn("authorization denied by provider",
			"error", providerErr,
			"description", query.Get("error_description"),
		)
		s.redirectCallbackError(w, r, providerErr, query.Get("error_description"))
		return
	}

	code := strings.TrimSpace(query.Get("code"))
	state := strings.TrimSpace(query.Get("state"))
	if code == "" || state == "" {
		s.redirectCallbackError(w, r, "invalid_request", "missing code or state")
		return
	}

	result, err := s.service.CompleteAuthorization(r.Context(), code, state)
	if err != nil {
		s.logger.Error("authorization callback failed", "error", err)
		s.redirectCallbackError(w, r, callbackErrorCode(err), callbackErrorDescription(err))
		return
	}

	target := s.frontendCallbackURL(url.Values{"token": {result.SessionToken}})
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) redirectCallbackError(w http.ResponseWriter, r *http.Request, code, description string) {
	values := url.Values{"error": {code}}
	if strings.TrimSpace(description) != "" {
		values.Set("description", description)
	}
	http.Redirect(w, r, s.frontendCallbackURL(values), http.StatusFound)
}

func (s *Server) frontendCallbackURL(values url.Values) string {
	base := strings.TrimSuffix(s.frontendURL, "/")
	return base + "/auth/callback?" + values.Encode()
}

func callbackErrorCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil && strings.TrimSpace(rich.TextCode) != "" {
		return rich.TextCode
	}
	return core.ErrorCodeInternal
}

func callbackErrorDescription(err error) string {
	var upstream *core.UpstreamError
	if errors.As(err, &upstream) && upstream != nil {
		return upstream.Description
	}
	return "authorization could not be completed"
}

package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/formbridge/formbridge/core"
)

// withAccessToken runs fn with the caller's valid Airtable token, fronting
// the credential lookup and refresh gate shared by every metadata route.
func (s *Server) withAccessToken(w http.ResponseWriter, r *http.Request, fn func(accessToken string)) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, core.ErrorCodeNoCredential, "no session")
		return
	}
	accessToken, err := s.accessTokenForUser(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metadata == nil {
		writeErrorCode(w, http.StatusServiceUnavailable, core.ErrorCodeInternal, "metadata client not configured")
		return
	}
	fn(accessToken)
}

func (s *Server) handleListBases(w http.ResponseWriter, r *http.Request) {
	s.withAccessToken(w, r, func(accessToken string) {
		bases, err := s.metadata.ListBases(r.Context(), accessToken)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bases": bases})
	})
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	s.withAccessToken(w, r, func(accessToken string) {
		tables, err := s.metadata.ListTables(r.Context(), accessToken, chi.URLParam(r, "baseID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
	})
}

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	s.withAccessToken(w, r, func(accessToken string) {
		fields, err := s.metadata.ListTableFields(r.Context(), accessToken, chi.URLParam(r, "baseID"), chi.URLParam(r, "tableID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fields": fields})
	})
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var input struct {
		BaseID  string `json:"baseId"`
		TableID string `json:"tableId"`
	}
	if err := decodeJSONBody(r, &input); err != nil {
		writeErrorCode(w, http.StatusBadRequest, core.ErrorCodeBadInput, "invalid request body")
		return
	}
	if strings.TrimSpace(input.BaseID) == "" || strings.TrimSpace(input.TableID) == "" {
		writeErrorCode(w, http.StatusBadRequest, core.ErrorCodeBadInput, "baseId and tableId are required")
		return
	}

	s.withAccessToken(w, r, func(accessToken string) {
		webhook, err := s.metadata.CreateWebhook(r.Context(), accessToken, input.BaseID, input.TableID, s.webhookURL)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"webhook": webhook})
	})
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	baseID := strings.TrimSpace(r.URL.Query().Get("baseId"))
	if baseID == "" {
		writeErrorCode(w, http.StatusBadRequest, core.ErrorCodeBadInput, "baseId is required")
		return
	}
	s.withAccessToken(w, r, func(accessToken string) {
		webhooks, err := s.metadata.ListWebhooks(r.Context(), accessToken, baseID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"webhooks": webhooks})
	})
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	baseID := strings.TrimSpace(r.URL.Query().Get("baseId"))
	if baseID == "" {
		writeErrorCode(w, http.StatusBadRequest, core.ErrorCodeBadInput, "baseId is required")
		return
	}
	s.withAccessToken(w, r, func(accessToken string) {
		if err := s.metadata.DeleteWebhook(r.Context(), accessToken, baseID, chi.URLParam(r, "webhookID")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

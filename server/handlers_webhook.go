package server

import (
	"io"
	"net/http"
)

const signatureHeader = "X-Airtable-Content-MAC"

// maxWebhookBodyBytes caps a delivery payload. Airtable notifications are
// small; anything past the cap is rejected rather than buffered.
const maxWebhookBodyBytes = 1 << 20

// handleWebhookDelivery acknowledges every delivery with 200 so the
// provider does not retry-storm; failures ride in the body.
func (s *Server) handleWebhookDelivery(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
	if err != nil {
		s.logger.Error("webhook body read failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "unreadable body"})
		return
	}
	if len(rawBody) > maxWebhookBodyBytes {
		s.logger.Warn("webhook body exceeds size cap", "bytes", len(rawBody))
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "payload too large"})
		return
	}

	outcome, err := s.service.HandleNotification(r.Context(), rawBody, r.Header.Get(signatureHeader))
	if err != nil {
		s.logger.Warn("webhook reconciliation rejected", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"formMatched":    outcome.FormMatched,
		"createdSeen":    outcome.CreatedSeen,
		"updatedApplied": outcome.UpdatedApplied,
		"updatedSkipped": outcome.UpdatedSkipped,
		"deletedMarked":  outcome.DeletedMarked,
	})
}

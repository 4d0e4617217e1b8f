package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/formbridge/formbridge/core"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// writeError maps a service error onto the HTTP envelope. Rich errors carry
// their own status and text code; store sentinels map to their taxonomy
// codes; anything else is an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrFormNotFound),
		errors.Is(err, core.ErrResponseNotFound),
		errors.Is(err, core.ErrUserNotFound):
		writeErrorCode(w, http.StatusNotFound, core.ErrorCodeNotFound, err.Error())
		return
	case errors.Is(err, core.ErrNoCredential):
		writeErrorCode(w, http.StatusUnauthorized, core.ErrorCodeNoCredential, err.Error())
		return
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		status := rich.Code
		if status < http.StatusBadRequest || status > 599 {
			status = http.StatusInternalServerError
		}
		code := strings.TrimSpace(rich.TextCode)
		if code == "" {
			code = core.ErrorCodeInternal
		}
		message := rich.Message
		if message == "" {
			message = "request failed"
		}
		writeErrorCode(w, status, code, message)
		return
	}
	writeErrorCode(w, http.StatusInternalServerError, core.ErrorCodeInternal, "An unexpected error occurred")
}

func decodeJSONBody(r *http.Request, into any) error {
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(into)
}

package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorCodeBadInput        = "FORM_BAD_INPUT"
	ErrorCodeNotFound        = "FORM_NOT_FOUND"
	ErrorCodeInvalidState    = "AUTH_STATE_INVALID"
	ErrorCodeMissingVerifier = "AUTH_MISSING_VERIFIER"
	ErrorCodeUpstream        = "UPSTREAM_ERROR"
	ErrorCodeNoCredential    = "NO_CREDENTIAL"
	ErrorCodeRefreshFailed   = "REFRESH_FAILED"
	ErrorCodeBadSignature    = "WEBHOOK_SIGNATURE_INVALID"
	ErrorCodeBadPayload      = "WEBHOOK_PAYLOAD_MALFORMED"
	ErrorCodeInternal        = "FORM_INTERNAL_ERROR"
)

// Sentinels for branching inside the service; the mapper wraps them into
// goerrors envelopes at the boundary.
var (
	ErrInvalidState     = errors.New("core: authorization state invalid or expired")
	ErrMissingVerifier  = errors.New("core: pending authorization is missing a code verifier")
	ErrInvalidSignature = errors.New("core: webhook signature verification failed")
	ErrMalformedPayload = errors.New("core: webhook payload is malformed")
)

// UpstreamError carries the provider's error code and human description so
// the callback handler can surface them on the error view instead of a raw
// failure.
type UpstreamError struct {
	Code        string
	Description string
	Cause       error
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return "core: upstream error"
	}
	code := strings.TrimSpace(e.Code)
	if code == "" {
		code = "upstream_error"
	}
	if strings.TrimSpace(e.Description) != "" {
		return "core: upstream error " + code + ": " + e.Description
	}
	return "core: upstream error " + code
}

func (e *UpstreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// RefreshError wraps a failed token refresh. The stored credential is left
// untouched; callers should prompt re-authorization rather than retry.
type RefreshError struct {
	SubjectID string
	Cause     error
}

func (e *RefreshError) Error() string {
	if e == nil {
		return "core: token refresh failed"
	}
	if e.Cause != nil {
		return "core: token refresh failed for subject " + e.SubjectID + ": " + e.Cause.Error()
	}
	return "core: token refresh failed for subject " + e.SubjectID
}

func (e *RefreshError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	var upstream *UpstreamError
	var refresh *RefreshError
	switch {
	case errors.Is(err, ErrInvalidState):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ErrorCodeInvalidState)
	case errors.Is(err, ErrMissingVerifier):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ErrorCodeMissingVerifier)
	case errors.Is(err, ErrNoCredential):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ErrorCodeNoCredential)
	case errors.Is(err, ErrInvalidSignature):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ErrorCodeBadSignature)
	case errors.Is(err, ErrMalformedPayload):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorCodeBadPayload)
	case errors.Is(err, ErrFormNotFound), errors.Is(err, ErrResponseNotFound), errors.Is(err, ErrUserNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ErrorCodeNotFound)
	case errors.As(err, &refresh):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ErrorCodeRefreshFailed)
	case errors.As(err, &upstream):
		return newServiceError(err.Error(), goerrors.CategoryExternal, ErrorCodeUpstream)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorCodeBadInput)
	case strings.Contains(msg, "not found"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ErrorCodeNotFound)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorCodeBadInput
	case goerrors.CategoryNotFound:
		return ErrorCodeNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorCodeNoCredential
	case goerrors.CategoryExternal:
		return ErrorCodeUpstream
	default:
		return ErrorCodeInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

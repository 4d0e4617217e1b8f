package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/formbridge/formbridge/core"
)

type sessionContextKey struct{}

type sessionContext struct {
	UserID string
	Email  string
}

// requireSession validates the bearer token and stashes the session subject
// on the request context. The subject claim is the local user id.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeErrorCode(w, http.StatusUnauthorized, core.ErrorCodeNoCredential, "missing authorization token")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeErrorCode(w, http.StatusUnauthorized, core.ErrorCodeNoCredential, "invalid authorization format")
			return
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			writeErrorCode(w, http.StatusUnauthorized, core.ErrorCodeNoCredential, "invalid authorization token")
			return
		}

		claims, err := s.sessions.Verify(token)
		if err != nil {
			writeErrorCode(w, http.StatusUnauthorized, core.ErrorCodeNoCredential, "invalid or expired token")
			return
		}
		if strings.TrimSpace(claims.Subject) == "" {
			writeErrorCode(w, http.StatusUnauthorized, core.ErrorCodeNoCredential, "token has no subject")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey{}, sessionContext{
			UserID: claims.Subject,
			Email:  claims.Email,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (sessionContext, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(sessionContext)
	return sess, ok
}

// accessTokenForUser resolves the caller's Airtable access token through the
// refresh gate: user id -> stored credential -> ValidAccessToken.
func (s *Server) accessTokenForUser(ctx context.Context, userID string) (string, error) {
	if s.credentials == nil {
		return "", core.ErrNoCredential
	}
	credential, err := s.credentials.GetByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.service.ValidAccessToken(ctx, credential.SubjectID)
}

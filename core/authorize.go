package core

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// AuthorizationIntent is the outcome of starting a login: the URL the
// browser is sent to. The matching PendingAuthorization stays server-side.
type AuthorizationIntent struct {
	URL   string
	State string
}

// CallbackResult is handed to the HTTP layer after a successful callback.
type CallbackResult struct {
	User         User
	Credential   Credential
	SessionToken string
}

// BeginAuthorization issues a provider authorize URL bound to a fresh
// state/verifier pair and records the pending authorization. Expired
// entries are purged opportunistically on each call.
func (s *Service) BeginAuthorization(ctx context.Context) (AuthorizationIntent, error) {
	if s == nil {
		return AuthorizationIntent{}, fmt.Errorf("core: service is nil")
	}
	startedAt := s.now()

	intent, err := s.beginAuthorization(ctx)
	s.observeOperation(ctx, startedAt, "authorization_begin", err, map[string]any{})
	if err != nil {
		return AuthorizationIntent{}, s.mapError(err)
	}
	return intent, nil
}

func (s *Service) beginAuthorization(ctx context.Context) (AuthorizationIntent, error) {
	oauth := s.config.OAuth
	if strings.TrimSpace(oauth.ClientID) == "" {
		return AuthorizationIntent{}, fmt.Errorf("core: oauth client id is required")
	}
	if strings.TrimSpace(oauth.AuthURL) == "" {
		return AuthorizationIntent{}, fmt.Errorf("core: oauth auth url is required")
	}
	if s.pendingAuthStore == nil {
		return AuthorizationIntent{}, fmt.Errorf("core: pending auth store is not configured")
	}

	pending, err := NewPendingAuthorization(s.now())
	if err != nil {
		return AuthorizationIntent{}, err
	}
	s.pendingAuthStore.PurgeExpired(ctx, s.now())
	if err := s.pendingAuthStore.Save(ctx, pending); err != nil {
		return AuthorizationIntent{}, err
	}

	values := url.Values{}
	values.Set("client_id", strings.TrimSpace(oauth.ClientID))
	values.Set("redirect_uri", strings.TrimSpace(oauth.RedirectURI))
	values.Set("response_type", "code")
	values.Set("scope", strings.Join(oauth.Scopes, " "))
	values.Set("state", pending.State)
	values.Set("code_challenge", CodeChallengeS256(pending.CodeVerifier))
	values.Set("code_challenge_method", "S256")

	authURL := strings.TrimSpace(oauth.AuthURL)
	if strings.Contains(authURL, "?") {
		authURL += "&" + values.Encode()
	} else {
		authURL += "?" + values.Encode()
	}

	return AuthorizationIntent{URL: authURL, State: pending.State}, nil
}

// CompleteAuthorization consumes the pending state, exchanges the code with
// the PKCE verifier, resolves the external identity, and upserts both the
// local user and the credential. The pending entry is removed before the
// exchange so a replayed callback with the same state fails closed.
func (s *Service) CompleteAuthorization(ctx context.Context, code, state string) (CallbackResult, error) {
	if s == nil {
		return CallbackResult{}, fmt.Errorf("core: service is nil")
	}
	startedAt := s.now()

	result, err := s.completeAuthorization(ctx, code, state)
	s.observeOperation(ctx, startedAt, "authorization_complete", err, map[string]any{
		"subject_id": result.Credential.SubjectID,
	})
	if err != nil {
		return CallbackResult{}, s.mapError(err)
	}
	return result, nil
}

func (s *Service) completeAuthorization(ctx context.Context, code, state string) (CallbackResult, error) {
	if s.pendingAuthStore == nil || s.credentialStore == nil || s.userStore == nil {
		return CallbackResult{}, fmt.Errorf("core: authorization stores are not configured")
	}
	if s.tokenExchanger == nil || s.identityClient == nil {
		return CallbackResult{}, fmt.Errorf("core: oauth clients are not configured")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return CallbackResult{}, fmt.Errorf("core: authorization code is required")
	}

	pending, err := s.pendingAuthStore.Consume(ctx, state)
	if err != nil {
		return CallbackResult{}, err
	}
	if strings.TrimSpace(pending.CodeVerifier) == "" {
		return CallbackResult{}, ErrMissingVerifier
	}

	grant, err := s.tokenExchanger.Exchange(ctx, code, pending.CodeVerifier)
	if err != nil {
		return CallbackResult{}, err
	}

	identity, err := s.identityClient.WhoAmI(ctx, grant.AccessToken)
	if err != nil {
		return CallbackResult{}, err
	}

	now := s.now()
	email := strings.TrimSpace(identity.Email)
	if email == "" {
		// user.email:read may not be granted; fall back to a stable
		// synthetic address keyed by the external account.
		email = fmt.Sprintf("airtable_%s@airtable.local", identity.ID)
	}
	name := strings.TrimSpace(identity.Name)
	if name == "" {
		name = "Airtable User"
	}

	user, err := s.userStore.UpsertByAirtableID(ctx, User{
		Email:          email,
		AirtableUserID: identity.ID,
		Name:           name,
		LastLoginAt:    now,
	})
	if err != nil {
		return CallbackResult{}, err
	}

	credential, err := s.credentialStore.Upsert(ctx, Credential{
		SubjectID:    identity.ID,
		UserID:       user.ID,
		TokenType:    normalizeTokenType(grant.TokenType),
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    now.Add(grantTTL(grant)),
	})
	if err != nil {
		return CallbackResult{}, err
	}

	result := CallbackResult{User: user, Credential: credential}
	if s.sessionIssuer != nil {
		token, signErr := s.sessionIssuer.Issue(user.ID, user.Email, now)
		if signErr != nil {
			return CallbackResult{}, signErr
		}
		result.SessionToken = token
	}
	return result, nil
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

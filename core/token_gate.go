package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// refreshWindow is how close to expiry a token may get before it is
	// refreshed instead of handed out.
	refreshWindow = 5 * time.Minute

	defaultGrantTTL = time.Hour
)

// ValidAccessToken returns an access token for the subject that is good for
// at least the refresh window. Expiring tokens are refreshed under a
// per-subject lock so concurrent callers trigger at most one upstream
// refresh; waiters re-read the stored credential once the lock is theirs.
func (s *Service) ValidAccessToken(ctx context.Context, subjectID string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("core: service is nil")
	}
	startedAt := s.now()

	token, err := s.validAccessToken(ctx, subjectID)
	s.observeOperation(ctx, startedAt, "token_gate", err, map[string]any{
		"subject_id": subjectID,
	})
	if err != nil {
		return "", s.mapError(err)
	}
	return token, nil
}

func (s *Service) validAccessToken(ctx context.Context, subjectID string) (string, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", fmt.Errorf("core: subject id is required")
	}
	if s.credentialStore == nil {
		return "", fmt.Errorf("core: credential store is not configured")
	}

	credential, err := s.credentialStore.GetBySubject(ctx, subjectID)
	if err != nil {
		return "", err
	}
	if credentialIsFresh(credential, s.now()) {
		return credential.AccessToken, nil
	}

	if s.subjectLocker == nil {
		return s.refreshCredential(ctx, credential)
	}

	handle, err := s.subjectLocker.Acquire(ctx, subjectID, defaultSubjectLockTTL)
	if err != nil {
		return "", err
	}
	defer handle.Unlock(ctx)

	// Another caller may have refreshed while we waited on the lock.
	credential, err = s.credentialStore.GetBySubject(ctx, subjectID)
	if err != nil {
		return "", err
	}
	if credentialIsFresh(credential, s.now()) {
		return credential.AccessToken, nil
	}
	return s.refreshCredential(ctx, credential)
}

func (s *Service) refreshCredential(ctx context.Context, credential Credential) (string, error) {
	if s.tokenExchanger == nil {
		return "", fmt.Errorf("core: token exchanger is not configured")
	}
	if strings.TrimSpace(credential.RefreshToken) == "" {
		return "", &RefreshError{
			SubjectID: credential.SubjectID,
			Cause:     errors.New("credential has no refresh token"),
		}
	}

	grant, err := s.tokenExchanger.Refresh(ctx, credential.RefreshToken)
	if err != nil {
		s.enqueueRefreshRepair(ctx, credential.SubjectID)
		return "", &RefreshError{SubjectID: credential.SubjectID, Cause: err}
	}

	now := s.now()
	refreshToken := grant.RefreshToken
	if strings.TrimSpace(refreshToken) == "" {
		// Providers are allowed to omit a rotated refresh token; keep
		// the one we have.
		refreshToken = credential.RefreshToken
	}
	updated, err := s.credentialStore.UpdateTokens(ctx, credential.SubjectID, grant.AccessToken, refreshToken, now.Add(grantTTL(grant)))
	if err != nil {
		return "", err
	}
	s.logInfo(ctx, "credential refreshed", map[string]any{
		"subject_id": credential.SubjectID,
		"expires_at": updated.ExpiresAt,
	})
	return updated.AccessToken, nil
}

// enqueueRefreshRepair queues a background retry after a failed refresh.
// Enqueue failures only log: the caller already holds the RefreshError.
func (s *Service) enqueueRefreshRepair(ctx context.Context, subjectID string) {
	if s.jobEnqueuer == nil {
		return
	}
	msg := &JobExecutionMessage{
		JobID:          JobIDCredentialRefresh,
		Parameters:     map[string]any{"subject_id": subjectID},
		IdempotencyKey: JobIDCredentialRefresh + ":" + subjectID,
		DedupPolicy:    "drop",
	}
	if err := s.jobEnqueuer.Enqueue(ctx, msg); err != nil {
		s.logWarn(ctx, "refresh repair enqueue failed", map[string]any{
			"subject_id": subjectID,
			"error":      err.Error(),
		})
	}
}

func credentialIsFresh(credential Credential, now time.Time) bool {
	if strings.TrimSpace(credential.AccessToken) == "" {
		return false
	}
	if credential.ExpiresAt.IsZero() {
		return false
	}
	return credential.ExpiresAt.After(now.Add(refreshWindow))
}

func grantTTL(grant TokenGrant) time.Duration {
	if grant.ExpiresIn <= 0 {
		return defaultGrantTTL
	}
	return time.Duration(grant.ExpiresIn) * time.Second
}

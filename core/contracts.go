package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// CredentialStore owns the one-credential-per-subject invariant. Upsert
// replaces the stored credential wholesale; UpdateTokens is the refresh
// gate's narrower write.
type CredentialStore interface {
	Upsert(ctx context.Context, credential Credential) (Credential, error)
	GetBySubject(ctx context.Context, subjectID string) (Credential, error)
	GetByUser(ctx context.Context, userID string) (Credential, error)
	UpdateTokens(ctx context.Context, subjectID string, accessToken, refreshToken string, expiresAt time.Time) (Credential, error)
	Delete(ctx context.Context, subjectID string) error
}

// PendingAuthStore holds in-flight PKCE authorizations keyed by state.
// Consume is single-use: the entry is removed whether or not it is still
// within its TTL. Entries are never persisted durably.
type PendingAuthStore interface {
	Save(ctx context.Context, pending PendingAuthorization) error
	Consume(ctx context.Context, state string) (PendingAuthorization, error)
	PurgeExpired(ctx context.Context, now time.Time) int
}

type UserStore interface {
	UpsertByAirtableID(ctx context.Context, user User) (User, error)
	Get(ctx context.Context, id string) (User, error)
	GetByAirtableID(ctx context.Context, airtableUserID string) (User, error)
}

type FormStore interface {
	Get(ctx context.Context, id string) (FormDefinition, error)
	FindByTable(ctx context.Context, baseID, tableID string) (FormDefinition, error)
	ListByOwner(ctx context.Context, ownerID string) ([]FormDefinition, error)
	Save(ctx context.Context, form FormDefinition) (FormDefinition, error)
	Delete(ctx context.Context, id string) error
}

type ResponseStore interface {
	Create(ctx context.Context, response ResponseRecord) (ResponseRecord, error)
	Get(ctx context.Context, id string) (ResponseRecord, error)
	FindByAirtableRecord(ctx context.Context, recordID string) (ResponseRecord, error)
	ListByForm(ctx context.Context, formID string) ([]ResponseRecord, error)
	// SetAnswers overwrites answers with authoritative upstream values.
	SetAnswers(ctx context.Context, id string, answers map[string]any, updatedAt time.Time) error
	// MarkDeletedInAirtable is an update-if-exists: unknown record ids are
	// a silent no-op and the call is idempotent.
	MarkDeletedInAirtable(ctx context.Context, airtableRecordID string, deletedAt time.Time) error
}

// LockHandle releases a subject lock acquired from a SubjectLocker.
type LockHandle interface {
	Unlock(ctx context.Context) error
}

// SubjectLocker serializes credential refreshes per subject so concurrent
// callers cannot race a refresh and clobber each other's refresh token.
type SubjectLocker interface {
	Acquire(ctx context.Context, subjectID string, ttl time.Duration) (LockHandle, error)
}

// TokenExchanger is the OAuth token endpoint surface the service depends
// on. The airtable package provides the production implementation; tests
// substitute fakes.
type TokenExchanger interface {
	Exchange(ctx context.Context, code, codeVerifier string) (TokenGrant, error)
	Refresh(ctx context.Context, refreshToken string) (TokenGrant, error)
}

// TokenGrant is a token endpoint response normalized to absolute expiry.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

// IdentityClient resolves the external account owning an access token.
type IdentityClient interface {
	WhoAmI(ctx context.Context, accessToken string) (Identity, error)
}

type Identity struct {
	ID    string
	Email string
	Name  string
}

// RecordClient is the slice of the Airtable records API the reconciler and
// submission path use.
type RecordClient interface {
	GetRecord(ctx context.Context, accessToken, baseID, tableID, recordID string) (Record, error)
	CreateRecord(ctx context.Context, accessToken, baseID, tableID string, fields map[string]any) (Record, error)
}

type Record struct {
	ID     string
	Fields map[string]any
}

// SessionIssuer signs the application session token handed to the browser
// after a successful authorization.
type SessionIssuer interface {
	Issue(userID string, email string, now time.Time) (string, error)
}

// SignatureVerifier authenticates a raw webhook body against its header.
type SignatureVerifier interface {
	Verify(rawBody []byte, signatureHeader string) error
}

const (
	// JobIDCredentialRefresh retries a failed token refresh for one subject.
	JobIDCredentialRefresh = "formbridge.credential.refresh"
	// JobIDPendingAuthSweep purges expired pending authorizations.
	JobIDPendingAuthSweep = "formbridge.pendingauth.sweep"
)

// JobExecutionMessage is the queue contract for background repair work
// (credential refresh retries, pending-authorization sweeps).
type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

// SecretProvider encrypts OAuth tokens before they reach durable storage.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string)         {}
func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

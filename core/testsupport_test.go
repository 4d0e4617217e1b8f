package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeCredentialStore struct {
	mu          sync.Mutex
	bySubject   map[string]Credential
	upserts     int
	tokenWrites int
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{bySubject: map[string]Credential{}}
}

func (s *fakeCredentialStore) Upsert(_ context.Context, credential Credential) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	s.bySubject[credential.SubjectID] = credential
	return credential, nil
}

func (s *fakeCredentialStore) GetBySubject(_ context.Context, subjectID string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.bySubject[subjectID]
	if !ok {
		return Credential{}, ErrNoCredential
	}
	return credential, nil
}

func (s *fakeCredentialStore) GetByUser(_ context.Context, userID string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, credential := range s.bySubject {
		if credential.UserID == userID {
			return credential, nil
		}
	}
	return Credential{}, ErrNoCredential
}

func (s *fakeCredentialStore) UpdateTokens(_ context.Context, subjectID, accessToken, refreshToken string, expiresAt time.Time) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.bySubject[subjectID]
	if !ok {
		return Credential{}, ErrNoCredential
	}
	s.tokenWrites++
	credential.AccessToken = accessToken
	credential.RefreshToken = refreshToken
	credential.ExpiresAt = expiresAt
	s.bySubject[subjectID] = credential
	return credential, nil
}

func (s *fakeCredentialStore) Delete(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bySubject, subjectID)
	return nil
}

type fakeUserStore struct {
	mu    sync.Mutex
	byID  map[string]User
	seq   int
	byAid map[string]string
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byID: map[string]User{}, byAid: map[string]string{}}
}

func (s *fakeUserStore) UpsertByAirtableID(_ context.Context, user User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byAid[user.AirtableUserID]; ok {
		existing := s.byID[id]
		existing.Email = user.Email
		existing.Name = user.Name
		existing.LastLoginAt = user.LastLoginAt
		s.byID[id] = existing
		return existing, nil
	}
	s.seq++
	user.ID = fmt.Sprintf("user-%d", s.seq)
	s.byID[user.ID] = user
	s.byAid[user.AirtableUserID] = user.ID
	return user, nil
}

func (s *fakeUserStore) Get(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *fakeUserStore) GetByAirtableID(_ context.Context, airtableUserID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byAid[airtableUserID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return s.byID[id], nil
}

type fakeFormStore struct {
	mu   sync.Mutex
	byID map[string]FormDefinition
}

func newFakeFormStore(forms ...FormDefinition) *fakeFormStore {
	store := &fakeFormStore{byID: map[string]FormDefinition{}}
	for _, form := range forms {
		store.byID[form.ID] = form
	}
	return store
}

func (s *fakeFormStore) Get(_ context.Context, id string) (FormDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	form, ok := s.byID[id]
	if !ok {
		return FormDefinition{}, ErrFormNotFound
	}
	return form, nil
}

func (s *fakeFormStore) FindByTable(_ context.Context, baseID, tableID string) (FormDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, form := range s.byID {
		if form.AirtableBaseID == baseID && form.AirtableTableID == tableID {
			return form, nil
		}
	}
	return FormDefinition{}, ErrFormNotFound
}

func (s *fakeFormStore) ListByOwner(_ context.Context, ownerID string) ([]FormDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var forms []FormDefinition
	for _, form := range s.byID {
		if form.OwnerID == ownerID {
			forms = append(forms, form)
		}
	}
	return forms, nil
}

func (s *fakeFormStore) Save(_ context.Context, form FormDefinition) (FormDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if form.ID == "" {
		form.ID = fmt.Sprintf("form-%d", len(s.byID)+1)
	}
	s.byID[form.ID] = form
	return form, nil
}

func (s *fakeFormStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

type fakeResponseStore struct {
	mu   sync.Mutex
	byID map[string]ResponseRecord
	seq  int
}

func newFakeResponseStore(responses ...ResponseRecord) *fakeResponseStore {
	store := &fakeResponseStore{byID: map[string]ResponseRecord{}}
	for _, response := range responses {
		store.byID[response.ID] = response
	}
	return store
}

func (s *fakeResponseStore) Create(_ context.Context, response ResponseRecord) (ResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	response.ID = fmt.Sprintf("resp-%d", s.seq)
	s.byID[response.ID] = response
	return response, nil
}

func (s *fakeResponseStore) Get(_ context.Context, id string) (ResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	response, ok := s.byID[id]
	if !ok {
		return ResponseRecord{}, ErrResponseNotFound
	}
	return response, nil
}

func (s *fakeResponseStore) FindByAirtableRecord(_ context.Context, recordID string) (ResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, response := range s.byID {
		if response.AirtableRecordID == recordID {
			return response, nil
		}
	}
	return ResponseRecord{}, ErrResponseNotFound
}

func (s *fakeResponseStore) ListByForm(_ context.Context, formID string) ([]ResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var responses []ResponseRecord
	for _, response := range s.byID {
		if response.FormID == formID {
			responses = append(responses, response)
		}
	}
	return responses, nil
}

func (s *fakeResponseStore) SetAnswers(_ context.Context, id string, answers map[string]any, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	response, ok := s.byID[id]
	if !ok {
		return ErrResponseNotFound
	}
	response.Answers = answers
	response.UpdatedAt = updatedAt
	s.byID[id] = response
	return nil
}

func (s *fakeResponseStore) MarkDeletedInAirtable(_ context.Context, airtableRecordID string, deletedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, response := range s.byID {
		if response.AirtableRecordID == airtableRecordID {
			response.MarkDeletedInAirtable(deletedAt)
			s.byID[id] = response
		}
	}
	return nil
}

type fakeTokenExchanger struct {
	mu           sync.Mutex
	exchangeFn   func(code, verifier string) (TokenGrant, error)
	refreshFn    func(refreshToken string) (TokenGrant, error)
	exchanges    int
	refreshes    int
	refreshDelay time.Duration
}

func (e *fakeTokenExchanger) Exchange(_ context.Context, code, verifier string) (TokenGrant, error) {
	e.mu.Lock()
	e.exchanges++
	fn := e.exchangeFn
	e.mu.Unlock()
	if fn == nil {
		return TokenGrant{AccessToken: "access-" + code, RefreshToken: "refresh-" + code, TokenType: "Bearer", ExpiresIn: 3600}, nil
	}
	return fn(code, verifier)
}

func (e *fakeTokenExchanger) Refresh(_ context.Context, refreshToken string) (TokenGrant, error) {
	e.mu.Lock()
	e.refreshes++
	fn := e.refreshFn
	delay := e.refreshDelay
	e.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fn == nil {
		return TokenGrant{AccessToken: "refreshed-access", RefreshToken: "rotated-" + refreshToken, TokenType: "Bearer", ExpiresIn: 3600}, nil
	}
	return fn(refreshToken)
}

func (e *fakeTokenExchanger) refreshCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshes
}

type fakeIdentityClient struct {
	identity Identity
	err      error
}

func (c *fakeIdentityClient) WhoAmI(context.Context, string) (Identity, error) {
	if c.err != nil {
		return Identity{}, c.err
	}
	return c.identity, nil
}

type fakeRecordClient struct {
	mu        sync.Mutex
	records   map[string]Record
	createErr error
	getErr    error
	creates   int
	seq       int
}

func newFakeRecordClient() *fakeRecordClient {
	return &fakeRecordClient{records: map[string]Record{}}
}

func (c *fakeRecordClient) GetRecord(_ context.Context, _, _, _, recordID string) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return Record{}, c.getErr
	}
	record, ok := c.records[recordID]
	if !ok {
		return Record{}, fmt.Errorf("record %s not found", recordID)
	}
	return record, nil
}

func (c *fakeRecordClient) CreateRecord(_ context.Context, _, _, _ string, fields map[string]any) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return Record{}, c.createErr
	}
	c.creates++
	c.seq++
	record := Record{ID: fmt.Sprintf("rec-%d", c.seq), Fields: fields}
	c.records[record.ID] = record
	return record, nil
}

type fakeSessionIssuer struct{}

func (fakeSessionIssuer) Issue(userID string, _ string, _ time.Time) (string, error) {
	return "session-" + userID, nil
}

type fakeVerifier struct {
	err error
}

func (v fakeVerifier) Verify([]byte, string) error {
	return v.err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serviceFixture struct {
	service     *Service
	clock       *testClock
	credentials *fakeCredentialStore
	users       *fakeUserStore
	forms       *fakeFormStore
	responses   *fakeResponseStore
	exchanger   *fakeTokenExchanger
	identity    *fakeIdentityClient
	records     *fakeRecordClient
}

func newServiceFixture(t *testing.T, cfg Config, options ...Option) *serviceFixture {
	t.Helper()

	fixture := &serviceFixture{
		clock:       newTestClock(),
		credentials: newFakeCredentialStore(),
		users:       newFakeUserStore(),
		forms:       newFakeFormStore(),
		responses:   newFakeResponseStore(),
		exchanger:   &fakeTokenExchanger{},
		identity:    &fakeIdentityClient{identity: Identity{ID: "usr-airtable", Email: "person@example.com", Name: "Test Person"}},
		records:     newFakeRecordClient(),
	}

	if strings.TrimSpace(cfg.OAuth.ClientID) == "" {
		cfg.OAuth.ClientID = "client-123"
	}
	if strings.TrimSpace(cfg.OAuth.RedirectURI) == "" {
		cfg.OAuth.RedirectURI = "https://app.example.com/auth/airtable/callback"
	}

	base := []Option{
		WithClock(fixture.clock.Now),
		WithCredentialStore(fixture.credentials),
		WithUserStore(fixture.users),
		WithFormStore(fixture.forms),
		WithResponseStore(fixture.responses),
		WithTokenExchanger(fixture.exchanger),
		WithIdentityClient(fixture.identity),
		WithRecordClient(fixture.records),
		WithSessionIssuer(fakeSessionIssuer{}),
	}

	service, err := NewService(cfg, append(base, options...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if store, ok := service.pendingAuthStore.(*MemoryPendingAuthStore); ok {
		store.nowFn = fixture.clock.Now
	}
	fixture.service = service
	return fixture
}

package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/formbridge/formbridge/core"
	fbmigrations "github.com/formbridge/formbridge/migrations"
	"github.com/formbridge/formbridge/rules"
	"github.com/formbridge/formbridge/security"
	sqlstore "github.com/formbridge/formbridge/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "formbridge-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"users", "credentials", "forms", "responses"} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if tableName != table {
			t.Fatalf("expected table %q after migrate, got %q", table, tableName)
		}
	}
}

func TestUserStoreUpsertByAirtableID(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	users := factory.UserStore()

	first, err := users.UpsertByAirtableID(ctx, core.User{
		Email:          "ada@example.com",
		AirtableUserID: "usrABC",
		Name:           "Ada",
		LastLoginAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.ID == "" {
		t.Fatalf("expected generated user id")
	}

	second, err := users.UpsertByAirtableID(ctx, core.User{
		Email:          "ada+new@example.com",
		AirtableUserID: "usrABC",
		Name:           "Ada L.",
		LastLoginAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected upsert to reuse user id %q, got %q", first.ID, second.ID)
	}
	if second.Email != "ada+new@example.com" {
		t.Fatalf("expected updated email, got %q", second.Email)
	}

	byAirtable, err := users.GetByAirtableID(ctx, "usrABC")
	if err != nil {
		t.Fatalf("get by airtable id: %v", err)
	}
	if byAirtable.Name != "Ada L." {
		t.Fatalf("expected updated name, got %q", byAirtable.Name)
	}

	if _, err := users.Get(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCredentialStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	owner := mustUpsertUser(t, factory, "usrOwner", "owner@example.com")
	credentials := factory.CredentialStore()

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	saved, err := credentials.Upsert(ctx, core.Credential{
		SubjectID:    "usrOwner",
		UserID:       owner.ID,
		TokenType:    "Bearer",
		AccessToken:  "access-secret-1",
		RefreshToken: "refresh-secret-1",
		ExpiresAt:    expires,
	})
	if err != nil {
		t.Fatalf("upsert credential: %v", err)
	}
	if saved.TokenType != "bearer" {
		t.Fatalf("expected normalized token type, got %q", saved.TokenType)
	}

	loaded, err := credentials.GetBySubject(ctx, "usrOwner")
	if err != nil {
		t.Fatalf("get by subject: %v", err)
	}
	if loaded.AccessToken != "access-secret-1" || loaded.RefreshToken != "refresh-secret-1" {
		t.Fatalf("round trip tokens mismatch: %#v", loaded)
	}
	if !loaded.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry %v, got %v", expires, loaded.ExpiresAt)
	}

	byUser, err := credentials.GetByUser(ctx, owner.ID)
	if err != nil {
		t.Fatalf("get by user: %v", err)
	}
	if byUser.SubjectID != "usrOwner" {
		t.Fatalf("expected subject usrOwner, got %q", byUser.SubjectID)
	}

	// Tokens never reach the database in the clear.
	var payload []byte
	if err := factory.DB().NewRaw(
		"SELECT encrypted_payload FROM credentials WHERE subject_id = ?",
		"usrOwner",
	).Scan(ctx, &payload); err != nil {
		t.Fatalf("read raw payload: %v", err)
	}
	raw := string(payload)
	if strings.Contains(raw, "access-secret-1") || strings.Contains(raw, "refresh-secret-1") {
		t.Fatalf("plaintext token leaked into stored payload")
	}

	nextExpires := expires.Add(time.Hour)
	rotated, err := credentials.UpdateTokens(ctx, "usrOwner", "access-secret-2", "refresh-secret-2", nextExpires)
	if err != nil {
		t.Fatalf("update tokens: %v", err)
	}
	if rotated.AccessToken != "access-secret-2" || rotated.RefreshToken != "refresh-secret-2" {
		t.Fatalf("rotated tokens mismatch: %#v", rotated)
	}

	reloaded, err := credentials.GetBySubject(ctx, "usrOwner")
	if err != nil {
		t.Fatalf("reload after rotation: %v", err)
	}
	if reloaded.AccessToken != "access-secret-2" {
		t.Fatalf("expected rotated access token, got %q", reloaded.AccessToken)
	}
	if !reloaded.ExpiresAt.Equal(nextExpires) {
		t.Fatalf("expected expiry %v, got %v", nextExpires, reloaded.ExpiresAt)
	}

	if _, err := credentials.UpdateTokens(ctx, "usrUnknown", "a", "r", nextExpires); !errors.Is(err, core.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential for unknown subject, got %v", err)
	}

	if err := credentials.Delete(ctx, "usrOwner"); err != nil {
		t.Fatalf("delete credential: %v", err)
	}
	if _, err := credentials.GetBySubject(ctx, "usrOwner"); !errors.Is(err, core.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential after delete, got %v", err)
	}
	// Delete stays idempotent.
	if err := credentials.Delete(ctx, "usrOwner"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestCredentialStoreUpsertReplacesExisting(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	owner := mustUpsertUser(t, factory, "usrRepeat", "repeat@example.com")
	credentials := factory.CredentialStore()

	for i := 1; i <= 2; i++ {
		if _, err := credentials.Upsert(ctx, core.Credential{
			SubjectID:   "usrRepeat",
			UserID:      owner.ID,
			AccessToken: fmt.Sprintf("access-%d", i),
			ExpiresAt:   time.Now().Add(time.Hour).UTC(),
		}); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	var count int
	if err := factory.DB().NewRaw(
		"SELECT COUNT(*) FROM credentials WHERE subject_id = ?",
		"usrRepeat",
	).Scan(ctx, &count); err != nil {
		t.Fatalf("count credentials: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single credential row per subject, got %d", count)
	}

	loaded, err := credentials.GetBySubject(ctx, "usrRepeat")
	if err != nil {
		t.Fatalf("get by subject: %v", err)
	}
	if loaded.AccessToken != "access-2" {
		t.Fatalf("expected latest token, got %q", loaded.AccessToken)
	}
}

func TestFormStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	owner := mustUpsertUser(t, factory, "usrForms", "forms@example.com")
	forms := factory.FormStore()

	form := core.FormDefinition{
		OwnerID:         owner.ID,
		AirtableBaseID:  "appBase",
		AirtableTableID: "tblTable",
		BaseName:        "HR",
		TableName:       "Onboarding",
		Name:            "Onboarding Form",
		Published:       true,
		Questions: []core.QuestionSpec{
			{
				QuestionKey: "role",
				FieldID:     "fldRole",
				Label:       "Role",
				Type:        core.QuestionTypeSingleSelect,
				Required:    true,
				SelectOptions: []string{
					"Engineer",
					"Designer",
				},
			},
			{
				QuestionKey: "team",
				FieldID:     "fldTeam",
				Label:       "Team",
				Type:        core.QuestionTypeSingleLineText,
				Rules: &rules.RuleSet{
					Logic: rules.LogicAnd,
					Conditions: []rules.Condition{
						{QuestionKey: "role", Operator: rules.OperatorEquals, Value: "Engineer"},
					},
				},
			},
		},
	}

	saved, err := forms.Save(ctx, form)
	if err != nil {
		t.Fatalf("save form: %v", err)
	}
	if saved.ID == "" {
		t.Fatalf("expected generated form id")
	}

	loaded, err := forms.Get(ctx, saved.ID)
	if err != nil {
		t.Fatalf("get form: %v", err)
	}
	if len(loaded.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(loaded.Questions))
	}
	team, ok := loaded.Question("team")
	if !ok {
		t.Fatalf("expected question team to survive round trip")
	}
	if team.Rules == nil || len(team.Rules.Conditions) != 1 {
		t.Fatalf("expected rules to survive round trip: %#v", team.Rules)
	}
	if team.Rules.Conditions[0].Value != "Engineer" {
		t.Fatalf("unexpected rule value %q", team.Rules.Conditions[0].Value)
	}

	byTable, err := forms.FindByTable(ctx, "appBase", "tblTable")
	if err != nil {
		t.Fatalf("find by table: %v", err)
	}
	if byTable.ID != saved.ID {
		t.Fatalf("expected table lookup to return %q, got %q", saved.ID, byTable.ID)
	}

	listed, err := forms.ListByOwner(ctx, owner.ID)
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 form for owner, got %d", len(listed))
	}

	saved.Name = "Onboarding Form v2"
	updated, err := forms.Save(ctx, saved)
	if err != nil {
		t.Fatalf("update form: %v", err)
	}
	if updated.Name != "Onboarding Form v2" {
		t.Fatalf("expected updated name, got %q", updated.Name)
	}

	if err := forms.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("delete form: %v", err)
	}
	if _, err := forms.Get(ctx, saved.ID); !errors.Is(err, core.ErrFormNotFound) {
		t.Fatalf("expected ErrFormNotFound after delete, got %v", err)
	}
	if err := forms.Delete(ctx, saved.ID); !errors.Is(err, core.ErrFormNotFound) {
		t.Fatalf("expected ErrFormNotFound on repeat delete, got %v", err)
	}
}

func TestResponseStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	owner := mustUpsertUser(t, factory, "usrResp", "resp@example.com")
	form := mustSaveForm(t, factory, owner.ID, "appResp", "tblResp")
	responses := factory.ResponseStore()

	created, err := responses.Create(ctx, core.ResponseRecord{
		FormID:           form.ID,
		AirtableRecordID: "recOne",
		Answers:          map[string]any{"role": "Engineer"},
		SubmittedBy:      owner.ID,
	})
	if err != nil {
		t.Fatalf("create response: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated response id")
	}
	if created.Status != core.ResponseStatusSubmitted {
		t.Fatalf("expected default status submitted, got %q", created.Status)
	}

	loaded, err := responses.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get response: %v", err)
	}
	if loaded.Answers["role"] != "Engineer" {
		t.Fatalf("answers did not round trip: %#v", loaded.Answers)
	}

	byRecord, err := responses.FindByAirtableRecord(ctx, "recOne")
	if err != nil {
		t.Fatalf("find by airtable record: %v", err)
	}
	if byRecord.ID != created.ID {
		t.Fatalf("expected response %q, got %q", created.ID, byRecord.ID)
	}
	if _, err := responses.FindByAirtableRecord(ctx, ""); !errors.Is(err, core.ErrResponseNotFound) {
		t.Fatalf("expected ErrResponseNotFound for blank record id, got %v", err)
	}

	updatedAt := time.Now().UTC()
	if err := responses.SetAnswers(ctx, created.ID, map[string]any{
		"role": "Designer",
		"team": "Brand",
	}, updatedAt); err != nil {
		t.Fatalf("set answers: %v", err)
	}
	overwritten, err := responses.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get after set answers: %v", err)
	}
	if overwritten.Answers["role"] != "Designer" || overwritten.Answers["team"] != "Brand" {
		t.Fatalf("expected overwritten answers, got %#v", overwritten.Answers)
	}
	if err := responses.SetAnswers(ctx, "missing-response", map[string]any{}, updatedAt); !errors.Is(err, core.ErrResponseNotFound) {
		t.Fatalf("expected ErrResponseNotFound for unknown id, got %v", err)
	}

	listed, err := responses.ListByForm(ctx, form.ID)
	if err != nil {
		t.Fatalf("list by form: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 response, got %d", len(listed))
	}

	deletedAt := time.Now().UTC()
	if err := responses.MarkDeletedInAirtable(ctx, "recOne", deletedAt); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}
	// Redelivered and unknown record ids are silent no-ops.
	if err := responses.MarkDeletedInAirtable(ctx, "recOne", deletedAt); err != nil {
		t.Fatalf("repeat mark deleted: %v", err)
	}
	if err := responses.MarkDeletedInAirtable(ctx, "recUnknown", deletedAt); err != nil {
		t.Fatalf("unknown record mark deleted: %v", err)
	}

	tombstoned, err := responses.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get tombstoned response: %v", err)
	}
	if tombstoned.Status != core.ResponseStatusDeleted || !tombstoned.DeletedInAirtable {
		t.Fatalf("expected deleted tombstone, got %#v", tombstoned)
	}
}

func newFactory(t *testing.T) (*sqlstore.RepositoryFactory, func()) {
	t.Helper()

	client, cleanup := newSQLiteClient(t)

	secrets, err := security.NewAppKeySecretProviderFromString("formbridge-test-app-key")
	if err != nil {
		cleanup()
		t.Fatalf("new secret provider: %v", err)
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, secrets)
	if err != nil {
		cleanup()
		t.Fatalf("new repository factory: %v", err)
	}
	return factory, cleanup
}

func mustUpsertUser(t *testing.T, factory *sqlstore.RepositoryFactory, airtableUserID, email string) core.User {
	t.Helper()
	user, err := factory.UserStore().UpsertByAirtableID(context.Background(), core.User{
		Email:          email,
		AirtableUserID: airtableUserID,
		Name:           "Test User",
		LastLoginAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("upsert user %s: %v", airtableUserID, err)
	}
	return user
}

func mustSaveForm(t *testing.T, factory *sqlstore.RepositoryFactory, ownerID, baseID, tableID string) core.FormDefinition {
	t.Helper()
	form, err := factory.FormStore().Save(context.Background(), core.FormDefinition{
		OwnerID:         ownerID,
		AirtableBaseID:  baseID,
		AirtableTableID: tableID,
		Name:            "Test Form",
		Questions: []core.QuestionSpec{
			{QuestionKey: "role", FieldID: "fldRole", Label: "Role", Type: core.QuestionTypeSingleSelect},
		},
	})
	if err != nil {
		t.Fatalf("save form: %v", err)
	}
	return form
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:formbridge-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = fbmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != fbmigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, fbmigrations.WithValidationTargets(fbmigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/formbridge/formbridge/core"
)

// CredentialStore persists one Airtable OAuth credential per subject. Token
// material never touches the database in the clear: access and refresh
// tokens are sealed into a single envelope by the secret provider.
type CredentialStore struct {
	db      *bun.DB
	repo    repository.Repository[*credentialRecord]
	secrets core.SecretProvider
}

func (s *CredentialStore) Upsert(ctx context.Context, credential core.Credential) (core.Credential, error) {
	if s == nil || s.db == nil || s.secrets == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	if err := credential.Validate(); err != nil {
		return core.Credential{}, err
	}
	subjectID := strings.TrimSpace(credential.SubjectID)
	now := time.Now().UTC()

	sealed, err := s.sealTokens(ctx, credential.AccessToken, credential.RefreshToken)
	if err != nil {
		return core.Credential{}, err
	}

	var stored *credentialRecord
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, findErr := findCredentialBySubjectTx(ctx, tx, subjectID)
		if findErr != nil {
			return findErr
		}
		if existing == nil {
			record := &credentialRecord{
				ID:               uuid.NewString(),
				SubjectID:        subjectID,
				UserID:           strings.TrimSpace(credential.UserID),
				TokenType:        normalizedTokenType(credential.TokenType),
				EncryptedPayload: sealed,
				PayloadFormat:    "json",
				ExpiresAt:        credential.ExpiresAt.UTC(),
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			inserted, insertErr := s.repo.CreateTx(ctx, tx, record)
			if insertErr != nil {
				return insertErr
			}
			stored = inserted
			return nil
		}

		existing.UserID = strings.TrimSpace(credential.UserID)
		existing.TokenType = normalizedTokenType(credential.TokenType)
		existing.EncryptedPayload = sealed
		existing.PayloadFormat = "json"
		existing.ExpiresAt = credential.ExpiresAt.UTC()
		existing.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().
			Model(existing).
			WherePK().
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		stored = existing
		return nil
	})
	if err != nil {
		return core.Credential{}, err
	}
	return s.toDomain(ctx, stored)
}

func (s *CredentialStore) GetBySubject(ctx context.Context, subjectID string) (core.Credential, error) {
	if s == nil || s.db == nil || s.secrets == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	record := &credentialRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.subject_id = ?", strings.TrimSpace(subjectID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Credential{}, core.ErrNoCredential
		}
		return core.Credential{}, err
	}
	return s.toDomain(ctx, record)
}

func (s *CredentialStore) GetByUser(ctx context.Context, userID string) (core.Credential, error) {
	if s == nil || s.db == nil || s.secrets == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	record := &credentialRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", strings.TrimSpace(userID)).
		OrderExpr("?TableAlias.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Credential{}, core.ErrNoCredential
		}
		return core.Credential{}, err
	}
	return s.toDomain(ctx, record)
}

func (s *CredentialStore) UpdateTokens(
	ctx context.Context,
	subjectID string,
	accessToken string,
	refreshToken string,
	expiresAt time.Time,
) (core.Credential, error) {
	if s == nil || s.db == nil || s.secrets == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return core.Credential{}, fmt.Errorf("sqlstore: subject id is required")
	}
	if strings.TrimSpace(accessToken) == "" {
		return core.Credential{}, fmt.Errorf("sqlstore: access token is required")
	}

	sealed, err := s.sealTokens(ctx, accessToken, refreshToken)
	if err != nil {
		return core.Credential{}, err
	}
	now := time.Now().UTC()

	var stored *credentialRecord
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, findErr := findCredentialBySubjectTx(ctx, tx, subjectID)
		if findErr != nil {
			return findErr
		}
		if existing == nil {
			return core.ErrNoCredential
		}
		existing.EncryptedPayload = sealed
		existing.ExpiresAt = expiresAt.UTC()
		existing.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().
			Model(existing).
			WherePK().
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		stored = existing
		return nil
	})
	if err != nil {
		return core.Credential{}, err
	}
	return s.toDomain(ctx, stored)
}

func (s *CredentialStore) Delete(ctx context.Context, subjectID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*credentialRecord)(nil)).
		Where("subject_id = ?", strings.TrimSpace(subjectID)).
		Exec(ctx)
	return err
}

func (s *CredentialStore) sealTokens(ctx context.Context, accessToken, refreshToken string) ([]byte, error) {
	payload, err := json.Marshal(tokenPayload{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode token payload: %w", err)
	}
	sealed, err := s.secrets.Encrypt(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: seal token payload: %w", err)
	}
	return sealed, nil
}

func (s *CredentialStore) toDomain(ctx context.Context, record *credentialRecord) (core.Credential, error) {
	if record == nil {
		return core.Credential{}, core.ErrNoCredential
	}
	opened, err := s.secrets.Decrypt(ctx, record.EncryptedPayload)
	if err != nil {
		return core.Credential{}, fmt.Errorf("sqlstore: open token payload: %w", err)
	}
	var payload tokenPayload
	if err := json.Unmarshal(opened, &payload); err != nil {
		return core.Credential{}, fmt.Errorf("sqlstore: decode token payload: %w", err)
	}
	return core.Credential{
		SubjectID:    record.SubjectID,
		UserID:       record.UserID,
		TokenType:    record.TokenType,
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    record.ExpiresAt,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}, nil
}

func findCredentialBySubjectTx(ctx context.Context, tx bun.Tx, subjectID string) (*credentialRecord, error) {
	record := &credentialRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.subject_id = ?", subjectID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func normalizedTokenType(tokenType string) string {
	trimmed := strings.ToLower(strings.TrimSpace(tokenType))
	if trimmed == "" {
		return "bearer"
	}
	return trimmed
}

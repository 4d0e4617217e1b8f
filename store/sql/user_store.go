package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/formbridge/formbridge/core"
)

type UserStore struct {
	db   *bun.DB
	repo repository.Repository[*userRecord]
}

// UpsertByAirtableID creates or refreshes the local account bound to an
// Airtable identity. The Airtable user id is the natural key: repeated
// logins update the row in place.
func (s *UserStore) UpsertByAirtableID(ctx context.Context, user core.User) (core.User, error) {
	if s == nil || s.db == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	airtableUserID := strings.TrimSpace(user.AirtableUserID)
	if airtableUserID == "" {
		return core.User{}, fmt.Errorf("sqlstore: airtable user id is required")
	}
	now := time.Now().UTC()

	var stored *userRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &userRecord{}
		findErr := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.airtable_user_id = ?", airtableUserID).
			Limit(1).
			Scan(ctx)
		if findErr != nil && !errors.Is(findErr, sql.ErrNoRows) {
			return findErr
		}

		if errors.Is(findErr, sql.ErrNoRows) {
			record := newUserRecord(user, now)
			record.AirtableUserID = airtableUserID
			if strings.TrimSpace(record.ID) == "" {
				record.ID = uuid.NewString()
			}
			inserted, insertErr := s.repo.CreateTx(ctx, tx, record)
			if insertErr != nil {
				return insertErr
			}
			stored = inserted
			return nil
		}

		existing.Email = user.Email
		existing.Name = user.Name
		existing.UpdatedAt = now
		if !user.LastLoginAt.IsZero() {
			lastLogin := user.LastLoginAt.UTC()
			existing.LastLoginAt = &lastLogin
		}
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
		return core.User{}, err
	}
	return stored.toDomain(), nil
}

func (s *UserStore) Get(ctx context.Context, id string) (core.User, error) {
	if s == nil || s.db == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	record := &userRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.User{}, core.ErrUserNotFound
		}
		return core.User{}, err
	}
	return record.toDomain(), nil
}

func (s *UserStore) GetByAirtableID(ctx context.Context, airtableUserID string) (core.User, error) {
	if s == nil || s.db == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	record := &userRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.airtable_user_id = ?", strings.TrimSpace(airtableUserID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.User{}, core.ErrUserNotFound
		}
		return core.User{}, err
	}
	return record.toDomain(), nil
}

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

type FormStore struct {
	db   *bun.DB
	repo repository.Repository[*formRecord]
}

func (s *FormStore) Get(ctx context.Context, id string) (core.FormDefinition, error) {
	if s == nil || s.db == nil {
		return core.FormDefinition{}, fmt.Errorf("sqlstore: form store is not configured")
	}
	record := &formRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.FormDefinition{}, core.ErrFormNotFound
		}
		return core.FormDefinition{}, err
	}
	return record.toDomain(), nil
}

// FindByTable resolves the form bound to an Airtable table. Webhook
// reconciliation depends on this lookup, so a missing binding maps to
// ErrFormNotFound rather than a raw sql error.
func (s *FormStore) FindByTable(ctx context.Context, baseID, tableID string) (core.FormDefinition, error) {
	if s == nil || s.db == nil {
		return core.FormDefinition{}, fmt.Errorf("sqlstore: form store is not configured")
	}
	record := &formRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.airtable_base_id = ?", strings.TrimSpace(baseID)).
		Where("?TableAlias.airtable_table_id = ?", strings.TrimSpace(tableID)).
		OrderExpr("?TableAlias.created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.FormDefinition{}, core.ErrFormNotFound
		}
		return core.FormDefinition{}, err
	}
	return record.toDomain(), nil
}

func (s *FormStore) ListByOwner(ctx context.Context, ownerID string) ([]core.FormDefinition, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: form store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("owner_id", "=", strings.TrimSpace(ownerID)),
		repository.OrderBy("created_at DESC"),
	)
	if err != nil {
		return nil, err
	}
	forms := make([]core.FormDefinition, 0, len(records))
	for _, record := range records {
		forms = append(forms, record.toDomain())
	}
	return forms, nil
}

func (s *FormStore) Save(ctx context.Context, form core.FormDefinition) (core.FormDefinition, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.FormDefinition{}, fmt.Errorf("sqlstore: form store is not configured")
	}
	if strings.TrimSpace(form.Name) == "" {
		return core.FormDefinition{}, fmt.Errorf("sqlstore: form name is required")
	}
	if strings.TrimSpace(form.AirtableBaseID) == "" || strings.TrimSpace(form.AirtableTableID) == "" {
		return core.FormDefinition{}, fmt.Errorf("sqlstore: form table binding is required")
	}
	now := time.Now().UTC()

	var stored *formRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if strings.TrimSpace(form.ID) == "" {
			record := newFormRecord(form, now)
			record.ID = uuid.NewString()
			inserted, insertErr := s.repo.CreateTx(ctx, tx, record)
			if insertErr != nil {
				return insertErr
			}
			stored = inserted
			return nil
		}

		existing := &formRecord{}
		findErr := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.id = ?", strings.TrimSpace(form.ID)).
			Limit(1).
			Scan(ctx)
		if findErr != nil {
			if errors.Is(findErr, sql.ErrNoRows) {
				return core.ErrFormNotFound
			}
			return findErr
		}

		existing.OwnerID = form.OwnerID
		existing.AirtableBaseID = form.AirtableBaseID
		existing.AirtableTableID = form.AirtableTableID
		existing.BaseName = form.BaseName
		existing.TableName = form.TableName
		existing.Name = form.Name
		existing.Description = form.Description
		existing.Published = form.Published
		existing.Questions = newQuestionPayloads(form.Questions)
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
		return core.FormDefinition{}, err
	}
	return stored.toDomain(), nil
}

func (s *FormStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: form store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*formRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrFormNotFound
	}
	return nil
}

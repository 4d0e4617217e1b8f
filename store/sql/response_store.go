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

type ResponseStore struct {
	db   *bun.DB
	repo repository.Repository[*responseRecord]
}

func (s *ResponseStore) Create(ctx context.Context, response core.ResponseRecord) (core.ResponseRecord, error) {
	if s == nil || s.repo == nil {
		return core.ResponseRecord{}, fmt.Errorf("sqlstore: response store is not configured")
	}
	if strings.TrimSpace(response.FormID) == "" {
		return core.ResponseRecord{}, fmt.Errorf("sqlstore: form id is required")
	}
	if strings.TrimSpace(string(response.Status)) == "" {
		response.Status = core.ResponseStatusSubmitted
	}
	now := time.Now().UTC()

	record := newResponseRecord(response, now)
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.ResponseRecord{}, err
	}
	return created.toDomain(), nil
}

func (s *ResponseStore) Get(ctx context.Context, id string) (core.ResponseRecord, error) {
	if s == nil || s.db == nil {
		return core.ResponseRecord{}, fmt.Errorf("sqlstore: response store is not configured")
	}
	record := &responseRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ResponseRecord{}, core.ErrResponseNotFound
		}
		return core.ResponseRecord{}, err
	}
	return record.toDomain(), nil
}

func (s *ResponseStore) FindByAirtableRecord(ctx context.Context, recordID string) (core.ResponseRecord, error) {
	if s == nil || s.db == nil {
		return core.ResponseRecord{}, fmt.Errorf("sqlstore: response store is not configured")
	}
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return core.ResponseRecord{}, core.ErrResponseNotFound
	}
	record := &responseRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.airtable_record_id = ?", recordID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ResponseRecord{}, core.ErrResponseNotFound
		}
		return core.ResponseRecord{}, err
	}
	return record.toDomain(), nil
}

func (s *ResponseStore) ListByForm(ctx context.Context, formID string) ([]core.ResponseRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: response store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("form_id", "=", strings.TrimSpace(formID)),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	responses := make([]core.ResponseRecord, 0, len(records))
	for _, record := range records {
		responses = append(responses, record.toDomain())
	}
	return responses, nil
}

// SetAnswers overwrites the stored answers with the authoritative upstream
// values. The write is absolute; webhook redeliveries converge.
func (s *ResponseStore) SetAnswers(ctx context.Context, id string, answers map[string]any, updatedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: response store is not configured")
	}
	encoded, err := json.Marshal(copyAnswers(answers))
	if err != nil {
		return fmt.Errorf("sqlstore: encode answers: %w", err)
	}
	result, err := s.db.NewUpdate().
		Model((*responseRecord)(nil)).
		Set("answers = ?", string(encoded)).
		Set("updated_at = ?", updatedAt.UTC()).
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
		return core.ErrResponseNotFound
	}
	return nil
}

// MarkDeletedInAirtable is an update-if-exists: record ids with no local
// response are a silent no-op so webhook redeliveries stay idempotent.
func (s *ResponseStore) MarkDeletedInAirtable(ctx context.Context, airtableRecordID string, deletedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: response store is not configured")
	}
	airtableRecordID = strings.TrimSpace(airtableRecordID)
	if airtableRecordID == "" {
		return nil
	}
	_, err := s.db.NewUpdate().
		Model((*responseRecord)(nil)).
		Set("status = ?", string(core.ResponseStatusDeleted)).
		Set("deleted_in_airtable = ?", true).
		Set("updated_at = ?", deletedAt.UTC()).
		Where("airtable_record_id = ?", airtableRecordID).
		Exec(ctx)
	return err
}

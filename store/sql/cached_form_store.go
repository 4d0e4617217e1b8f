package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/formbridge/formbridge/core"
)

const formCacheKeyPrefix = "formbridge::form::v1"

// CachedFormStore fronts a FormStore with a read-through cache. Form
// definitions are read on every submission and every webhook delivery but
// change rarely, so both hot lookups are cached and invalidated on write.
type CachedFormStore struct {
	base  core.FormStore
	cache repositorycache.CacheService
}

func NewCachedFormStore(base core.FormStore, cacheService repositorycache.CacheService) (*CachedFormStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base form store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: form cache service is required")
	}
	return &CachedFormStore{base: base, cache: cacheService}, nil
}

// FormCacheKey is the deterministic cache key for by-id form reads:
// formbridge::form::v1::id::<form_id> with the id URL-path escaped.
func FormCacheKey(id string) string {
	return strings.Join([]string{formCacheKeyPrefix, "id", url.PathEscape(strings.TrimSpace(id))}, "::")
}

// FormTableCacheKey is the deterministic cache key for table-binding reads:
// formbridge::form::v1::table::<base_id>::<table_id>.
func FormTableCacheKey(baseID, tableID string) string {
	return strings.Join([]string{
		formCacheKeyPrefix,
		"table",
		url.PathEscape(strings.TrimSpace(baseID)),
		url.PathEscape(strings.TrimSpace(tableID)),
	}, "::")
}

func (s *CachedFormStore) Get(ctx context.Context, id string) (core.FormDefinition, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.FormDefinition{}, fmt.Errorf("sqlstore: cached form store is not configured")
	}
	return repositorycache.GetOrFetch(ctx, s.cache, FormCacheKey(id), func(ctx context.Context) (core.FormDefinition, error) {
		return s.base.Get(ctx, id)
	})
}

func (s *CachedFormStore) FindByTable(ctx context.Context, baseID, tableID string) (core.FormDefinition, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.FormDefinition{}, fmt.Errorf("sqlstore: cached form store is not configured")
	}
	key := FormTableCacheKey(baseID, tableID)
	return repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (core.FormDefinition, error) {
		return s.base.FindByTable(ctx, baseID, tableID)
	})
}

// ListByOwner always hits the base store. Owner listings are a dashboard
// concern and must reflect deletes immediately.
func (s *CachedFormStore) ListByOwner(ctx context.Context, ownerID string) ([]core.FormDefinition, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached form store is not configured")
	}
	return s.base.ListByOwner(ctx, ownerID)
}

func (s *CachedFormStore) Save(ctx context.Context, form core.FormDefinition) (core.FormDefinition, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.FormDefinition{}, fmt.Errorf("sqlstore: cached form store is not configured")
	}
	saved, err := s.base.Save(ctx, form)
	if err != nil {
		return core.FormDefinition{}, err
	}
	if err := s.invalidate(ctx, saved); err != nil {
		return core.FormDefinition{}, err
	}
	return saved, nil
}

func (s *CachedFormStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached form store is not configured")
	}
	// Resolve the table binding before the row disappears so the
	// FindByTable entry can be dropped too.
	form, err := s.base.Get(ctx, id)
	if err != nil && err != core.ErrFormNotFound {
		return err
	}
	if err := s.base.Delete(ctx, id); err != nil {
		return err
	}
	form.ID = id
	return s.invalidate(ctx, form)
}

func (s *CachedFormStore) invalidate(ctx context.Context, form core.FormDefinition) error {
	if err := s.cache.Delete(ctx, FormCacheKey(form.ID)); err != nil {
		return err
	}
	if strings.TrimSpace(form.AirtableBaseID) == "" && strings.TrimSpace(form.AirtableTableID) == "" {
		return nil
	}
	return s.cache.Delete(ctx, FormTableCacheKey(form.AirtableBaseID, form.AirtableTableID))
}

var _ core.FormStore = (*CachedFormStore)(nil)

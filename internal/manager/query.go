package manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

// Get returns one request as stored.
func (m *Manager) Get(ctx context.Context, id int64) (savecode.SaveRequest, error) {
	req, err := m.store.GetRequest(ctx, id)
	if err != nil {
		return savecode.SaveRequest{}, fmt.Errorf("get request %d: %w", id, err)
	}
	return req, nil
}

// ListForOrigin returns the requests for originURL, newest first, refreshing
// the ones still in flight. An empty visitType matches every visit type.
func (m *Manager) ListForOrigin(ctx context.Context, visitType, originURL string) ([]savecode.SaveRequest, error) {
	normalized, err := savecode.NormalizeOriginURL(originURL, m.allowedSchemes)
	if err != nil {
		return nil, err
	}
	reqs, err := m.store.ListRequests(ctx, savecode.ListFilter{
		VisitType: visitType,
		OriginURL: normalized,
	}, savecode.Page{})
	if err != nil {
		return nil, fmt.Errorf("list requests for %s: %w", normalized, err)
	}
	return m.refreshBatch(ctx, reqs, "refresh")
}

// List returns requests matching filter, newest first. When a search index
// is configured, filter.Query is resolved against it instead of the store.
func (m *Manager) List(ctx context.Context, filter savecode.ListFilter, page savecode.Page) ([]savecode.SaveRequest, error) {
	filter.Query = strings.TrimSpace(filter.Query)
	if filter.Query != "" && m.search != nil {
		urls, err := m.search.SearchOrigins(ctx, filter.Query, defaultSearchLimit)
		if err != nil {
			return nil, fmt.Errorf("search origins: %w", err)
		}
		filter.OriginURLs = urls
		filter.Query = ""
	}
	reqs, err := m.store.ListRequests(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return reqs, nil
}

// ListOrigins returns one of the origin prefix lists.
func (m *Manager) ListOrigins(ctx context.Context, kind savecode.OriginListKind) ([]string, error) {
	prefixes, err := m.store.ListOrigins(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s origins: %w", kind, err)
	}
	return prefixes, nil
}

// AddOrigin adds a prefix to one of the origin lists.
func (m *Manager) AddOrigin(ctx context.Context, kind savecode.OriginListKind, prefix string) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return fmt.Errorf("%w: empty prefix", savecode.ErrInvalidOriginURL)
	}
	if err := m.store.AddOrigin(ctx, kind, prefix); err != nil {
		return fmt.Errorf("add %s origin: %w", kind, err)
	}
	return nil
}

// RemoveOrigin removes a prefix from one of the origin lists.
func (m *Manager) RemoveOrigin(ctx context.Context, kind savecode.OriginListKind, prefix string) error {
	if err := m.store.RemoveOrigin(ctx, kind, strings.TrimSpace(prefix)); err != nil {
		return fmt.Errorf("remove %s origin: %w", kind, err)
	}
	return nil
}

// Ping checks the store.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

// RequestStore provides an in-memory savecode.Store for development/testing.
type RequestStore struct {
	mu       sync.RWMutex
	nextID   int64
	requests map[int64]savecode.SaveRequest
	origins  map[savecode.OriginListKind][]string
}

// NewRequestStore constructs a RequestStore.
func NewRequestStore() *RequestStore {
	return &RequestStore{
		requests: make(map[int64]savecode.SaveRequest),
		origins:  make(map[savecode.OriginListKind][]string),
	}
}

// CreateRequest assigns the next id and stores the request.
func (s *RequestStore) CreateRequest(_ context.Context, req savecode.SaveRequest) (savecode.SaveRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	req.ID = s.nextID
	s.requests[req.ID] = cloneRequest(req)
	return cloneRequest(req), nil
}

// UpdateRequest replaces a stored request that still matches prev.
func (s *RequestStore) UpdateRequest(_ context.Context, prev, next savecode.SaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[next.ID]
	if !ok {
		return fmt.Errorf("save request %d: %w", next.ID, savecode.ErrNotFound)
	}
	if !cur.SameState(prev) {
		return fmt.Errorf("save request %d: %w", next.ID, savecode.ErrStaleRequest)
	}
	s.requests[next.ID] = cloneRequest(next)
	return nil
}

// GetRequest fetches a request by id.
func (s *RequestStore) GetRequest(_ context.Context, id int64) (savecode.SaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return savecode.SaveRequest{}, fmt.Errorf("save request %d: %w", id, savecode.ErrNotFound)
	}
	return cloneRequest(req), nil
}

// DeleteRequest removes a request.
func (s *RequestStore) DeleteRequest(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[id]; !ok {
		return fmt.Errorf("save request %d: %w", id, savecode.ErrNotFound)
	}
	delete(s.requests, id)
	return nil
}

// ListRequests returns matching requests, newest first.
func (s *RequestStore) ListRequests(
	_ context.Context,
	filter savecode.ListFilter,
	page savecode.Page,
) ([]savecode.SaveRequest, error) {
	s.mu.RLock()
	out := make([]savecode.SaveRequest, 0, len(s.requests))
	for _, req := range s.requests {
		if filter.Matches(req) {
			out = append(out, cloneRequest(req))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestDate.Equal(out[j].RequestDate) {
			return out[i].RequestDate.After(out[j].RequestDate)
		}
		return out[i].ID > out[j].ID
	})
	if page.Offset > 0 {
		if page.Offset >= len(out) {
			return []savecode.SaveRequest{}, nil
		}
		out = out[page.Offset:]
	}
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

// CountRequests groups requests by status, loading status and visit type.
func (s *RequestStore) CountRequests(_ context.Context) ([]savecode.Count, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type key struct {
		status    savecode.RequestStatus
		loading   savecode.TaskStatus
		visitType string
	}
	totals := make(map[key]int64)
	for _, req := range s.requests {
		totals[key{req.Status, req.LoadingTaskStatus, req.VisitType}]++
	}
	out := make([]savecode.Count, 0, len(totals))
	for k, total := range totals {
		out = append(out, savecode.Count{
			Status:            k.status,
			LoadingTaskStatus: k.loading,
			VisitType:         k.visitType,
			Total:             total,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.VisitType != b.VisitType {
			return a.VisitType < b.VisitType
		}
		if a.Status != b.Status {
			return a.Status < b.Status
		}
		return a.LoadingTaskStatus < b.LoadingTaskStatus
	})
	return out, nil
}

// ListOrigins returns the prefixes of one list, sorted.
func (s *RequestStore) ListOrigins(_ context.Context, kind savecode.OriginListKind) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]string(nil), s.origins[kind]...)
	sort.Strings(out)
	return out, nil
}

// AddOrigin adds a prefix to a list. Adding an existing prefix is a no-op.
func (s *RequestStore) AddOrigin(_ context.Context, kind savecode.OriginListKind, prefix string) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return fmt.Errorf("empty origin prefix: %w", savecode.ErrInvalidOriginURL)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.origins[kind], prefix) {
		s.origins[kind] = append(s.origins[kind], prefix)
	}
	return nil
}

// RemoveOrigin removes a prefix from a list.
func (s *RequestStore) RemoveOrigin(_ context.Context, kind savecode.OriginListKind, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.Index(s.origins[kind], prefix)
	if idx < 0 {
		return fmt.Errorf("%s origin %q: %w", kind, prefix, savecode.ErrNotFound)
	}
	s.origins[kind] = slices.Delete(s.origins[kind], idx, idx+1)
	return nil
}

// Ping always succeeds.
func (s *RequestStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *RequestStore) Close() error { return nil }

func cloneRequest(req savecode.SaveRequest) savecode.SaveRequest {
	if req.LoadingTaskID != nil {
		id := *req.LoadingTaskID
		req.LoadingTaskID = &id
	}
	if req.VisitStatus != nil {
		status := *req.VisitStatus
		req.VisitStatus = &status
	}
	if req.VisitDate != nil {
		date := *req.VisitDate
		req.VisitDate = &date
	}
	return req
}

// Package memory provides an in-process archive for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

// Archive keeps recorded visits per origin.
type Archive struct {
	mu     sync.RWMutex
	visits map[string][]savecode.Visit
	calls  int
	err    error
}

// New creates an empty Archive.
func New() *Archive {
	return &Archive{visits: make(map[string][]savecode.Visit)}
}

// RecordVisit appends a visit for its origin and returns it with a visit
// number assigned.
func (a *Archive) RecordVisit(v savecode.Visit) savecode.Visit {
	a.mu.Lock()
	defer a.mu.Unlock()
	v.Visit = int64(len(a.visits[v.Origin]) + 1)
	a.visits[v.Origin] = append(a.visits[v.Origin], v)
	return v
}

// FailWith makes lookups return err until cleared with nil.
func (a *Archive) FailWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// Calls reports how many lookups were served.
func (a *Archive) Calls() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.calls
}

// LatestVisit returns the most recent visit of visitType at or after the date.
func (a *Archive) LatestVisit(_ context.Context, originURL, visitType string, after time.Time) (*savecode.Visit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	var best *savecode.Visit
	for _, v := range a.visits[originURL] {
		if visitType != "" && v.Type != visitType {
			continue
		}
		if v.Date.Before(after) {
			continue
		}
		if best == nil || !v.Date.Before(best.Date) {
			visit := v
			best = &visit
		}
	}
	return best, nil
}

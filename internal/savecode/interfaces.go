package savecode

import (
	"context"
	"time"
)

// RequestStore persists save requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, req SaveRequest) (SaveRequest, error)
	// UpdateRequest writes next only while the stored row still has prev's
	// state (see SaveRequest.SameState); otherwise it returns ErrStaleRequest.
	UpdateRequest(ctx context.Context, prev, next SaveRequest) error
	GetRequest(ctx context.Context, id int64) (SaveRequest, error)
	DeleteRequest(ctx context.Context, id int64) error
	// ListRequests returns matching requests, newest first.
	ListRequests(ctx context.Context, filter ListFilter, page Page) ([]SaveRequest, error)
	CountRequests(ctx context.Context) ([]Count, error)
	Ping(ctx context.Context) error
	Close() error
}

// OriginListStore persists the authorized and unauthorized origin prefixes.
type OriginListStore interface {
	ListOrigins(ctx context.Context, kind OriginListKind) ([]string, error)
	AddOrigin(ctx context.Context, kind OriginListKind, prefix string) error
	RemoveOrigin(ctx context.Context, kind OriginListKind, prefix string) error
}

// Store is the full persistence surface used by the lifecycle manager.
type Store interface {
	RequestStore
	OriginListStore
}

// Scheduler is the task scheduler RPC surface.
type Scheduler interface {
	GetTaskTypes(ctx context.Context) ([]TaskType, error)
	CreateTasks(ctx context.Context, tasks []NewTask) ([]Task, error)
	GetTasks(ctx context.Context, ids []int64) ([]Task, error)
	// GetTaskRuns returns the latest run of each task that has one.
	GetTaskRuns(ctx context.Context, taskIDs []int64) ([]TaskRun, error)
}

// Archive looks up origin visits.
type Archive interface {
	// LatestVisit returns the most recent visit of the given type at or after
	// the given date, or nil when there is none.
	LatestVisit(ctx context.Context, originURL, visitType string, after time.Time) (*Visit, error)
}

// OriginDocument is what the search index stores for an origin.
type OriginDocument struct {
	URL        string    `json:"url"`
	VisitTypes []string  `json:"visit_types"`
	HasVisits  bool      `json:"has_visits"`
	LastVisit  time.Time `json:"last_visit"`
}

// SearchIndex indexes archived origins.
type SearchIndex interface {
	IndexOrigin(ctx context.Context, doc OriginDocument) error
	SearchOrigins(ctx context.Context, query string, limit int) ([]string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque identifiers (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Package events carries save request lifecycle events from the manager to
// observers: logs, Pub/Sub, live websocket clients and metrics.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

// Kind names a lifecycle milestone.
type Kind string

// Lifecycle event kinds.
const (
	KindCreated       Kind = "created"
	KindAccepted      Kind = "accepted"
	KindRejected      Kind = "rejected"
	KindDeleted       Kind = "deleted"
	KindStatusChanged Kind = "status_changed"
)

// Event describes one change to a save request.
type Event struct {
	ID                string                 `json:"id"`
	TS                time.Time              `json:"ts"`
	Kind              Kind                   `json:"kind"`
	RequestID         int64                  `json:"request_id"`
	RequestDate       time.Time              `json:"save_request_date"`
	VisitType         string                 `json:"visit_type"`
	OriginURL         string                 `json:"origin_url"`
	Status            savecode.RequestStatus `json:"save_request_status"`
	LoadingTaskStatus savecode.TaskStatus    `json:"save_task_status"`
	// PreviousTaskStatus is set on status_changed events.
	PreviousTaskStatus savecode.TaskStatus   `json:"previous_save_task_status,omitempty"`
	VisitStatus        *savecode.VisitStatus `json:"visit_status,omitempty"`
	VisitDate          *time.Time            `json:"visit_date,omitempty"`
	// Source is "api", "webhook:<adapter>" or "refresh".
	Source string `json:"source,omitempty"`
	Note   string `json:"note,omitempty"`
}

// FromRequest fills the request fields of an event.
func FromRequest(kind Kind, req savecode.SaveRequest, ts time.Time) Event {
	return Event{
		TS:                ts,
		Kind:              kind,
		RequestID:         req.ID,
		RequestDate:       req.RequestDate,
		VisitType:         req.VisitType,
		OriginURL:         req.OriginURL,
		Status:            req.Status,
		LoadingTaskStatus: req.LoadingTaskStatus,
		VisitStatus:       req.VisitStatus,
		VisitDate:         req.VisitDate,
	}
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.RequestID <= 0 {
		return errors.New("request id is required")
	}
	switch e.Kind {
	case KindCreated, KindAccepted, KindRejected, KindDeleted:
	case KindStatusChanged:
		if e.LoadingTaskStatus == "" {
			return errors.New("status change requires a loading task status")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return nil
}

// Sink consumes batches of events. Implementations must honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies it; so does Discard.
type Emitter interface {
	Emit(evt Event)
}

// Discard drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}

// Package savecode defines the core types shared across the save request
// lifecycle: requests, scheduler tasks, archive visits and their statuses.
package savecode

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// RequestStatus is the admission status of a save request.
type RequestStatus string

// Admission statuses persisted in the request store.
const (
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
	RequestPending  RequestStatus = "pending"
)

// TaskStatus is the lifecycle status of the loading task behind a request.
type TaskStatus string

// Loading task statuses persisted in the request store.
const (
	TaskNotCreated      TaskStatus = "not created"
	TaskNotYetScheduled TaskStatus = "not yet scheduled"
	TaskScheduled       TaskStatus = "scheduled"
	TaskRunning         TaskStatus = "running"
	TaskSucceeded       TaskStatus = "succeeded"
	TaskFailed          TaskStatus = "failed"
)

// Terminal reports whether no further transition is expected.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// VisitStatus mirrors the archive's origin visit statuses.
type VisitStatus string

// Archive visit statuses.
const (
	VisitCreated  VisitStatus = "created"
	VisitOngoing  VisitStatus = "ongoing"
	VisitFull     VisitStatus = "full"
	VisitPartial  VisitStatus = "partial"
	VisitFailed   VisitStatus = "failed"
	VisitNotFound VisitStatus = "not_found"
)

// Terminal reports whether the visit is finished.
func (s VisitStatus) Terminal() bool {
	switch s {
	case VisitFull, VisitPartial, VisitFailed, VisitNotFound:
		return true
	default:
		return false
	}
}

// SchedulerTaskStatus is the status of a task in the scheduler.
type SchedulerTaskStatus string

// Scheduler task statuses.
const (
	SchedulerNextRunNotScheduled SchedulerTaskStatus = "next_run_not_scheduled"
	SchedulerNextRunScheduled    SchedulerTaskStatus = "next_run_scheduled"
	SchedulerCompleted           SchedulerTaskStatus = "completed"
	SchedulerDisabled            SchedulerTaskStatus = "disabled"
)

// RunStatus is the status of one execution of a scheduler task.
type RunStatus string

// Scheduler task run statuses.
const (
	RunScheduled  RunStatus = "scheduled"
	RunStarted    RunStatus = "started"
	RunEventful   RunStatus = "eventful"
	RunUneventful RunStatus = "uneventful"
	RunFailed     RunStatus = "failed"
	RunPermFailed RunStatus = "permfailed"
	RunLost       RunStatus = "lost"
)

// SaveRequest is the persisted record of a request to archive an origin.
type SaveRequest struct {
	ID                int64         `json:"id"`
	RequestDate       time.Time     `json:"save_request_date"`
	VisitType         string        `json:"visit_type"`
	OriginURL         string        `json:"origin_url"`
	Status            RequestStatus `json:"save_request_status"`
	LoadingTaskID     *int64        `json:"loading_task_id,omitempty"`
	LoadingTaskStatus TaskStatus    `json:"save_task_status"`
	VisitStatus       *VisitStatus  `json:"visit_status,omitempty"`
	VisitDate         *time.Time    `json:"visit_date,omitempty"`
	FromWebhook       bool          `json:"from_webhook"`
	WebhookOrigin     string        `json:"webhook_origin,omitempty"`
	UserID            string        `json:"-"`
	Note              string        `json:"note,omitempty"`
}

// Key identifies the origin a request targets.
func (r SaveRequest) Key() OriginKey {
	return OriginKey{VisitType: r.VisitType, OriginURL: r.OriginURL}
}

// SameState reports whether r and o agree on the fields reconciliation and
// moderation move: status, loading task status and visit status.
func (r SaveRequest) SameState(o SaveRequest) bool {
	if r.Status != o.Status || r.LoadingTaskStatus != o.LoadingTaskStatus {
		return false
	}
	if r.VisitStatus == nil || o.VisitStatus == nil {
		return r.VisitStatus == nil && o.VisitStatus == nil
	}
	return *r.VisitStatus == *o.VisitStatus
}

// OriginKey is the (visit type, origin url) pair requests are grouped by.
type OriginKey struct {
	VisitType string
	OriginURL string
}

func (k OriginKey) String() string {
	return fmt.Sprintf("%s:%s", k.VisitType, k.OriginURL)
}

// Task is a loading task registered in the scheduler.
type Task struct {
	ID        int64               `json:"id"`
	Type      string              `json:"type"`
	Arguments TaskArguments       `json:"arguments"`
	Status    SchedulerTaskStatus `json:"status"`
	Policy    string              `json:"policy"`
	Priority  string              `json:"priority,omitempty"`
	NextRun   time.Time           `json:"next_run"`
}

// TaskArguments carries the keyword arguments of a loading task.
type TaskArguments struct {
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// TaskRun is one execution of a scheduler task.
type TaskRun struct {
	ID        int64      `json:"id"`
	TaskID    int64      `json:"task"`
	Status    RunStatus  `json:"status"`
	Scheduled *time.Time `json:"scheduled,omitempty"`
	Started   *time.Time `json:"started,omitempty"`
	Ended     *time.Time `json:"ended,omitempty"`
}

// TaskType describes a task type known to the scheduler.
type TaskType struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// NewTask describes a task to create in the scheduler.
type NewTask struct {
	Type      string        `json:"type"`
	Arguments TaskArguments `json:"arguments"`
	Policy    string        `json:"policy"`
	Priority  string        `json:"priority,omitempty"`
	NextRun   time.Time     `json:"next_run"`
}

// Visit is an archive ingestion attempt for an origin.
type Visit struct {
	Origin string      `json:"origin"`
	Visit  int64       `json:"visit"`
	Date   time.Time   `json:"date"`
	Type   string      `json:"type"`
	Status VisitStatus `json:"status"`
}

// Submitter is who issued a save request.
type Submitter struct {
	UserID     string
	Privileged bool
	// Webhook is the adapter name when the request comes from a forge webhook.
	Webhook string
}

// ListFilter narrows request listings. Zero values match everything.
type ListFilter struct {
	Status              RequestStatus
	LoadingTaskStatuses []TaskStatus
	VisitType           string
	OriginURL           string
	// OriginURLs keeps requests for any of the given origins when non-nil.
	// An empty non-nil slice matches nothing.
	OriginURLs []string
	// Query matches origin URLs by substring.
	Query       string
	FromWebhook *bool
	// Since keeps requests created strictly after the given time.
	Since *time.Time
}

// NonTerminalTaskStatuses lists the loading statuses a refresh can still move.
var NonTerminalTaskStatuses = []TaskStatus{TaskNotYetScheduled, TaskScheduled, TaskRunning}

// Page bounds a listing.
type Page struct {
	Limit  int
	Offset int
}

// OriginListKind selects the authorized or unauthorized prefix list.
type OriginListKind string

// Origin prefix lists.
const (
	AuthorizedOrigins   OriginListKind = "authorized"
	UnauthorizedOrigins OriginListKind = "unauthorized"
)

// Count is one row of a grouped count used by metrics.
type Count struct {
	Status            RequestStatus
	LoadingTaskStatus TaskStatus
	VisitType         string
	Total             int64
}

// TaskTypeForVisit returns the scheduler task type loading a visit type.
func TaskTypeForVisit(visitType string) string {
	return "load-" + visitType
}

// Matches reports whether req satisfies every set field of the filter.
func (f ListFilter) Matches(req SaveRequest) bool {
	if f.Status != "" && req.Status != f.Status {
		return false
	}
	if len(f.LoadingTaskStatuses) > 0 && !slices.Contains(f.LoadingTaskStatuses, req.LoadingTaskStatus) {
		return false
	}
	if f.VisitType != "" && req.VisitType != f.VisitType {
		return false
	}
	if f.OriginURL != "" && req.OriginURL != f.OriginURL {
		return false
	}
	if f.OriginURLs != nil && !slices.Contains(f.OriginURLs, req.OriginURL) {
		return false
	}
	if f.Query != "" && !strings.Contains(strings.ToLower(req.OriginURL), strings.ToLower(f.Query)) {
		return false
	}
	if f.FromWebhook != nil && req.FromWebhook != *f.FromWebhook {
		return false
	}
	if f.Since != nil && !req.RequestDate.After(*f.Since) {
		return false
	}
	return true
}

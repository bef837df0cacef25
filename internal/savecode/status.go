package savecode

import "time"

// DefaultGraceWindow bounds how long a request may stay non-terminal.
const DefaultGraceWindow = 30 * 24 * time.Hour

// ReconcileInput is everything known about a request at reconciliation time.
type ReconcileInput struct {
	Request SaveRequest
	// Task is nil when the request has no task or the scheduler does not know it.
	Task *Task
	// Run is the latest run of Task, if any.
	Run *TaskRun
	// Visit is the latest archive visit for the origin, if any.
	Visit       *Visit
	Now         time.Time
	GraceWindow time.Duration
}

// ReconcileResult is the derived state to persist.
type ReconcileResult struct {
	Status      TaskStatus
	VisitStatus *VisitStatus
	VisitDate   *time.Time
	// Expired is set when the grace window forced the request to failed.
	Expired bool
	Changed bool
}

// Reconcile merges scheduler and archive state into the request's loading status.
//
// A related visit wins over the task run, which wins over the task itself.
// Visits dated before the request are ignored. Terminal statuses are never
// regressed, and a request still non-terminal past the grace window fails.
func Reconcile(in ReconcileInput) ReconcileResult {
	req := in.Request
	res := ReconcileResult{
		Status:      req.LoadingTaskStatus,
		VisitStatus: req.VisitStatus,
		VisitDate:   req.VisitDate,
	}
	if in.Visit != nil && !in.Visit.Date.Before(req.RequestDate) && in.Visit.Status != "" {
		status := in.Visit.Status
		date := in.Visit.Date
		res.VisitStatus = &status
		res.VisitDate = &date
	}

	if !req.LoadingTaskStatus.Terminal() {
		if derived, ok := fromVisit(res.VisitStatus); ok {
			res.Status = derived
		} else if derived, ok := fromRun(in.Run); ok {
			res.Status = derived
		} else if derived, ok := fromTask(in.Task); ok {
			res.Status = derived
		}

		grace := in.GraceWindow
		if grace <= 0 {
			grace = DefaultGraceWindow
		}
		if !res.Status.Terminal() && !in.Now.IsZero() && in.Now.Sub(req.RequestDate) > grace {
			res.Status = TaskFailed
			res.Expired = true
		}
	}

	res.Changed = res.Status != req.LoadingTaskStatus ||
		!equalVisitStatus(res.VisitStatus, req.VisitStatus) ||
		!equalTime(res.VisitDate, req.VisitDate)
	return res
}

// Apply copies the result onto a request.
func (r ReconcileResult) Apply(req SaveRequest) SaveRequest {
	req.LoadingTaskStatus = r.Status
	req.VisitStatus = r.VisitStatus
	req.VisitDate = r.VisitDate
	return req
}

func fromVisit(status *VisitStatus) (TaskStatus, bool) {
	if status == nil {
		return "", false
	}
	switch *status {
	case VisitFull, VisitPartial:
		return TaskSucceeded, true
	case VisitFailed, VisitNotFound:
		return TaskFailed, true
	case VisitCreated, VisitOngoing:
		return TaskRunning, true
	default:
		return "", false
	}
}

func fromRun(run *TaskRun) (TaskStatus, bool) {
	if run == nil {
		return "", false
	}
	switch run.Status {
	case RunEventful, RunUneventful:
		return TaskSucceeded, true
	case RunFailed, RunPermFailed, RunLost:
		return TaskFailed, true
	case RunStarted:
		return TaskRunning, true
	case RunScheduled:
		return TaskScheduled, true
	default:
		return "", false
	}
}

func fromTask(task *Task) (TaskStatus, bool) {
	if task == nil {
		return "", false
	}
	switch task.Status {
	case SchedulerNextRunNotScheduled:
		return TaskNotYetScheduled, true
	case SchedulerNextRunScheduled:
		return TaskScheduled, true
	case SchedulerCompleted:
		return TaskSucceeded, true
	case SchedulerDisabled:
		return TaskFailed, true
	default:
		return "", false
	}
}

func equalVisitStatus(a, b *VisitStatus) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

package manager

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/events"
	"github.com/JakeFAU/savecodenow/internal/savecode"
	"github.com/JakeFAU/savecodenow/internal/telemetry"
)

// Refresh outcomes reported to metrics.
const (
	resultUnchanged = "unchanged"
	resultChanged   = "changed"
	resultExpired   = "expired"
	resultError     = "error"
)

// Refresh reconciles one request with the scheduler and the archive and
// persists the derived status. Requests that are not accepted are returned
// unchanged.
func (m *Manager) Refresh(ctx context.Context, id int64) (savecode.SaveRequest, error) {
	req, err := m.store.GetRequest(ctx, id)
	if err != nil {
		return savecode.SaveRequest{}, fmt.Errorf("get request %d: %w", id, err)
	}
	return m.refresh(ctx, req, "refresh")
}

// RefreshPending reconciles every accepted, non-terminal request, one
// batched scheduler round trip per batch, and returns the refreshed records.
func (m *Manager) RefreshPending(ctx context.Context) ([]savecode.SaveRequest, error) {
	ctx, span := m.tracer.Start(ctx, "manager.refresh_pending")
	defer span.End()

	pending, err := m.store.ListRequests(ctx, savecode.ListFilter{
		Status:              savecode.RequestAccepted,
		LoadingTaskStatuses: savecode.NonTerminalTaskStatuses,
	}, savecode.Page{})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	span.SetAttributes(attribute.Int("requests", len(pending)))

	out := make([]savecode.SaveRequest, 0, len(pending))
	var errs []error
	for start := 0; start < len(pending); start += m.batchSize {
		end := min(start+m.batchSize, len(pending))
		refreshed, err := m.refreshBatch(ctx, pending[start:end], "refresh")
		out = append(out, refreshed...)
		if err != nil {
			errs = append(errs, err)
			if errors.Is(err, savecode.ErrSchedulerUnavailable) || ctx.Err() != nil {
				break
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	m.logger.Debug("refreshed pending save requests", zap.Int("count", len(out)))
	return out, nil
}

func (m *Manager) refresh(ctx context.Context, req savecode.SaveRequest, source string) (savecode.SaveRequest, error) {
	refreshed, err := m.refreshBatch(ctx, []savecode.SaveRequest{req}, source)
	if err != nil {
		return savecode.SaveRequest{}, err
	}
	return refreshed[0], nil
}

// refreshBatch reconciles reqs and returns them in order, updated where the
// derived state changed. Requests that need no refresh pass through.
func (m *Manager) refreshBatch(
	ctx context.Context,
	reqs []savecode.SaveRequest,
	source string,
) ([]savecode.SaveRequest, error) {
	taskIDs := make([]int64, 0, len(reqs))
	for _, req := range reqs {
		if needsSchedulerLookup(req) {
			taskIDs = append(taskIDs, *req.LoadingTaskID)
		}
	}

	tasks := make(map[int64]savecode.Task, len(taskIDs))
	runs := make(map[int64]savecode.TaskRun, len(taskIDs))
	if len(taskIDs) > 0 {
		found, err := m.scheduler.GetTasks(ctx, taskIDs)
		if err != nil {
			telemetry.ObserveRefresh(resultError)
			return nil, fmt.Errorf("get tasks: %w", err)
		}
		for _, task := range found {
			tasks[task.ID] = task
		}
		latest, err := m.scheduler.GetTaskRuns(ctx, taskIDs)
		if err != nil {
			telemetry.ObserveRefresh(resultError)
			return nil, fmt.Errorf("get task runs: %w", err)
		}
		for _, run := range latest {
			if prev, ok := runs[run.TaskID]; !ok || run.ID > prev.ID {
				runs[run.TaskID] = run
			}
		}
	}

	out := make([]savecode.SaveRequest, 0, len(reqs))
	var errs []error
	for _, req := range reqs {
		if !needsRefresh(req) {
			out = append(out, req)
			continue
		}
		in := savecode.ReconcileInput{
			Request:     req,
			Now:         m.clock.Now(),
			GraceWindow: m.graceWindow,
		}
		if req.LoadingTaskID != nil {
			if task, ok := tasks[*req.LoadingTaskID]; ok {
				in.Task = &task
			}
			if run, ok := runs[*req.LoadingTaskID]; ok {
				in.Run = &run
			}
		}
		in.Visit = m.lookupVisit(ctx, req)

		updated, err := m.applyLocked(ctx, in, source)
		if err != nil {
			errs = append(errs, err)
			out = append(out, req)
			continue
		}
		out = append(out, updated)
	}
	return out, errors.Join(errs...)
}

// applyLocked reconciles against the stored row re-read under the origin lock,
// so overlapping refreshes of one request report each transition once.
func (m *Manager) applyLocked(ctx context.Context, in savecode.ReconcileInput, source string) (savecode.SaveRequest, error) {
	unlock := m.lockOrigin(in.Request.Key())
	defer unlock()

	current, err := m.store.GetRequest(ctx, in.Request.ID)
	if err != nil {
		telemetry.ObserveRefresh(resultError)
		return in.Request, fmt.Errorf("get request %d: %w", in.Request.ID, err)
	}
	if !needsRefresh(current) {
		telemetry.ObserveRefresh(resultUnchanged)
		return current, nil
	}
	in.Request = current
	return m.apply(ctx, in, source)
}

func (m *Manager) apply(ctx context.Context, in savecode.ReconcileInput, source string) (savecode.SaveRequest, error) {
	req := in.Request
	_, span := m.tracer.Start(ctx, "manager.reconcile", trace.WithAttributes(
		attribute.Int64("request_id", req.ID),
		attribute.String("visit_type", req.VisitType),
	))
	res := savecode.Reconcile(in)
	span.SetAttributes(
		attribute.String("status", string(res.Status)),
		attribute.Bool("changed", res.Changed),
	)
	span.End()

	if !res.Changed {
		telemetry.ObserveRefresh(resultUnchanged)
		return req, nil
	}
	updated := res.Apply(req)
	if err := m.store.UpdateRequest(ctx, req, updated); err != nil {
		if errors.Is(err, savecode.ErrStaleRequest) {
			// Another process stored this transition first.
			telemetry.ObserveRefresh(resultUnchanged)
			current, getErr := m.store.GetRequest(ctx, req.ID)
			if getErr != nil {
				return req, fmt.Errorf("get request %d: %w", req.ID, getErr)
			}
			return current, nil
		}
		telemetry.ObserveRefresh(resultError)
		return req, fmt.Errorf("update request %d: %w", req.ID, err)
	}

	fields := append(requestFields(updated),
		zap.String("previous_status", string(req.LoadingTaskStatus)),
		zap.String("status", string(updated.LoadingTaskStatus)),
	)
	if res.Expired {
		telemetry.ObserveRefresh(resultExpired)
		m.logger.Warn("save request expired in grace window", fields...)
	} else {
		telemetry.ObserveRefresh(resultChanged)
		m.logger.Info("save request status changed", fields...)
	}
	m.emit(events.KindStatusChanged, updated, source, func(e *events.Event) {
		e.PreviousTaskStatus = req.LoadingTaskStatus
		if res.Expired {
			e.Note = "grace window expired"
		}
	})

	if updated.LoadingTaskStatus == savecode.TaskSucceeded && req.LoadingTaskStatus != savecode.TaskSucceeded {
		m.indexOrigin(ctx, updated)
	}
	return updated, nil
}

func (m *Manager) lookupVisit(ctx context.Context, req savecode.SaveRequest) *savecode.Visit {
	if m.archive == nil || (req.VisitStatus != nil && req.VisitStatus.Terminal()) {
		return nil
	}
	visit, err := m.archive.LatestVisit(ctx, req.OriginURL, req.VisitType, req.RequestDate)
	if err != nil {
		// Scheduler state alone still drives the status.
		m.logger.Warn("archive visit lookup failed", append(requestFields(req), zap.Error(err))...)
		return nil
	}
	return visit
}

func (m *Manager) indexOrigin(ctx context.Context, req savecode.SaveRequest) {
	if m.search == nil {
		return
	}
	doc := savecode.OriginDocument{
		URL:        req.OriginURL,
		VisitTypes: []string{req.VisitType},
		HasVisits:  true,
		LastVisit:  m.clock.Now(),
	}
	if req.VisitDate != nil {
		doc.LastVisit = *req.VisitDate
	}
	if err := m.search.IndexOrigin(ctx, doc); err != nil {
		m.logger.Warn("index saved origin failed", append(requestFields(req), zap.Error(err))...)
	}
}

// needsRefresh reports whether reconciliation can still change req.
func needsRefresh(req savecode.SaveRequest) bool {
	if req.Status != savecode.RequestAccepted {
		return false
	}
	if !req.LoadingTaskStatus.Terminal() {
		return true
	}
	return req.VisitStatus == nil || !req.VisitStatus.Terminal()
}

func needsSchedulerLookup(req savecode.SaveRequest) bool {
	return req.Status == savecode.RequestAccepted &&
		req.LoadingTaskID != nil &&
		!req.LoadingTaskStatus.Terminal()
}

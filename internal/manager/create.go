package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/events"
	"github.com/JakeFAU/savecodenow/internal/savecode"
)

const (
	taskPolicyOneshot = "oneshot"
	taskPriorityHigh  = "high"
)

// Create submits a save request for originURL.
//
// Rejected origins are still recorded; the record is returned together with
// ErrForbiddenOrigin. Pending and scheduled duplicates for the same origin are
// returned instead of creating new records or tasks.
func (m *Manager) Create(
	ctx context.Context,
	visitType, originURL string,
	sub savecode.Submitter,
) (savecode.SaveRequest, error) {
	savable, err := m.SavableVisitTypes(ctx)
	if err != nil {
		return savecode.SaveRequest{}, err
	}
	if !slices.Contains(savable, visitType) {
		return savecode.SaveRequest{}, fmt.Errorf("%w: %q", savecode.ErrVisitTypeNotSavable, visitType)
	}
	normalized, err := savecode.NormalizeOriginURL(originURL, m.allowedSchemes)
	if err != nil {
		return savecode.SaveRequest{}, err
	}

	authorized, err := m.store.ListOrigins(ctx, savecode.AuthorizedOrigins)
	if err != nil {
		return savecode.SaveRequest{}, fmt.Errorf("list authorized origins: %w", err)
	}
	unauthorized, err := m.store.ListOrigins(ctx, savecode.UnauthorizedOrigins)
	if err != nil {
		return savecode.SaveRequest{}, fmt.Errorf("list unauthorized origins: %w", err)
	}

	key := savecode.OriginKey{VisitType: visitType, OriginURL: normalized}
	unlock := m.lockOrigin(key)
	defer func() { unlock() }()

	req := savecode.SaveRequest{
		RequestDate:       m.clock.Now(),
		VisitType:         visitType,
		OriginURL:         normalized,
		Status:            savecode.Admit(normalized, sub.Privileged, authorized, unauthorized),
		LoadingTaskStatus: savecode.TaskNotCreated,
		FromWebhook:       sub.Webhook != "",
		WebhookOrigin:     sub.Webhook,
		UserID:            sub.UserID,
	}
	source := sourceFor(sub)

	switch req.Status {
	case savecode.RequestRejected:
		created, err := m.store.CreateRequest(ctx, req)
		if err != nil {
			return savecode.SaveRequest{}, fmt.Errorf("store rejected request: %w", err)
		}
		m.logger.Info("save request rejected", requestFields(created)...)
		m.emit(events.KindCreated, created, source, nil)
		return created, fmt.Errorf("%w: %s", savecode.ErrForbiddenOrigin, normalized)

	case savecode.RequestPending:
		existing, found, err := m.findOne(ctx, savecode.ListFilter{
			Status:    savecode.RequestPending,
			VisitType: visitType,
			OriginURL: normalized,
		})
		if err != nil {
			return savecode.SaveRequest{}, err
		}
		if found {
			return existing, nil
		}
		created, err := m.store.CreateRequest(ctx, req)
		if err != nil {
			return savecode.SaveRequest{}, fmt.Errorf("store pending request: %w", err)
		}
		m.logger.Info("save request pending review", requestFields(created)...)
		m.emit(events.KindCreated, created, source, nil)
		return created, nil
	}

	existing, found, err := m.findOne(ctx, savecode.ListFilter{
		Status:              savecode.RequestAccepted,
		VisitType:           visitType,
		OriginURL:           normalized,
		LoadingTaskStatuses: []savecode.TaskStatus{savecode.TaskNotYetScheduled, savecode.TaskScheduled},
	})
	if err != nil {
		return savecode.SaveRequest{}, err
	}
	if found {
		// refresh takes the origin lock itself.
		unlock()
		unlock = func() {}
		refreshed, err := m.refresh(ctx, existing, source)
		if err != nil {
			m.logger.Warn("refresh of existing request failed", append(requestFields(existing), zap.Error(err))...)
			return existing, nil
		}
		return refreshed, nil
	}

	task, err := m.createTask(ctx, visitType, normalized, sub.Privileged)
	if err != nil {
		return savecode.SaveRequest{}, err
	}
	req.LoadingTaskID = &task.ID
	req.LoadingTaskStatus = savecode.TaskNotYetScheduled
	created, err := m.store.CreateRequest(ctx, req)
	if err != nil {
		return savecode.SaveRequest{}, fmt.Errorf("store accepted request: %w", err)
	}
	m.logger.Info("save request accepted", requestFields(created)...)
	m.emit(events.KindCreated, created, source, nil)
	m.enqueue(created)
	return created, nil
}

func (m *Manager) createTask(ctx context.Context, visitType, originURL string, privileged bool) (savecode.Task, error) {
	nt := savecode.NewTask{
		Type: savecode.TaskTypeForVisit(visitType),
		Arguments: savecode.TaskArguments{
			Args:   []any{},
			Kwargs: map[string]any{"url": originURL},
		},
		Policy:  taskPolicyOneshot,
		NextRun: m.clock.Now(),
	}
	if privileged {
		nt.Priority = taskPriorityHigh
	}
	tasks, err := m.scheduler.CreateTasks(ctx, []savecode.NewTask{nt})
	if err != nil {
		return savecode.Task{}, fmt.Errorf("create loading task: %w", err)
	}
	if len(tasks) != 1 {
		return savecode.Task{}, fmt.Errorf("%w: expected 1 created task, got %d", savecode.ErrSchedulerUnavailable, len(tasks))
	}
	return tasks[0], nil
}

func (m *Manager) findOne(ctx context.Context, filter savecode.ListFilter) (savecode.SaveRequest, bool, error) {
	found, err := m.store.ListRequests(ctx, filter, savecode.Page{Limit: 1})
	if err != nil {
		return savecode.SaveRequest{}, false, fmt.Errorf("lookup existing request: %w", err)
	}
	if len(found) == 0 {
		return savecode.SaveRequest{}, false, nil
	}
	return found[0], true, nil
}

// Accept approves a pending request and schedules its loading task.
func (m *Manager) Accept(ctx context.Context, id int64, note string) (savecode.SaveRequest, error) {
	req, unlock, err := m.lockPending(ctx, id)
	if err != nil {
		return savecode.SaveRequest{}, err
	}
	defer unlock()

	task, err := m.createTask(ctx, req.VisitType, req.OriginURL, false)
	if err != nil {
		return savecode.SaveRequest{}, err
	}
	next := req
	next.Status = savecode.RequestAccepted
	next.LoadingTaskID = &task.ID
	next.LoadingTaskStatus = savecode.TaskNotYetScheduled
	if note != "" {
		next.Note = note
	}
	if err := m.moderate(ctx, req, next); err != nil {
		m.logger.Warn("loading task created for a request that left pending",
			append(requestFields(req), zap.Int64("task_id", task.ID), zap.Error(err))...)
		return savecode.SaveRequest{}, err
	}
	m.logger.Info("pending save request accepted", requestFields(next)...)
	m.emit(events.KindAccepted, next, "admin", func(e *events.Event) { e.Note = note })
	m.enqueue(next)
	return next, nil
}

// Reject refuses a pending request.
func (m *Manager) Reject(ctx context.Context, id int64, note string) (savecode.SaveRequest, error) {
	req, unlock, err := m.lockPending(ctx, id)
	if err != nil {
		return savecode.SaveRequest{}, err
	}
	defer unlock()

	next := req
	next.Status = savecode.RequestRejected
	next.LoadingTaskStatus = savecode.TaskNotCreated
	if note != "" {
		next.Note = note
	}
	if err := m.moderate(ctx, req, next); err != nil {
		return savecode.SaveRequest{}, err
	}
	m.logger.Info("pending save request rejected", requestFields(next)...)
	m.emit(events.KindRejected, next, "admin", func(e *events.Event) { e.Note = note })
	return next, nil
}

// lockPending takes the origin lock of request id and returns the request
// once it is confirmed pending under that lock. The caller must unlock.
func (m *Manager) lockPending(ctx context.Context, id int64) (savecode.SaveRequest, func(), error) {
	req, err := m.store.GetRequest(ctx, id)
	if err != nil {
		return savecode.SaveRequest{}, nil, fmt.Errorf("get request %d: %w", id, err)
	}
	unlock := m.lockOrigin(req.Key())
	req, err = m.store.GetRequest(ctx, id)
	if err != nil {
		unlock()
		return savecode.SaveRequest{}, nil, fmt.Errorf("get request %d: %w", id, err)
	}
	if req.Status != savecode.RequestPending {
		unlock()
		return savecode.SaveRequest{}, nil, fmt.Errorf("%w: request %d is %s", savecode.ErrInvalidTransition, id, req.Status)
	}
	return req, unlock, nil
}

// moderate stores next over the pending snapshot prev. A row another process
// moderated in the meantime is reported as an invalid transition.
func (m *Manager) moderate(ctx context.Context, prev, next savecode.SaveRequest) error {
	err := m.store.UpdateRequest(ctx, prev, next)
	if errors.Is(err, savecode.ErrStaleRequest) {
		return fmt.Errorf("%w: request %d is no longer pending", savecode.ErrInvalidTransition, prev.ID)
	}
	if err != nil {
		return fmt.Errorf("update request %d: %w", prev.ID, err)
	}
	return nil
}

// Delete removes a request record. Its scheduler task, if any, is left alone.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	req, err := m.store.GetRequest(ctx, id)
	if err != nil {
		return fmt.Errorf("get request %d: %w", id, err)
	}
	if err := m.store.DeleteRequest(ctx, id); err != nil {
		return fmt.Errorf("delete request %d: %w", id, err)
	}
	m.logger.Info("save request deleted", zap.Int64("request_id", id))
	m.emit(events.KindDeleted, req, "admin", nil)
	return nil
}

func sourceFor(sub savecode.Submitter) string {
	if sub.Webhook != "" {
		return "webhook:" + sub.Webhook
	}
	return "api"
}

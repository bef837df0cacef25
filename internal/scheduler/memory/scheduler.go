// Package memory provides an in-process scheduler for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

// Scheduler records created tasks and lets callers drive their state.
type Scheduler struct {
	mu        sync.Mutex
	nextTask  int64
	nextRun   int64
	taskTypes []savecode.TaskType
	tasks     map[int64]savecode.Task
	runs      map[int64]savecode.TaskRun
	failWith  error
}

// New creates a scheduler that knows a load-<visit type> task type for each
// given visit type.
func New(visitTypes ...string) *Scheduler {
	types := make([]savecode.TaskType, 0, len(visitTypes))
	for _, vt := range visitTypes {
		types = append(types, savecode.TaskType{
			Type:        savecode.TaskTypeForVisit(vt),
			Description: fmt.Sprintf("Load %s origin", vt),
		})
	}
	return &Scheduler{
		taskTypes: types,
		tasks:     make(map[int64]savecode.Task),
		runs:      make(map[int64]savecode.TaskRun),
	}
}

// FailWith makes every call return err until cleared with nil.
func (s *Scheduler) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// GetTaskTypes lists the configured task types.
func (s *Scheduler) GetTaskTypes(context.Context) ([]savecode.TaskType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	return append([]savecode.TaskType(nil), s.taskTypes...), nil
}

// CreateTasks assigns ids and stores tasks as next_run_not_scheduled.
func (s *Scheduler) CreateTasks(_ context.Context, tasks []savecode.NewTask) ([]savecode.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([]savecode.Task, 0, len(tasks))
	for _, nt := range tasks {
		s.nextTask++
		task := savecode.Task{
			ID:        s.nextTask,
			Type:      nt.Type,
			Arguments: nt.Arguments,
			Status:    savecode.SchedulerNextRunNotScheduled,
			Policy:    nt.Policy,
			Priority:  nt.Priority,
			NextRun:   nt.NextRun,
		}
		s.tasks[task.ID] = task
		out = append(out, task)
	}
	return out, nil
}

// GetTasks returns the known tasks among ids.
func (s *Scheduler) GetTasks(_ context.Context, ids []int64) ([]savecode.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([]savecode.Task, 0, len(ids))
	for _, id := range ids {
		if task, ok := s.tasks[id]; ok {
			out = append(out, task)
		}
	}
	return out, nil
}

// GetTaskRuns returns the latest run of each task that has one.
func (s *Scheduler) GetTaskRuns(_ context.Context, taskIDs []int64) ([]savecode.TaskRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([]savecode.TaskRun, 0, len(taskIDs))
	for _, id := range taskIDs {
		if run, ok := s.runs[id]; ok {
			out = append(out, run)
		}
	}
	return out, nil
}

// SetTaskStatus overrides the scheduler status of a task.
func (s *Scheduler) SetTaskStatus(id int64, status savecode.SchedulerTaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[id]; ok {
		task.Status = status
		s.tasks[id] = task
	}
}

// RecordRun makes status the latest run of a task.
func (s *Scheduler) RecordRun(taskID int64, status savecode.RunStatus, at time.Time) savecode.TaskRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRun++
	ts := at
	run := savecode.TaskRun{ID: s.nextRun, TaskID: taskID, Status: status, Scheduled: &ts}
	switch status {
	case savecode.RunStarted:
		run.Started = &ts
	case savecode.RunEventful, savecode.RunUneventful, savecode.RunFailed, savecode.RunPermFailed, savecode.RunLost:
		run.Started = &ts
		run.Ended = &ts
	}
	s.runs[taskID] = run
	return run
}

// Forget drops a task, as if the scheduler had purged it.
func (s *Scheduler) Forget(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	delete(s.runs, id)
}

// Tasks returns every created task ordered by id.
func (s *Scheduler) Tasks() []savecode.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]savecode.Task, 0, len(s.tasks))
	for id := int64(1); id <= s.nextTask; id++ {
		if task, ok := s.tasks[id]; ok {
			out = append(out, task)
		}
	}
	return out
}

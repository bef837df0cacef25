package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

func TestSchedulerLifecycle(t *testing.T) {
	t.Parallel()

	s := New("git", "hg")
	ctx := context.Background()

	types, err := s.GetTaskTypes(ctx)
	require.NoError(t, err)
	require.Equal(t, "load-git", types[0].Type)
	require.Equal(t, "load-hg", types[1].Type)

	tasks, err := s.CreateTasks(ctx, []savecode.NewTask{{Type: "load-git", Policy: "oneshot", Priority: "high"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), tasks[0].ID)
	require.Equal(t, savecode.SchedulerNextRunNotScheduled, tasks[0].Status)

	s.SetTaskStatus(1, savecode.SchedulerNextRunScheduled)
	got, err := s.GetTasks(ctx, []int64{1, 99})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, savecode.SchedulerNextRunScheduled, got[0].Status)

	s.RecordRun(1, savecode.RunStarted, time.Now())
	s.RecordRun(1, savecode.RunEventful, time.Now())
	runs, err := s.GetTaskRuns(ctx, []int64{1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, savecode.RunEventful, runs[0].Status)
	require.NotNil(t, runs[0].Ended)

	s.Forget(1)
	got, err = s.GetTasks(ctx, []int64{1})
	require.NoError(t, err)
	require.Empty(t, got)
	require.Empty(t, s.Tasks())
}

func TestSchedulerFailWith(t *testing.T) {
	t.Parallel()

	s := New("git")
	boom := errors.New("boom")
	s.FailWith(boom)
	_, err := s.GetTasks(context.Background(), []int64{1})
	require.ErrorIs(t, err, boom)
	s.FailWith(nil)
	_, err = s.GetTasks(context.Background(), []int64{1})
	require.NoError(t, err)
}

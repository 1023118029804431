package syncrun

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"pairscope/internal/model"
)

type memRuns struct {
	nextID int64
	runs   map[int64]model.SyncRun
}

func newMemRuns() *memRuns {
	return &memRuns{nextID: 1, runs: make(map[int64]model.SyncRun)}
}

func (m *memRuns) CreateSyncRun(_ context.Context, run model.SyncRun) (int64, error) {
	run.ID = m.nextID
	m.nextID++
	run.Status = model.RunStatusRunning
	m.runs[run.ID] = run
	return run.ID, nil
}

func (m *memRuns) FinishSyncRun(_ context.Context, id int64, status string, counters model.RunCounters, errorMessage string) (bool, error) {
	run, ok := m.runs[id]
	if !ok || run.Status != model.RunStatusRunning {
		return false, nil
	}
	run.Status = status
	run.Counters = counters
	run.ErrorMessage = errorMessage
	m.runs[id] = run
	return true, nil
}

func (m *memRuns) LastCompletedRun(_ context.Context, jobName string) (model.SyncRun, bool, error) {
	var best model.SyncRun
	found := false
	for _, run := range m.runs {
		if run.JobName == jobName && run.Status == model.RunStatusCompleted && run.ID > best.ID {
			best = run
			found = true
		}
	}
	return best, found, nil
}

func TestStartCompleteOnce(t *testing.T) {
	store := newMemRuns()
	tracker := New(store, nil)
	ctx := context.Background()

	id, err := tracker.Start(ctx, "sync", "api", 100, 200, map[string]string{"chunk": "100"})
	require.NoError(t, err)

	counters := model.RunCounters{EventsFound: 10, EventsProcessed: 8, EventsSkipped: 1, EventsFailed: 1}
	require.NoError(t, tracker.Complete(ctx, id, counters))
	require.Equal(t, model.RunStatusCompleted, store.runs[id].Status)
	require.Equal(t, counters, store.runs[id].Counters)

	// Any further transition on the same id is rejected.
	require.Error(t, tracker.Complete(ctx, id, counters))
	require.Error(t, tracker.Fail(ctx, id, counters, errors.New("late")))
	require.Equal(t, model.RunStatusCompleted, store.runs[id].Status)
}

func TestFailKeepsCountersAndMessage(t *testing.T) {
	store := newMemRuns()
	tracker := New(store, nil)
	ctx := context.Background()

	id, err := tracker.Start(ctx, "sync", "api", 100, 200, nil)
	require.NoError(t, err)

	partial := model.RunCounters{EventsFound: 4, EventsProcessed: 2}
	require.NoError(t, tracker.Fail(ctx, id, partial, errors.New("rpc timeout")))

	run := store.runs[id]
	require.Equal(t, model.RunStatusFailed, run.Status)
	require.Equal(t, partial, run.Counters)
	require.Equal(t, "rpc timeout", run.ErrorMessage)

	require.Error(t, tracker.Complete(ctx, id, partial))
}

func TestLastCompletedPicksNewest(t *testing.T) {
	store := newMemRuns()
	tracker := New(store, nil)
	ctx := context.Background()

	_, found, err := tracker.LastCompleted(ctx, "sync")
	require.NoError(t, err)
	require.False(t, found)

	first, _ := tracker.Start(ctx, "sync", "api", 100, 199, nil)
	require.NoError(t, tracker.Complete(ctx, first, model.RunCounters{}))
	second, _ := tracker.Start(ctx, "sync", "api", 200, 299, nil)
	require.NoError(t, tracker.Complete(ctx, second, model.RunCounters{}))
	third, _ := tracker.Start(ctx, "sync", "api", 300, 399, nil)
	require.NoError(t, tracker.Fail(ctx, third, model.RunCounters{}, errors.New("boom")))

	run, found, err := tracker.LastCompleted(ctx, "sync")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, second, run.ID)
	require.Equal(t, uint64(299), run.EndBlock)
}

package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/ports"
)

func readTask(dates ...string) ports.CreateTaskRequest {
	return ports.CreateTaskRequest{
		Name:     "Read",
		Duration: entities.Duration{Minutes: 30},
		Dates:    dates,
	}
}

func TestCompleteTaskOnEveryDate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")

	task, err := env.svc.Tasks.CreateTask(ctx, account.ID, readTask("2024-01-01", "2024-01-02"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), env.balance(t, account.ID))

	onFirst, err := env.svc.Tasks.TasksOnDate(ctx, account.ID, "2024-01-01")
	require.NoError(t, err)
	require.Len(t, onFirst, 1)
	assert.Equal(t, task.ID, onFirst[0].ID)

	result, err := env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Credits)
	assert.False(t, result.Deleted)
	require.NotNil(t, result.Task)
	assert.Equal(t, []string{"2024-01-02"}, result.Task.Dates.Strings())

	stored, err := env.svc.Tasks.GetTask(ctx, account.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-02"}, stored.Dates.Strings())

	result, err = env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Credits)
	assert.True(t, result.Deleted)
	assert.Nil(t, result.Task)

	_, err = env.svc.Tasks.GetTask(ctx, account.ID, task.ID)
	assert.ErrorIs(t, err, entities.ErrNotFound)

	onSecond, err := env.svc.Tasks.TasksOnDate(ctx, account.ID, "2024-01-02")
	require.NoError(t, err)
	assert.Empty(t, onSecond)

	ledger, err := env.svc.Ledger.Balance(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ledger.CompletedTasks)
	assert.Equal(t, float64(2), testutil.ToFloat64(env.svc.Metrics.completions.WithLabelValues(outcomeSuccess)))
}

func TestCompleteOnDateOrderDoesNotMatter(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")

	dates := []string{"2024-05-01", "2024-05-02", "2024-05-03"}
	task, err := env.svc.Tasks.CreateTask(ctx, account.ID, readTask(dates...))
	require.NoError(t, err)

	for i := len(dates) - 1; i >= 0; i-- {
		_, err := env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, dates[i])
		require.NoError(t, err)
	}

	assert.Equal(t, int64(3), env.balance(t, account.ID))
	tasks, err := env.svc.Tasks.ListTasks(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCompleteOnDateNotFound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")

	task, err := env.svc.Tasks.CreateTask(ctx, account.ID, readTask("2024-01-01", "2024-01-02"))
	require.NoError(t, err)

	_, err = env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-02-01")
	assert.ErrorIs(t, err, entities.ErrNotFound, "date not in the set")

	_, err = env.svc.Tasks.CompleteOnDate(ctx, account.ID, "missing", "2024-01-01")
	assert.ErrorIs(t, err, entities.ErrNotFound, "unknown task")

	_, err = env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-01-01")
	require.NoError(t, err)
	_, err = env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-01-01")
	assert.ErrorIs(t, err, entities.ErrNotFound, "repeated completion")

	_, err = env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "01/01/2024")
	assert.ErrorIs(t, err, entities.ErrValidation)

	assert.Equal(t, int64(1), env.balance(t, account.ID))
}

func TestCompleteOnDateConcurrentCallsMintOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")

	task, err := env.svc.Tasks.CreateTask(ctx, account.ID, readTask("2024-01-01", "2024-01-02"))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-01-01")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, entities.ErrNotFound)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(1), env.balance(t, account.ID))
}

func TestCompleteOnDateResumesInterruptedMint(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")

	task, err := env.svc.Tasks.CreateTask(ctx, account.ID, readTask("2024-01-01"))
	require.NoError(t, err)

	env.store.FailUpdates("stats", 1)

	_, err = env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-01-01")
	require.ErrorIs(t, err, entities.ErrUnavailable)
	assert.True(t, entities.IsRetryable(err))
	assert.Equal(t, int64(0), env.balance(t, account.ID))

	// The date is gone, so only the journal knows the credit is owed.
	_, err = env.svc.Tasks.GetTask(ctx, account.ID, task.ID)
	assert.ErrorIs(t, err, entities.ErrNotFound)

	result, err := env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-01-01")
	require.NoError(t, err)
	assert.True(t, result.Resumed)
	assert.True(t, result.Deleted)
	assert.Equal(t, int64(1), result.Credits)

	_, err = env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-01-01")
	assert.ErrorIs(t, err, entities.ErrNotFound)
	assert.Equal(t, int64(1), env.balance(t, account.ID))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.svc.Metrics.completions.WithLabelValues(outcomeResumed)))
}

func TestCompleteOnDateRepeatAfterLostJournalUpdateIsNotFound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")

	task, err := env.svc.Tasks.CreateTask(ctx, account.ID, readTask("2024-01-01", "2024-01-02"))
	require.NoError(t, err)

	env.store.FailUpdates("completions", 1)

	result, err := env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Credits)

	// The journal still says pending, but the credit was already minted.
	_, err = env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-01-01")
	assert.ErrorIs(t, err, entities.ErrNotFound)

	state, err := env.svc.Tasks.completionRepo.Get(ctx, account.ID, task.ID, "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, entities.CompletionMinted, state, "the repeat closes the journal entry")

	_, err = env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-01-01")
	assert.ErrorIs(t, err, entities.ErrNotFound)
	assert.Equal(t, int64(1), env.balance(t, account.ID))
	assert.Equal(t, float64(0), testutil.ToFloat64(env.svc.Metrics.completions.WithLabelValues(outcomeResumed)))
}

func TestCompleteOnDateSweepsTaskLeftByFailedDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")

	task, err := env.svc.Tasks.CreateTask(ctx, account.ID, readTask("2024-01-01"))
	require.NoError(t, err)
	ref := ports.DocRef{Account: account.ID, Collection: "tasks", ID: task.ID}

	env.store.FailDeletes("tasks", 1)

	result, err := env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-01-01")
	require.NoError(t, err)
	assert.True(t, result.Deleted)
	assert.Equal(t, int64(1), result.Credits)

	_, err = env.store.Get(ctx, ref)
	require.NoError(t, err, "the emptied task document survives the failed delete")

	tasks, err := env.svc.Tasks.ListTasks(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-01-01")
	assert.ErrorIs(t, err, entities.ErrNotFound)

	_, err = env.store.Get(ctx, ref)
	assert.ErrorIs(t, err, ports.ErrDocumentNotFound)
	assert.Equal(t, int64(1), env.balance(t, account.ID))
}

func TestCompleteOnDateRemoveFailureLeavesTaskAndBalance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")

	task, err := env.svc.Tasks.CreateTask(ctx, account.ID, readTask("2024-01-01"))
	require.NoError(t, err)

	env.store.FailUpdates("tasks", 1)

	_, err = env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-01-01")
	require.ErrorIs(t, err, entities.ErrUnavailable)
	assert.Equal(t, int64(0), env.balance(t, account.ID))

	_, err = env.svc.Tasks.GetTask(ctx, account.ID, task.ID)
	require.NoError(t, err)

	result, err := env.svc.Tasks.CompleteOnDate(ctx, account.ID, task.ID, "2024-01-01")
	require.NoError(t, err)
	assert.False(t, result.Resumed)
	assert.Equal(t, int64(1), result.Credits)
}

func TestCreateTaskValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")

	tests := []struct {
		name string
		req  ports.CreateTaskRequest
	}{
		{"empty name", ports.CreateTaskRequest{Name: " ", Duration: entities.Duration{Hours: 1}, Dates: []string{"2024-01-01"}}},
		{"zero duration", ports.CreateTaskRequest{Name: "Read", Dates: []string{"2024-01-01"}}},
		{"no dates", ports.CreateTaskRequest{Name: "Read", Duration: entities.Duration{Hours: 1}}},
		{"bad date", ports.CreateTaskRequest{Name: "Read", Duration: entities.Duration{Hours: 1}, Dates: []string{"2024-13-01"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Tasks.CreateTask(ctx, account.ID, tt.req)
			assert.ErrorIs(t, err, entities.ErrValidation)
		})
	}

	tasks, err := env.svc.Tasks.ListTasks(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCreateTaskSurvivesCallerCancellation(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task, err := env.svc.Tasks.CreateTask(ctx, account.ID, readTask("2024-01-01"))
	require.NoError(t, err)

	_, err = env.svc.Tasks.GetTask(context.Background(), account.ID, task.ID)
	assert.NoError(t, err)
}

func TestCreateTaskStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")

	env.store.FailCreates("tasks", 1)

	_, err := env.svc.Tasks.CreateTask(context.Background(), account.ID, readTask("2024-01-01"))
	require.Error(t, err)
	assert.ErrorIs(t, err, entities.ErrUnavailable)
	assert.True(t, errors.Is(err, errStoreDown))
}

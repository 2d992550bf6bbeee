package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/infrastructure/logger"
	"github.com/sapling/core/internal/ports"
)

// TaskService handles task-related operations
type TaskService struct {
	taskRepo       ports.TaskRepository
	completionRepo ports.CompletionRepository
	ledger         *LedgerService
	locks          *AccountLocks
	writeTimeout   time.Duration
	metrics        *Metrics
	logger         *logger.Logger
	now            func() time.Time
}

// NewTaskService creates a new task service
func NewTaskService(taskRepo ports.TaskRepository, completionRepo ports.CompletionRepository, ledger *LedgerService, locks *AccountLocks, writeTimeout time.Duration, metrics *Metrics, logger *logger.Logger) *TaskService {
	return &TaskService{
		taskRepo:       taskRepo,
		completionRepo: completionRepo,
		ledger:         ledger,
		locks:          locks,
		writeTimeout:   writeTimeout,
		metrics:        metrics,
		logger:         logger.WithComponent("tasks"),
		now:            time.Now,
	}
}

// CreateTask validates and persists a new task
func (s *TaskService) CreateTask(ctx context.Context, accountID string, req ports.CreateTaskRequest) (*entities.Task, error) {
	dates, err := entities.NewDateSet(req.Dates)
	if err != nil {
		return nil, err
	}

	task, err := entities.NewTask(uuid.New().String(), req.Name, req.Duration, dates, s.now().UTC())
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(accountID)
	defer unlock()

	wctx, cancel := detach(ctx, s.writeTimeout)
	defer cancel()

	if err := s.taskRepo.Create(wctx, accountID, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.logger.Infow("Task created successfully", "account_id", accountID, "task_id", task.ID, "dates", len(task.Dates))

	return task, nil
}

// GetTask retrieves an active task by ID
func (s *TaskService) GetTask(ctx context.Context, accountID, taskID string) (*entities.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, accountID, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns the account's active tasks in creation order
func (s *TaskService) ListTasks(ctx context.Context, accountID string) ([]*entities.Task, error) {
	tasks, err := s.taskRepo.List(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// TasksOnDate returns the active tasks scheduled on date in creation order.
func (s *TaskService) TasksOnDate(ctx context.Context, accountID, date string) ([]*entities.Task, error) {
	d, err := entities.ParseDate(date)
	if err != nil {
		return nil, err
	}

	tasks, err := s.taskRepo.ListOnDate(ctx, accountID, d)
	if err != nil {
		return nil, fmt.Errorf("list tasks on %s: %w", d, err)
	}
	return tasks, nil
}

// CompleteOnDate removes date from the task and mints one credit for it.
// The credit is minted only after the removal is committed. A completion
// whose mint was interrupted is finished when the call is repeated.
func (s *TaskService) CompleteOnDate(ctx context.Context, accountID, taskID, date string) (*ports.CompletionResult, error) {
	d, err := entities.ParseDate(date)
	if err != nil {
		s.metrics.completion(outcomeInvalid)
		return nil, err
	}

	unlock := s.locks.Lock(accountID)
	defer unlock()

	ctx, cancel := detach(ctx, s.writeTimeout)
	defer cancel()

	task, err := s.taskRepo.GetByID(ctx, accountID, taskID)
	if err != nil && !errors.Is(err, entities.ErrNotFound) {
		return nil, fmt.Errorf("get task: %w", err)
	}

	if task == nil || !task.OccursOn(d) {
		if task == nil {
			s.sweep(ctx, accountID, taskID)
		}
		state, err := s.completionRepo.Get(ctx, accountID, taskID, d)
		if err != nil {
			return nil, fmt.Errorf("get completion: %w", err)
		}
		if state == entities.CompletionPending {
			return s.resume(ctx, accountID, taskID, d, task)
		}
		s.metrics.completion(outcomeNotFound)
		if task == nil {
			return nil, entities.NewNotFoundError("task %s", taskID)
		}
		return nil, entities.NewNotFoundError("task %s is not scheduled on %s", taskID, d)
	}

	if err := task.CompleteDate(d); err != nil {
		return nil, err
	}

	if err := s.completionRepo.Begin(ctx, accountID, taskID, d); err != nil {
		s.metrics.completion(outcomeFailed)
		return nil, fmt.Errorf("journal completion: %w", err)
	}

	committed, err := s.taskRepo.RemoveDate(ctx, accountID, taskID, d)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			s.metrics.completion(outcomeNotFound)
		} else {
			s.metrics.completion(outcomeFailed)
		}
		return nil, fmt.Errorf("remove date: %w", err)
	}

	if committed.IsDeleted() {
		// The empty task is invisible to readers either way; a failed delete
		// leaves a tombstone, swept by the next completion call for the task,
		// and must not block the mint.
		if err := s.taskRepo.DeleteIfEmpty(ctx, accountID, taskID); err != nil {
			s.logger.Warnw("Failed to delete completed task", "account_id", accountID, "task_id", taskID, "error", err)
		}
	}

	ledger, _, err := s.finishMint(ctx, accountID, taskID, d)
	if err != nil {
		s.metrics.completion(outcomeFailed)
		return nil, err
	}

	s.metrics.completion(outcomeSuccess)
	s.logger.Infow("Task completed", "account_id", accountID, "task_id", taskID, "date", d, "deleted", committed.IsDeleted())

	return completionResult(committed, ledger, false), nil
}

// sweep deletes the document of a task whose dates are all completed, left
// behind when the delete in CompleteOnDate failed. It does not change the
// outcome of the call that triggers it.
func (s *TaskService) sweep(ctx context.Context, accountID, taskID string) {
	err := s.taskRepo.DeleteIfEmpty(ctx, accountID, taskID)
	if err != nil && !errors.Is(err, entities.ErrValidation) {
		s.logger.Warnw("Failed to delete completed task", "account_id", accountID, "task_id", taskID, "error", err)
	}
}

// resume finishes a completion whose date removal committed but whose
// mint did not. A pending journal entry whose key was already minted only
// lost its final update; the completion is done and the call is NotFound.
func (s *TaskService) resume(ctx context.Context, accountID, taskID string, d entities.CalendarDate, task *entities.Task) (*ports.CompletionResult, error) {
	ledger, minted, err := s.finishMint(ctx, accountID, taskID, d)
	if err != nil {
		s.metrics.completion(outcomeFailed)
		return nil, err
	}

	if !minted {
		s.metrics.completion(outcomeNotFound)
		return nil, entities.NewNotFoundError("task %s is not scheduled on %s", taskID, d)
	}

	s.metrics.completion(outcomeResumed)
	s.logger.Infow("Resumed interrupted completion", "account_id", accountID, "task_id", taskID, "date", d)

	if task == nil {
		task = entities.RestoreTask(taskID, "", entities.Duration{}, nil, time.Time{})
	}
	return completionResult(task, ledger, true), nil
}

// finishMint mints the credit for (task, date) and closes the journal entry.
// minted is false when the key had already been credited.
func (s *TaskService) finishMint(ctx context.Context, accountID, taskID string, d entities.CalendarDate) (ledger *entities.Ledger, minted bool, err error) {
	ledger, minted, err = s.ledger.mint(ctx, accountID, MintKey(accountID, taskID, d))
	if err != nil {
		return nil, false, fmt.Errorf("mint completion credit: %w", err)
	}

	if err := s.completionRepo.MarkMinted(ctx, accountID, taskID, d); err != nil {
		// The mint key still guards against a second credit.
		s.logger.Warnw("Failed to mark completion minted", "account_id", accountID, "task_id", taskID, "date", d, "error", err)
	}

	return ledger, minted, nil
}

func completionResult(task *entities.Task, ledger *entities.Ledger, resumed bool) *ports.CompletionResult {
	result := &ports.CompletionResult{
		Deleted: task.IsDeleted(),
		Credits: ledger.Credits,
		Resumed: resumed,
	}
	if !task.IsDeleted() {
		result.Task = task
	}
	return result
}

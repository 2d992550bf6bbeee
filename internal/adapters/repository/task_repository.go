package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/ports"
)

const fieldDates = "dates"

type taskDocument struct {
	Name      string            `json:"name"`
	Duration  entities.Duration `json:"duration"`
	Dates     []string          `json:"dates"`
	CreatedAt time.Time         `json:"created_at"`
}

func decodeTask(doc *ports.Document) (*entities.Task, error) {
	var d taskDocument
	if err := doc.Decode(&d); err != nil {
		return nil, err
	}
	dates, err := entities.NewDateSet(d.Dates)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", doc.Ref.ID, err)
	}
	return entities.RestoreTask(doc.Ref.ID, d.Name, d.Duration, dates, d.CreatedAt), nil
}

// decodeActive drops tasks whose date set is already empty.
func decodeActive(docs []*ports.Document) ([]*entities.Task, error) {
	tasks := make([]*entities.Task, 0, len(docs))
	for _, doc := range docs {
		task, err := decodeTask(doc)
		if err != nil {
			return nil, err
		}
		if task.IsDeleted() {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// TaskRepositoryImpl implements the TaskRepository interface
type TaskRepositoryImpl struct {
	store ports.DocumentStore
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(store ports.DocumentStore) ports.TaskRepository {
	return &TaskRepositoryImpl{store: store}
}

func (r *TaskRepositoryImpl) Create(ctx context.Context, accountID string, task *entities.Task) error {
	fields, err := ports.FieldsOf(taskDocument{
		Name:      task.Name,
		Duration:  task.Duration,
		Dates:     task.Dates.Strings(),
		CreatedAt: task.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	if _, err := r.store.Create(ctx, taskRef(accountID, task.ID), fields); err != nil {
		return unavailable("create task", err)
	}

	return nil
}

func (r *TaskRepositoryImpl) GetByID(ctx context.Context, accountID, taskID string) (*entities.Task, error) {
	doc, err := r.store.Get(ctx, taskRef(accountID, taskID))
	if err != nil {
		if isNotFound(err) {
			return nil, entities.NewNotFoundError("task %s", taskID)
		}
		return nil, unavailable("get task", err)
	}

	task, err := decodeTask(doc)
	if err != nil {
		return nil, unavailable("decode task", err)
	}
	if task.IsDeleted() {
		return nil, entities.NewNotFoundError("task %s", taskID)
	}

	return task, nil
}

func (r *TaskRepositoryImpl) RemoveDate(ctx context.Context, accountID, taskID string, date entities.CalendarDate) (*entities.Task, error) {
	doc, err := r.store.Update(ctx, taskRef(accountID, taskID), ports.Update{
		Ops:        []ports.FieldOp{ports.ArrayRemove(fieldDates, date.String())},
		Conditions: []ports.Condition{ports.FieldContains(fieldDates, date.String())},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, entities.NewNotFoundError("task %s", taskID)
		}
		if isPreconditionFailed(err) {
			return nil, entities.NewNotFoundError("task %s is not scheduled on %s", taskID, date)
		}
		return nil, unavailable("remove task date", err)
	}

	task, err := decodeTask(doc)
	if err != nil {
		return nil, unavailable("decode task", err)
	}

	return task, nil
}

func (r *TaskRepositoryImpl) DeleteIfEmpty(ctx context.Context, accountID, taskID string) error {
	err := r.store.Delete(ctx, taskRef(accountID, taskID), ports.FieldEmpty(fieldDates))
	switch {
	case err == nil, isNotFound(err):
		return nil
	case isPreconditionFailed(err):
		return entities.NewValidationError("task %s still has scheduled dates", taskID)
	default:
		return unavailable("delete task", err)
	}
}

func (r *TaskRepositoryImpl) List(ctx context.Context, accountID string) ([]*entities.Task, error) {
	docs, err := r.store.Query(ctx, ports.Query{Account: accountID, Collection: CollectionTasks})
	if err != nil {
		return nil, unavailable("list tasks", err)
	}

	tasks, err := decodeActive(docs)
	if err != nil {
		return nil, unavailable("decode tasks", err)
	}

	return tasks, nil
}

func (r *TaskRepositoryImpl) ListOnDate(ctx context.Context, accountID string, date entities.CalendarDate) ([]*entities.Task, error) {
	docs, err := r.store.Query(ctx, ports.Query{
		Account:    accountID,
		Collection: CollectionTasks,
		Filters:    []ports.Filter{{Field: fieldDates, Op: ports.FilterArrayContains, Value: date.String()}},
	})
	if err != nil {
		return nil, unavailable("list tasks on date", err)
	}

	tasks, err := decodeActive(docs)
	if err != nil {
		return nil, unavailable("decode tasks", err)
	}

	return tasks, nil
}

// Watch streams the account's active tasks after every committed change.
func (r *TaskRepositoryImpl) Watch(ctx context.Context, accountID string) (*ports.Feed[[]*entities.Task], error) {
	sub, err := r.store.WatchQuery(ctx, ports.Query{Account: accountID, Collection: CollectionTasks})
	if err != nil {
		return nil, unavailable("watch tasks", err)
	}

	return watch(ctx, "watch tasks", sub, func(snap ports.Snapshot) ([]*entities.Task, error) {
		return decodeActive(snap.Documents)
	}), nil
}

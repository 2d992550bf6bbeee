package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/infrastructure/logger"
	"github.com/sapling/core/internal/ports"
)

// ScheduleService projects an account's tasks onto calendar dates
type ScheduleService struct {
	taskRepo ports.TaskRepository
	logger   *logger.Logger
}

// NewScheduleService creates a new schedule service
func NewScheduleService(taskRepo ports.TaskRepository, logger *logger.Logger) *ScheduleService {
	return &ScheduleService{
		taskRepo: taskRepo,
		logger:   logger.WithComponent("schedule"),
	}
}

// project keeps the tasks scheduled on d, in insertion order.
func project(d entities.CalendarDate, tasks []*entities.Task) *entities.Schedule {
	schedule := &entities.Schedule{Date: d, Tasks: make([]*entities.ScheduledTask, 0, len(tasks))}
	for _, t := range tasks {
		if t.OccursOn(d) {
			schedule.Tasks = append(schedule.Tasks, &entities.ScheduledTask{Task: t, Completed: false})
		}
	}
	return schedule
}

// TasksOnDate returns the committed projection for date.
func (s *ScheduleService) TasksOnDate(ctx context.Context, accountID, date string) (*entities.Schedule, error) {
	d, err := entities.ParseDate(date)
	if err != nil {
		return nil, err
	}

	tasks, err := s.taskRepo.ListOnDate(ctx, accountID, d)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", d, err)
	}

	return project(d, tasks), nil
}

// Watch pushes a recomputed projection for date after every committed task
// change. The first value is the current projection.
func (s *ScheduleService) Watch(ctx context.Context, accountID, date string) (*ports.Feed[*entities.Schedule], error) {
	d, err := entities.ParseDate(date)
	if err != nil {
		return nil, err
	}

	tasks, err := s.taskRepo.Watch(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("watch schedule %s: %w", d, err)
	}

	out := make(chan *entities.Schedule, 1)
	done := make(chan struct{})

	var once sync.Once
	feed := ports.NewFeed[*entities.Schedule](out, func() error {
		once.Do(func() { close(done) })
		return tasks.Close()
	})

	go func() {
		defer close(out)
		for list := range tasks.C {
			select {
			case out <- project(d, list):
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
		if err := tasks.Err(); err != nil {
			s.logger.Warnw("Schedule subscription failed", "account_id", accountID, "date", d, "error", err)
			feed.Fail(fmt.Errorf("watch schedule %s: %w", d, err))
		}
	}()

	s.logger.Debugw("Schedule subscription opened", "account_id", accountID, "date", d)

	return feed, nil
}

package entities

import (
	"fmt"
	"strings"
	"time"
)

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskActive  TaskState = "active"
	TaskDeleted TaskState = "deleted"
)

// CompletionState tracks a (task, date) completion through its two writes.
type CompletionState string

const (
	CompletionPending CompletionState = "pending"
	CompletionMinted  CompletionState = "minted"
)

// Account represents an authenticated user of the system
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Duration is the time a task takes each time it recurs.
type Duration struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// Validate rejects negative parts and the zero duration.
func (d Duration) Validate() error {
	if d.Hours < 0 || d.Minutes < 0 {
		return NewValidationError("duration cannot be negative")
	}
	if d.Hours == 0 && d.Minutes == 0 {
		return NewValidationError("duration must be greater than 0 hours and 0 minutes")
	}
	return nil
}

func (d Duration) String() string {
	parts := make([]string, 0, 2)
	if d.Hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", d.Hours))
	}
	if d.Minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", d.Minutes))
	}
	return strings.Join(parts, " ")
}

// Task is a named, timed activity recurring on a set of calendar dates.
// An active task always has at least one date; removing the last one moves
// it to TaskDeleted and it must not be observed afterwards.
type Task struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Duration  Duration  `json:"duration"`
	Dates     DateSet   `json:"dates"`
	CreatedAt time.Time `json:"created_at"`
	state     TaskState
}

// NewTask validates the inputs and returns an active task.
func NewTask(id, name string, duration Duration, dates DateSet, now time.Time) (*Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewValidationError("task name is required")
	}
	if err := duration.Validate(); err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, NewValidationError("at least one date is required")
	}
	return &Task{
		ID:        id,
		Name:      name,
		Duration:  duration,
		Dates:     dates,
		CreatedAt: now,
		state:     TaskActive,
	}, nil
}

// RestoreTask rebuilds a task read from storage. An empty date set yields a
// deleted task.
func RestoreTask(id, name string, duration Duration, dates DateSet, createdAt time.Time) *Task {
	t := &Task{ID: id, Name: name, Duration: duration, Dates: dates, CreatedAt: createdAt, state: TaskActive}
	if len(dates) == 0 {
		t.state = TaskDeleted
	}
	return t
}

// State returns the lifecycle state.
func (t *Task) State() TaskState {
	if t.state == "" {
		return TaskActive
	}
	return t.state
}

// IsDeleted reports whether the task reached its terminal state.
func (t *Task) IsDeleted() bool {
	return t.State() == TaskDeleted
}

// CompleteDate removes d from the date set, deleting the task when the set
// becomes empty.
func (t *Task) CompleteDate(d CalendarDate) error {
	if t.IsDeleted() {
		return NewNotFoundError("task %s", t.ID)
	}
	if !t.Dates.Contains(d) {
		return NewNotFoundError("task %s is not scheduled on %s", t.ID, d)
	}
	t.Dates = t.Dates.Without(d)
	if len(t.Dates) == 0 {
		t.state = TaskDeleted
	}
	return nil
}

// OccursOn reports whether an active task is scheduled on d.
func (t *Task) OccursOn(d CalendarDate) bool {
	return !t.IsDeleted() && t.Dates.Contains(d)
}

// Ledger is the committed credit state of an account.
type Ledger struct {
	Credits        int64 `json:"credits"`
	CompletedTasks int64 `json:"completed_tasks"`
	Version        int64 `json:"version"`
}

// CatalogTree is a purchasable tree type. Catalog entries are immutable.
type CatalogTree struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Price int64  `json:"price" yaml:"price"`
	Icon  string `json:"icon" yaml:"icon"`
}

// Validate checks a catalog entry loaded from configuration.
func (c CatalogTree) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return NewValidationError("catalog entry id is required")
	}
	if c.Price < 0 {
		return NewValidationError("catalog entry %s has negative price", c.ID)
	}
	return nil
}

// OwnedTree is a purchased, user-named instance of a catalog tree.
// Price and icon are copied from the catalog at purchase time.
type OwnedTree struct {
	InstanceID  string    `json:"instance_id"`
	CatalogID   string    `json:"catalog_id"`
	Title       string    `json:"title"`
	Price       int64     `json:"price"`
	Icon        string    `json:"icon"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// AccountStats is the read-only view another account may query.
type AccountStats struct {
	Email          string       `json:"email"`
	Credits        int64        `json:"credits"`
	CompletedTasks int64        `json:"completed_tasks"`
	Trees          []*OwnedTree `json:"trees"`
}

// ScheduledTask pairs a task with its checkbox state for one date. Completed
// is always false because completion removes the date.
type ScheduledTask struct {
	Task      *Task `json:"task"`
	Completed bool  `json:"completed"`
}

// Schedule is the projection of active tasks onto one date.
type Schedule struct {
	Date  CalendarDate     `json:"date"`
	Tasks []*ScheduledTask `json:"tasks"`
}

// NormalizeEmail lowercases and trims an email for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package ports

import (
	"context"
	"sync"
	"time"

	"github.com/sapling/core/internal/domain/entities"
)

// AccountRepository defines the interface for account profile operations
type AccountRepository interface {
	Create(ctx context.Context, account *entities.Account) error
	GetByID(ctx context.Context, id string) (*entities.Account, error)
	GetByEmail(ctx context.Context, email string) (*entities.Account, error)
	Delete(ctx context.Context, id string) error
}

// TaskRepository defines the interface for task data operations
type TaskRepository interface {
	Create(ctx context.Context, accountID string, task *entities.Task) error
	GetByID(ctx context.Context, accountID, taskID string) (*entities.Task, error)
	// RemoveDate removes date only if it is still present and returns the
	// committed task, which may have an empty date set.
	RemoveDate(ctx context.Context, accountID, taskID string, date entities.CalendarDate) (*entities.Task, error)
	// DeleteIfEmpty deletes the task only when its date set is empty.
	DeleteIfEmpty(ctx context.Context, accountID, taskID string) error
	List(ctx context.Context, accountID string) ([]*entities.Task, error)
	ListOnDate(ctx context.Context, accountID string, date entities.CalendarDate) ([]*entities.Task, error)
	Watch(ctx context.Context, accountID string) (*Feed[[]*entities.Task], error)
}

// LedgerRepository defines the interface for credit ledger operations
type LedgerRepository interface {
	Init(ctx context.Context, accountID string) error
	Get(ctx context.Context, accountID string) (*entities.Ledger, error)
	Increment(ctx context.Context, accountID string, credits, completed int64) (*entities.Ledger, error)
	// DebitIfSufficient fails with an InsufficientFundsError, leaving the
	// balance untouched, when amount exceeds the committed balance.
	DebitIfSufficient(ctx context.Context, accountID string, amount int64) (*entities.Ledger, error)
	Watch(ctx context.Context, accountID string) (*Feed[*entities.Ledger], error)
}

// TreeRepository defines the interface for owned tree operations
type TreeRepository interface {
	Create(ctx context.Context, accountID string, tree *entities.OwnedTree) error
	Delete(ctx context.Context, accountID, instanceID string) error
	List(ctx context.Context, accountID string) ([]*entities.OwnedTree, error)
}

// FriendRepository defines the interface for followed-account references
type FriendRepository interface {
	Init(ctx context.Context, accountID string) error
	Add(ctx context.Context, accountID, email string) ([]string, error)
	Remove(ctx context.Context, accountID, email string) ([]string, error)
	List(ctx context.Context, accountID string) ([]string, error)
}

// CompletionRepository journals (task, date) completions so an interrupted
// credit mint can be resumed.
type CompletionRepository interface {
	Begin(ctx context.Context, accountID, taskID string, date entities.CalendarDate) error
	Get(ctx context.Context, accountID, taskID string, date entities.CalendarDate) (entities.CompletionState, error)
	MarkMinted(ctx context.Context, accountID, taskID string, date entities.CalendarDate) error
}

// IdempotencyStore records keys of operations that must apply at most once.
type IdempotencyStore interface {
	// Claim returns false when the key was already claimed.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Feed is a typed subscription built on a document store Subscription.
// C closes when the consumer calls Close, its context ends, or the producer
// fails; Err tells the last case apart.
type Feed[T any] struct {
	C       <-chan T
	closeFn func() error
	once    sync.Once
	err     error

	mu      sync.Mutex
	failure error
}

// NewFeed wraps a channel and the function that releases it.
func NewFeed[T any](c <-chan T, closeFn func() error) *Feed[T] {
	return &Feed[T]{C: c, closeFn: closeFn}
}

// Fail records why the producer is ending the feed. Call it before closing
// the channel behind C.
func (f *Feed[T]) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure == nil {
		f.failure = err
	}
}

// Err returns the failure that ended the feed, or nil when it was closed by
// the consumer or is still open.
func (f *Feed[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failure
}

// Close releases the underlying subscription.
func (f *Feed[T]) Close() error {
	f.once.Do(func() {
		if f.closeFn != nil {
			f.err = f.closeFn()
		}
	})
	return f.err
}

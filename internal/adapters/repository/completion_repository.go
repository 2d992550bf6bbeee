package repository

import (
	"context"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/ports"
)

const fieldState = "state"

// CompletionRepositoryImpl implements the CompletionRepository interface
type CompletionRepositoryImpl struct {
	store ports.DocumentStore
}

// NewCompletionRepository creates a new completion journal repository
func NewCompletionRepository(store ports.DocumentStore) ports.CompletionRepository {
	return &CompletionRepositoryImpl{store: store}
}

// Begin journals a pending completion. An existing entry is left as is.
func (r *CompletionRepositoryImpl) Begin(ctx context.Context, accountID, taskID string, date entities.CalendarDate) error {
	fields := map[string]interface{}{
		"task_id":  taskID,
		"date":     date.String(),
		fieldState: string(entities.CompletionPending),
	}
	if _, err := r.store.Create(ctx, completionRef(accountID, taskID, date), fields); err != nil && !isAlreadyExists(err) {
		return unavailable("journal completion", err)
	}
	return nil
}

// Get returns the journaled state, or "" when nothing was journaled.
func (r *CompletionRepositoryImpl) Get(ctx context.Context, accountID, taskID string, date entities.CalendarDate) (entities.CompletionState, error) {
	doc, err := r.store.Get(ctx, completionRef(accountID, taskID, date))
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", unavailable("get completion", err)
	}

	state, _ := doc.Fields[fieldState].(string)
	return entities.CompletionState(state), nil
}

func (r *CompletionRepositoryImpl) MarkMinted(ctx context.Context, accountID, taskID string, date entities.CalendarDate) error {
	_, err := r.store.Update(ctx, completionRef(accountID, taskID, date), ports.Update{
		Ops:    []ports.FieldOp{ports.SetField(fieldState, string(entities.CompletionMinted))},
		Upsert: true,
	})
	if err != nil {
		return unavailable("mark completion minted", err)
	}
	return nil
}

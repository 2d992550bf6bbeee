package repository

import (
	"context"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/ports"
)

const (
	fieldCredits        = "credits"
	fieldCompletedTasks = "completedTasks"
)

type statsDocument struct {
	Credits        int64 `json:"credits"`
	CompletedTasks int64 `json:"completedTasks"`
}

// decodeLedger treats a missing stats document as a zero balance.
func decodeLedger(doc *ports.Document) (*entities.Ledger, error) {
	if doc == nil {
		return &entities.Ledger{}, nil
	}
	var d statsDocument
	if err := doc.Decode(&d); err != nil {
		return nil, err
	}
	return &entities.Ledger{Credits: d.Credits, CompletedTasks: d.CompletedTasks, Version: doc.Version}, nil
}

// LedgerRepositoryImpl implements the LedgerRepository interface
type LedgerRepositoryImpl struct {
	store ports.DocumentStore
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(store ports.DocumentStore) ports.LedgerRepository {
	return &LedgerRepositoryImpl{store: store}
}

// Init creates the stats document with a zero balance if it does not exist.
func (r *LedgerRepositoryImpl) Init(ctx context.Context, accountID string) error {
	fields, err := ports.FieldsOf(statsDocument{})
	if err != nil {
		return err
	}
	if _, err := r.store.Create(ctx, statsRef(accountID), fields); err != nil && !isAlreadyExists(err) {
		return unavailable("init ledger", err)
	}
	return nil
}

func (r *LedgerRepositoryImpl) Get(ctx context.Context, accountID string) (*entities.Ledger, error) {
	doc, err := r.store.Get(ctx, statsRef(accountID))
	if err != nil {
		if isNotFound(err) {
			return &entities.Ledger{}, nil
		}
		return nil, unavailable("get ledger", err)
	}

	ledger, err := decodeLedger(doc)
	if err != nil {
		return nil, unavailable("decode ledger", err)
	}

	return ledger, nil
}

func (r *LedgerRepositoryImpl) Increment(ctx context.Context, accountID string, credits, completed int64) (*entities.Ledger, error) {
	ops := []ports.FieldOp{ports.Increment(fieldCredits, credits)}
	if completed != 0 {
		ops = append(ops, ports.Increment(fieldCompletedTasks, completed))
	}

	doc, err := r.store.Update(ctx, statsRef(accountID), ports.Update{Ops: ops, Upsert: true})
	if err != nil {
		return nil, unavailable("increment ledger", err)
	}

	ledger, err := decodeLedger(doc)
	if err != nil {
		return nil, unavailable("decode ledger", err)
	}

	return ledger, nil
}

func (r *LedgerRepositoryImpl) DebitIfSufficient(ctx context.Context, accountID string, amount int64) (*entities.Ledger, error) {
	doc, err := r.store.Update(ctx, statsRef(accountID), ports.Update{
		Ops:        []ports.FieldOp{ports.Increment(fieldCredits, -amount)},
		Conditions: []ports.Condition{ports.FieldAtLeast(fieldCredits, amount)},
		Upsert:     true,
	})
	if err != nil {
		if isPreconditionFailed(err) {
			current, getErr := r.Get(ctx, accountID)
			if getErr != nil {
				return nil, getErr
			}
			return nil, entities.NewInsufficientFundsError(amount, current.Credits)
		}
		return nil, unavailable("debit ledger", err)
	}

	ledger, err := decodeLedger(doc)
	if err != nil {
		return nil, unavailable("decode ledger", err)
	}

	return ledger, nil
}

// Watch streams the committed ledger after every change to the stats document.
func (r *LedgerRepositoryImpl) Watch(ctx context.Context, accountID string) (*ports.Feed[*entities.Ledger], error) {
	sub, err := r.store.Watch(ctx, statsRef(accountID))
	if err != nil {
		return nil, unavailable("watch ledger", err)
	}

	return watch(ctx, "watch ledger", sub, func(snap ports.Snapshot) (*entities.Ledger, error) {
		return decodeLedger(snap.Document)
	}), nil
}

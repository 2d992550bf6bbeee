package services

import (
	"context"
	"sync"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/ports"
)

// DeltaHandle identifies one optimistic balance change.
type DeltaHandle uint64

type pendingDelta struct {
	amount int64
	// version is the ledger version that committed the delta, 0 until known.
	version int64
}

// BalanceView is one consumer's view of an account balance. Optimistic
// deltas are shown immediately and dropped once a committed snapshot at or
// past their version arrives. Nothing optimistic is ever written back.
//
// BalanceView is a library type for in-process consumers that hold local
// deltas, such as an embedding client. The HTTP server streams committed
// snapshots only and does not construct one.
type BalanceView struct {
	ledger    *LedgerService
	accountID string

	mu        sync.Mutex
	committed entities.Ledger
	pending   map[DeltaHandle]*pendingDelta
	next      DeltaHandle
	changed   chan struct{}

	feed *ports.Feed[*entities.Ledger]
	done chan struct{}
}

// NewBalanceView subscribes to the account's ledger. Close releases the
// subscription.
func NewBalanceView(ctx context.Context, ledger *LedgerService, accountID string) (*BalanceView, error) {
	feed, err := ledger.Watch(ctx, accountID)
	if err != nil {
		return nil, err
	}

	v := &BalanceView{
		ledger:    ledger,
		accountID: accountID,
		pending:   make(map[DeltaHandle]*pendingDelta),
		changed:   make(chan struct{}, 1),
		feed:      feed,
		done:      make(chan struct{}),
	}

	go func() {
		defer close(v.done)
		for snapshot := range feed.C {
			v.Reconcile(*snapshot)
		}
	}()

	return v, nil
}

// Apply records an optimistic delta and returns its handle.
func (v *BalanceView) Apply(amount int64) DeltaHandle {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.next++
	v.pending[v.next] = &pendingDelta{amount: amount}
	v.notify()
	return v.next
}

// Settle attaches the committed ledger version to a delta. A delta already
// covered by the committed snapshot is dropped at once.
func (v *BalanceView) Settle(h DeltaHandle, version int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	d, ok := v.pending[h]
	if !ok {
		return
	}
	if version <= v.committed.Version {
		delete(v.pending, h)
	} else {
		d.version = version
	}
	v.notify()
}

// Discard drops a delta whose write failed.
func (v *BalanceView) Discard(h DeltaHandle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.pending, h)
	v.notify()
}

// Reconcile adopts a committed snapshot. Older snapshots are ignored.
func (v *BalanceView) Reconcile(l entities.Ledger) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if l.Version < v.committed.Version {
		return
	}
	v.committed = l
	for h, d := range v.pending {
		if d.version != 0 && d.version <= l.Version {
			delete(v.pending, h)
		}
	}
	v.notify()
}

func (v *BalanceView) notify() {
	select {
	case v.changed <- struct{}{}:
	default:
	}
}

// Balance returns the committed balance plus every pending delta.
func (v *BalanceView) Balance() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	total := v.committed.Credits
	for _, d := range v.pending {
		total += d.amount
	}
	return total
}

// Committed returns the last committed ledger seen.
func (v *BalanceView) Committed() entities.Ledger {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.committed
}

// Pending returns the number of unsettled deltas.
func (v *BalanceView) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// Changed is signalled after every change to the view.
func (v *BalanceView) Changed() <-chan struct{} {
	return v.changed
}

// Credit applies amount optimistically, then commits it through the ledger.
func (v *BalanceView) Credit(ctx context.Context, amount int64) (*entities.Ledger, error) {
	return v.write(amount, func() (*entities.Ledger, error) {
		return v.ledger.Credit(ctx, v.accountID, amount)
	})
}

// Debit applies -amount optimistically, then commits it through the ledger.
func (v *BalanceView) Debit(ctx context.Context, amount int64) (*entities.Ledger, error) {
	return v.write(-amount, func() (*entities.Ledger, error) {
		return v.ledger.Debit(ctx, v.accountID, amount)
	})
}

func (v *BalanceView) write(delta int64, commit func() (*entities.Ledger, error)) (*entities.Ledger, error) {
	h := v.Apply(delta)
	ledger, err := commit()
	if err != nil {
		v.Discard(h)
		return nil, err
	}
	v.Settle(h, ledger.Version)
	return ledger, nil
}

// Close releases the ledger subscription.
func (v *BalanceView) Close() error {
	err := v.feed.Close()
	<-v.done
	return err
}

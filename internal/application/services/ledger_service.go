package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/infrastructure/config"
	"github.com/sapling/core/internal/infrastructure/logger"
	"github.com/sapling/core/internal/ports"
)

// LedgerService owns every credit balance change
type LedgerService struct {
	ledgerRepo   ports.LedgerRepository
	idempotency  ports.IdempotencyStore
	locks        *AccountLocks
	claimTTL     time.Duration
	writeTimeout time.Duration
	metrics      *Metrics
	logger       *logger.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(ledgerRepo ports.LedgerRepository, idempotency ports.IdempotencyStore, locks *AccountLocks, cfg config.LedgerConfig, writeTimeout time.Duration, metrics *Metrics, logger *logger.Logger) *LedgerService {
	return &LedgerService{
		ledgerRepo:   ledgerRepo,
		idempotency:  idempotency,
		locks:        locks,
		claimTTL:     cfg.IdempotencyTTL,
		writeTimeout: writeTimeout,
		metrics:      metrics,
		logger:       logger.WithComponent("ledger"),
	}
}

// MintKey identifies the single credit a (task, date) completion earns.
func MintKey(accountID, taskID string, date entities.CalendarDate) string {
	return fmt.Sprintf("mint:%s:%s:%s", accountID, taskID, date)
}

// Credit adds amount to the balance.
func (s *LedgerService) Credit(ctx context.Context, accountID string, amount int64) (*entities.Ledger, error) {
	if amount <= 0 {
		return nil, entities.NewValidationError("credit amount must be positive, got %d", amount)
	}

	unlock := s.locks.Lock(accountID)
	defer unlock()

	ctx, cancel := detach(ctx, s.writeTimeout)
	defer cancel()

	return s.credit(ctx, accountID, amount)
}

func (s *LedgerService) credit(ctx context.Context, accountID string, amount int64) (*entities.Ledger, error) {
	ledger, err := s.ledgerRepo.Increment(ctx, accountID, amount, 0)
	if err != nil {
		return nil, fmt.Errorf("credit %d: %w", amount, err)
	}

	s.logger.Infow("Credits added", "account_id", accountID, "amount", amount, "balance", ledger.Credits)
	return ledger, nil
}

// Debit subtracts amount, failing with an insufficient funds error and
// leaving the balance untouched when amount exceeds it.
func (s *LedgerService) Debit(ctx context.Context, accountID string, amount int64) (*entities.Ledger, error) {
	if amount <= 0 {
		return nil, entities.NewValidationError("debit amount must be positive, got %d", amount)
	}

	unlock := s.locks.Lock(accountID)
	defer unlock()

	ctx, cancel := detach(ctx, s.writeTimeout)
	defer cancel()

	return s.debit(ctx, accountID, amount)
}

func (s *LedgerService) debit(ctx context.Context, accountID string, amount int64) (*entities.Ledger, error) {
	ledger, err := s.ledgerRepo.DebitIfSufficient(ctx, accountID, amount)
	if err != nil {
		return nil, fmt.Errorf("debit %d: %w", amount, err)
	}

	s.metrics.spent(amount)
	s.logger.Infow("Credits debited", "account_id", accountID, "amount", amount, "balance", ledger.Credits)
	return ledger, nil
}

// Balance returns the committed ledger.
func (s *LedgerService) Balance(ctx context.Context, accountID string) (*entities.Ledger, error) {
	ledger, err := s.ledgerRepo.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return ledger, nil
}

// Mint adds one credit and one completed task for key, at most once. The
// returned flag is false when key had already been minted.
func (s *LedgerService) Mint(ctx context.Context, accountID, key string) (*entities.Ledger, bool, error) {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	ctx, cancel := detach(ctx, s.writeTimeout)
	defer cancel()

	return s.mint(ctx, accountID, key)
}

func (s *LedgerService) mint(ctx context.Context, accountID, key string) (*entities.Ledger, bool, error) {
	claimed, err := s.idempotency.Claim(ctx, key, s.claimTTL)
	if err != nil {
		return nil, false, entities.NewUnavailableError("claim mint key", err)
	}

	if !claimed {
		s.logger.Infow("Mint already applied", "account_id", accountID, "key", key)
		ledger, err := s.Balance(ctx, accountID)
		return ledger, false, err
	}

	ledger, err := s.ledgerRepo.Increment(ctx, accountID, 1, 1)
	if err != nil {
		// Give the key back so a retry can mint.
		if releaseErr := s.idempotency.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
			s.logger.Errorw("Failed to release mint key", "account_id", accountID, "key", key, "error", releaseErr)
		}
		return nil, false, fmt.Errorf("mint credit: %w", err)
	}

	s.metrics.minted(1)
	s.logger.Infow("Credit minted", "account_id", accountID, "key", key, "balance", ledger.Credits)
	return ledger, true, nil
}

// Watch streams committed ledger snapshots until ctx ends or the feed is
// closed.
func (s *LedgerService) Watch(ctx context.Context, accountID string) (*ports.Feed[*entities.Ledger], error) {
	feed, err := s.ledgerRepo.Watch(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("watch balance: %w", err)
	}
	return feed, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/infrastructure/logger"
	"github.com/sapling/core/internal/ports"
)

// TreeService handles the tree catalog and owned trees
type TreeService struct {
	catalog      ports.TreeCatalog
	treeRepo     ports.TreeRepository
	ledger       *LedgerService
	locks        *AccountLocks
	writeTimeout time.Duration
	metrics      *Metrics
	logger       *logger.Logger
	now          func() time.Time
}

// NewTreeService creates a new tree service
func NewTreeService(catalog ports.TreeCatalog, treeRepo ports.TreeRepository, ledger *LedgerService, locks *AccountLocks, writeTimeout time.Duration, metrics *Metrics, logger *logger.Logger) *TreeService {
	return &TreeService{
		catalog:      catalog,
		treeRepo:     treeRepo,
		ledger:       ledger,
		locks:        locks,
		writeTimeout: writeTimeout,
		metrics:      metrics,
		logger:       logger.WithComponent("trees"),
		now:          time.Now,
	}
}

// Catalog returns the purchasable trees
func (s *TreeService) Catalog() []entities.CatalogTree {
	return s.catalog.List()
}

// Purchase debits the catalog price and records a new owned tree. If the
// tree cannot be recorded the price is credited back.
func (s *TreeService) Purchase(ctx context.Context, accountID string, req ports.PurchaseTreeRequest) (*ports.PurchaseResult, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		s.metrics.purchase(outcomeInvalid)
		return nil, entities.NewValidationError("tree title is required")
	}

	entry, ok := s.catalog.Get(req.CatalogID)
	if !ok {
		s.metrics.purchase(outcomeNotFound)
		return nil, entities.NewNotFoundError("catalog tree %s", req.CatalogID)
	}

	instanceID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate tree id: %w", err)
	}

	unlock := s.locks.Lock(accountID)
	defer unlock()

	ctx, cancel := detach(ctx, s.writeTimeout)
	defer cancel()

	var ledger *entities.Ledger
	if entry.Price > 0 {
		ledger, err = s.ledger.debit(ctx, accountID, entry.Price)
		if err != nil {
			if errors.Is(err, entities.ErrInsufficientFunds) {
				s.metrics.purchase(outcomeInsufficient)
			} else {
				s.metrics.purchase(outcomeFailed)
			}
			return nil, fmt.Errorf("pay for %s: %w", entry.ID, err)
		}
	} else {
		ledger, err = s.ledger.Balance(ctx, accountID)
		if err != nil {
			return nil, err
		}
	}

	tree := &entities.OwnedTree{
		InstanceID:  instanceID.String(),
		CatalogID:   entry.ID,
		Title:       title,
		Price:       entry.Price,
		Icon:        entry.Icon,
		PurchasedAt: s.now().UTC(),
	}

	if err := s.treeRepo.Create(ctx, accountID, tree); err != nil {
		log := s.logger.WithAccount(accountID)
		if entry.Price > 0 {
			if _, creditErr := s.ledger.credit(ctx, accountID, entry.Price); creditErr != nil {
				s.metrics.purchase(outcomeFailed)
				log.Errorw("Compensating credit failed, purchase price lost",
					"catalog_id", entry.ID, "amount", entry.Price,
					"error", creditErr, "cause", err)
				return nil, entities.NewUnavailableError("record purchased tree", err)
			}
		}
		s.metrics.purchase(outcomeCompensated)
		log.Warnw("Purchase rolled back", "catalog_id", entry.ID, "error", err)
		return nil, entities.NewUnavailableError("record purchased tree", err)
	}

	s.metrics.purchase(outcomeSuccess)
	s.logger.LogAccountAction(accountID, "purchase_tree", map[string]interface{}{
		"catalog_id":  entry.ID,
		"instance_id": tree.InstanceID,
		"price":       entry.Price,
	})

	return &ports.PurchaseResult{Tree: tree, Credits: ledger.Credits}, nil
}

// Remove deletes an owned tree. No credits are refunded.
func (s *TreeService) Remove(ctx context.Context, accountID, instanceID string) error {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	ctx, cancel := detach(ctx, s.writeTimeout)
	defer cancel()

	if err := s.treeRepo.Delete(ctx, accountID, instanceID); err != nil {
		return fmt.Errorf("remove tree: %w", err)
	}

	s.logger.LogAccountAction(accountID, "remove_tree", map[string]interface{}{"instance_id": instanceID})
	return nil
}

// ListOwned returns the account's trees in purchase order
func (s *TreeService) ListOwned(ctx context.Context, accountID string) ([]*entities.OwnedTree, error) {
	trees, err := s.treeRepo.List(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list trees: %w", err)
	}
	return trees, nil
}

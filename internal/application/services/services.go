package services

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sapling/core/internal/adapters/repository"
	"github.com/sapling/core/internal/infrastructure/config"
	"github.com/sapling/core/internal/infrastructure/logger"
	"github.com/sapling/core/internal/ports"
)

// Services bundles the application services sharing one document store
// and one per-account lock table.
type Services struct {
	Auth     *AuthService
	Ledger   *LedgerService
	Tasks    *TaskService
	Trees    *TreeService
	Friends  *FriendService
	Schedule *ScheduleService
	Locks    *AccountLocks
	Metrics  *Metrics
}

// New wires repositories over store and builds every service. Metrics are
// registered with reg when it is not nil.
func New(cfg *config.Config, store ports.DocumentStore, catalog ports.TreeCatalog, idempotency ports.IdempotencyStore, reg prometheus.Registerer, appLogger *logger.Logger) *Services {
	accountRepo := repository.NewAccountRepository(store)
	taskRepo := repository.NewTaskRepository(store)
	ledgerRepo := repository.NewLedgerRepository(store)
	treeRepo := repository.NewTreeRepository(store)
	friendRepo := repository.NewFriendRepository(store)
	completionRepo := repository.NewCompletionRepository(store)

	locks := NewAccountLocks()
	metrics := NewMetrics(reg)
	writeTimeout := cfg.Store.WriteTimeout

	ledger := NewLedgerService(ledgerRepo, idempotency, locks, cfg.Ledger, writeTimeout, metrics, appLogger)

	return &Services{
		Auth:     NewAuthService(accountRepo, ledgerRepo, friendRepo, cfg.JWT, appLogger),
		Ledger:   ledger,
		Tasks:    NewTaskService(taskRepo, completionRepo, ledger, locks, writeTimeout, metrics, appLogger),
		Trees:    NewTreeService(catalog, treeRepo, ledger, locks, writeTimeout, metrics, appLogger),
		Friends:  NewFriendService(accountRepo, friendRepo, ledgerRepo, treeRepo, locks, cfg.Social, writeTimeout, appLogger),
		Schedule: NewScheduleService(taskRepo, appLogger),
		Locks:    locks,
		Metrics:  metrics,
	}
}

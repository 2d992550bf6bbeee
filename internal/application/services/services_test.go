package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/sapling/core/internal/adapters/cache"
	"github.com/sapling/core/internal/adapters/catalog"
	"github.com/sapling/core/internal/adapters/docstore"
	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/infrastructure/config"
	"github.com/sapling/core/internal/infrastructure/logger"
	"github.com/sapling/core/internal/ports"
)

var errStoreDown = errors.New("store unreachable")

// faultyStore fails a configured number of writes per collection.
type faultyStore struct {
	ports.DocumentStore

	mu         sync.Mutex
	failUpdate map[string]int
	failCreate map[string]int
	failDelete map[string]int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		DocumentStore: docstore.NewMemoryStore(),
		failUpdate:    make(map[string]int),
		failCreate:    make(map[string]int),
		failDelete:    make(map[string]int),
	}
}

func (f *faultyStore) FailUpdates(collection string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpdate[collection] = n
}

func (f *faultyStore) FailCreates(collection string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCreate[collection] = n
}

func (f *faultyStore) FailDeletes(collection string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDelete[collection] = n
}

func (f *faultyStore) take(m map[string]int, collection string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m[collection] > 0 {
		m[collection]--
		return true
	}
	return false
}

func (f *faultyStore) Update(ctx context.Context, ref ports.DocRef, update ports.Update) (*ports.Document, error) {
	if f.take(f.failUpdate, ref.Collection) {
		return nil, errStoreDown
	}
	return f.DocumentStore.Update(ctx, ref, update)
}

func (f *faultyStore) Create(ctx context.Context, ref ports.DocRef, fields map[string]interface{}) (*ports.Document, error) {
	if f.take(f.failCreate, ref.Collection) {
		return nil, errStoreDown
	}
	return f.DocumentStore.Create(ctx, ref, fields)
}

func (f *faultyStore) Delete(ctx context.Context, ref ports.DocRef, conditions ...ports.Condition) error {
	if f.take(f.failDelete, ref.Collection) {
		return errStoreDown
	}
	return f.DocumentStore.Delete(ctx, ref, conditions...)
}

type testEnv struct {
	store *faultyStore
	svc   *Services
}

func testConfig() *config.Config {
	return &config.Config{
		Store:  config.StoreConfig{Driver: config.StoreMemory, WriteTimeout: 5 * time.Second},
		JWT:    config.JWTConfig{Secret: "test-secret", ExpiresIn: time.Hour, Issuer: "sapling-test"},
		Ledger: config.LedgerConfig{IdempotencyTTL: time.Hour},
		Social: config.SocialConfig{StatsRequireFollow: true},
	}
}

func newTestEnv(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	cat, err := catalog.New([]entities.CatalogTree{
		{ID: "bonsai", Name: "Bonsai", Price: 20, Icon: "bonsai.png"},
		{ID: "oak", Name: "Oak", Price: 25, Icon: "oak.png"},
		{ID: "seedling", Name: "Seedling", Price: 0, Icon: "seedling.png"},
	}, logger.NewNop())
	require.NoError(t, err)

	store := newFaultyStore()
	t.Cleanup(func() { store.Close() })

	svc := New(cfg, store, cat, cache.NewMemoryIdempotencyStore(), prometheus.NewRegistry(), logger.NewNop())
	return &testEnv{store: store, svc: svc}
}

func (e *testEnv) register(t *testing.T, email string) *entities.Account {
	t.Helper()
	account, err := e.svc.Auth.CreateAccount(context.Background(), email, "password123")
	require.NoError(t, err)
	return account
}

func (e *testEnv) fund(t *testing.T, accountID string, amount int64) {
	t.Helper()
	_, err := e.svc.Ledger.Credit(context.Background(), accountID, amount)
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	ledger, err := e.svc.Ledger.Balance(context.Background(), accountID)
	require.NoError(t, err)
	return ledger.Credits
}

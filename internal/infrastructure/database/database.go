package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sapling/core/internal/infrastructure/config"
	"github.com/sapling/core/internal/infrastructure/logger"
)

const connectTimeout = 10 * time.Second

// DB is the PostgreSQL handle behind the document store.
type DB struct {
	DB  *sqlx.DB
	dsn string
}

// New opens the pool described by cfg and checks that the server answers.
func New(cfg config.DatabaseConfig) (*DB, error) {
	db, err := Open(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("postgres at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	db.DB.SetMaxOpenConns(cfg.MaxOpenConns)
	db.DB.SetMaxIdleConns(cfg.MaxIdleConns)
	db.DB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.DB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

// Open connects to dsn, a key/value or postgres:// connection string, with
// the driver's default pool settings.
func Open(dsn string) (*DB, error) {
	pool, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &DB{DB: pool, dsn: dsn}, nil
}

// Ping reports whether the pool can still reach the server.
func (db *DB) Ping(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

// Close releases the pool.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	return db.DB.Close()
}

// GetConnectionInfo returns pool statistics for the detailed health check.
func (db *DB) GetConnectionInfo() map[string]interface{} {
	stats := db.DB.Stats()
	return map[string]interface{}{
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"wait_duration":    stats.WaitDuration.String(),
	}
}

// Listen opens a dedicated notification connection subscribed to channel.
// The listener reconnects on its own; lost and restored connections are
// logged.
func (db *DB) Listen(channel string, log *logger.Logger) (*pq.Listener, error) {
	listener := pq.NewListener(db.dsn, 100*time.Millisecond, 30*time.Second, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			log.Warnw("Notification connection lost", "channel", channel, "error", err)
		case pq.ListenerEventReconnected:
			log.Infow("Notification connection restored", "channel", channel)
		}
	})
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen on %s: %w", channel, err)
	}
	return listener, nil
}

// WithTransaction runs fn in a transaction, committing when fn returns nil.
// A panic in fn rolls back and is re-raised.
func (db *DB) WithTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

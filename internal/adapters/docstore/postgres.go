package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sapling/core/internal/infrastructure/database"
	"github.com/sapling/core/internal/infrastructure/logger"
	"github.com/sapling/core/internal/ports"
)

// ChangeChannel is the NOTIFY channel written by the documents trigger.
const ChangeChannel = "document_changes"

// PostgresStore keeps documents as JSONB rows. Updates take a row lock so
// each one is atomic; committed changes reach subscribers in every process
// through LISTEN/NOTIFY.
type PostgresStore struct {
	db       *database.DB
	hub      *hub
	listener *pq.Listener
	logger   *logger.Logger
	done     chan struct{}
}

type documentRow struct {
	AccountID  string    `db:"account_id"`
	Collection string    `db:"collection"`
	DocID      string    `db:"doc_id"`
	Fields     []byte    `db:"fields"`
	Version    int64     `db:"version"`
	Seq        int64     `db:"seq"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type changePayload struct {
	AccountID  string `json:"account_id"`
	Collection string `json:"collection"`
	DocID      string `json:"doc_id"`
}

const selectColumns = `account_id, collection, doc_id, fields, version, seq, created_at, updated_at`

// NewPostgresStore creates a document store on db and starts listening for
// change notifications.
func NewPostgresStore(db *database.DB, appLogger *logger.Logger) (*PostgresStore, error) {
	log := appLogger.WithComponent("docstore")
	s := &PostgresStore{
		db:     db,
		logger: log,
		done:   make(chan struct{}),
	}
	s.hub = newHub(5*time.Second, func(key string, err error) {
		log.Warnw("Failed to load snapshot", "subscription", key, "error", err)
	})

	listener, err := db.Listen(ChangeChannel, log)
	if err != nil {
		return nil, err
	}
	s.listener = listener

	go s.listen()
	return s, nil
}

func (s *PostgresStore) listen() {
	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			// A nil notification follows a reconnect; changes may have been missed.
			if n == nil {
				s.hub.publishAll()
				continue
			}
			var p changePayload
			if err := json.Unmarshal([]byte(n.Extra), &p); err != nil {
				s.logger.Warnw("Malformed change notification", "payload", n.Extra, "error", err)
				continue
			}
			s.hub.publish(ports.DocRef{Account: p.AccountID, Collection: p.Collection, ID: p.DocID})
		case <-ticker.C:
			go s.listener.Ping()
		}
	}
}

func (r documentRow) toDocument() (*ports.Document, error) {
	fields := make(map[string]interface{})
	if len(r.Fields) > 0 {
		if err := json.Unmarshal(r.Fields, &fields); err != nil {
			return nil, fmt.Errorf("decode fields of %s/%s/%s: %w", r.AccountID, r.Collection, r.DocID, err)
		}
	}
	return &ports.Document{
		Ref:       ports.DocRef{Account: r.AccountID, Collection: r.Collection, ID: r.DocID},
		Fields:    fields,
		Version:   r.Version,
		Seq:       r.Seq,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func (s *PostgresStore) Create(ctx context.Context, ref ports.DocRef, fields map[string]interface{}) (*ports.Document, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	body, err := marshalFields(fields)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO documents (account_id, collection, doc_id, fields, version)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (account_id, collection, doc_id) DO NOTHING
		RETURNING ` + selectColumns

	var row documentRow
	err = s.db.DB.GetContext(ctx, &row, query, ref.Account, ref.Collection, ref.ID, body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("create %s: %w", ref, ports.ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", ref, err)
	}

	s.hub.publish(ref)
	return row.toDocument()
}

func (s *PostgresStore) Set(ctx context.Context, ref ports.DocRef, fields map[string]interface{}) (*ports.Document, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	body, err := marshalFields(fields)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO documents (account_id, collection, doc_id, fields, version)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (account_id, collection, doc_id)
		DO UPDATE SET fields = EXCLUDED.fields, version = documents.version + 1, updated_at = NOW()
		RETURNING ` + selectColumns

	var row documentRow
	if err := s.db.DB.GetContext(ctx, &row, query, ref.Account, ref.Collection, ref.ID, body); err != nil {
		return nil, fmt.Errorf("set %s: %w", ref, err)
	}

	s.hub.publish(ref)
	return row.toDocument()
}

func (s *PostgresStore) Update(ctx context.Context, ref ports.DocRef, update ports.Update) (*ports.Document, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}

	var committed documentRow
	err := s.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		current, found, err := lockDocument(ctx, tx, ref)
		if err != nil {
			return err
		}
		if !found {
			if !update.Upsert {
				return ports.ErrDocumentNotFound
			}
			// Another writer may insert concurrently; lock whichever row wins.
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO documents (account_id, collection, doc_id, fields, version)
				VALUES ($1, $2, $3, '{}'::jsonb, 0)
				ON CONFLICT (account_id, collection, doc_id) DO NOTHING`,
				ref.Account, ref.Collection, ref.ID); err != nil {
				return err
			}
			current, found, err = lockDocument(ctx, tx, ref)
			if err != nil {
				return err
			}
			if !found {
				return ports.ErrDocumentNotFound
			}
		}

		doc, err := current.toDocument()
		if err != nil {
			return err
		}
		if err := checkConditions(doc.Fields, update.Conditions); err != nil {
			return err
		}
		next, err := applyOps(doc.Fields, update.Ops)
		if err != nil {
			return err
		}
		body, err := marshalFields(next)
		if err != nil {
			return err
		}

		return tx.GetContext(ctx, &committed, `
			UPDATE documents SET fields = $4, version = version + 1, updated_at = NOW()
			WHERE account_id = $1 AND collection = $2 AND doc_id = $3
			RETURNING `+selectColumns,
			ref.Account, ref.Collection, ref.ID, body)
	})
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", ref, err)
	}

	s.hub.publish(ref)
	return committed.toDocument()
}

func lockDocument(ctx context.Context, tx *sqlx.Tx, ref ports.DocRef) (documentRow, bool, error) {
	var row documentRow
	err := tx.GetContext(ctx, &row, `
		SELECT `+selectColumns+`
		FROM documents
		WHERE account_id = $1 AND collection = $2 AND doc_id = $3
		FOR UPDATE`,
		ref.Account, ref.Collection, ref.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return row, false, nil
	}
	if err != nil {
		return row, false, err
	}
	return row, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, ref ports.DocRef, conditions ...ports.Condition) error {
	if err := validateRef(ref); err != nil {
		return err
	}

	err := s.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		current, found, err := lockDocument(ctx, tx, ref)
		if err != nil {
			return err
		}
		if !found {
			return ports.ErrDocumentNotFound
		}
		if len(conditions) > 0 {
			doc, err := current.toDocument()
			if err != nil {
				return err
			}
			if err := checkConditions(doc.Fields, conditions); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM documents
			WHERE account_id = $1 AND collection = $2 AND doc_id = $3`,
			ref.Account, ref.Collection, ref.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}

	s.hub.publish(ref)
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, ref ports.DocRef) (*ports.Document, error) {
	var row documentRow
	err := s.db.DB.GetContext(ctx, &row, `
		SELECT `+selectColumns+`
		FROM documents
		WHERE account_id = $1 AND collection = $2 AND doc_id = $3`,
		ref.Account, ref.Collection, ref.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", ref, ports.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	return row.toDocument()
}

func (s *PostgresStore) Query(ctx context.Context, q ports.Query) ([]*ports.Document, error) {
	query, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}

	var rows []documentRow
	if err := s.db.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}

	docs := make([]*ports.Document, 0, len(rows))
	for _, r := range rows {
		doc, err := r.toDocument()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// buildQuery renders q as SQL. Field names are passed as parameters to the
// jsonb -> operator so callers never reach the SQL text.
func buildQuery(q ports.Query) (string, []interface{}, error) {
	if q.Collection == "" {
		return "", nil, fmt.Errorf("query without collection")
	}

	var b strings.Builder
	b.WriteString("SELECT " + selectColumns + " FROM documents WHERE collection = $1")
	args := []interface{}{q.Collection}

	if q.Account != "" {
		args = append(args, q.Account)
		fmt.Fprintf(&b, " AND account_id = $%d", len(args))
	}

	for _, f := range q.Filters {
		var operand interface{} = f.Value
		var op string
		switch f.Op {
		case ports.FilterEqual:
			op = "="
		case ports.FilterArrayContains:
			op = "@>"
			operand = []interface{}{f.Value}
		default:
			return "", nil, fmt.Errorf("unsupported filter %q", f.Op)
		}
		raw, err := json.Marshal(operand)
		if err != nil {
			return "", nil, fmt.Errorf("encode filter on %s: %w", f.Field, err)
		}
		args = append(args, f.Field, string(raw))
		fmt.Fprintf(&b, " AND fields -> $%d::text %s $%d::jsonb", len(args)-1, op, len(args))
	}

	b.WriteString(" ORDER BY seq")
	return b.String(), args, nil
}

func (s *PostgresStore) Watch(ctx context.Context, ref ports.DocRef) (ports.Subscription, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	return s.hub.subscribe(ctx, docKey(ref), func(ctx context.Context) (ports.Snapshot, error) {
		doc, err := s.Get(ctx, ref)
		if err != nil && !isNotFound(err) {
			return ports.Snapshot{}, err
		}
		return ports.Snapshot{Document: doc, ReadTime: time.Now()}, nil
	}), nil
}

func (s *PostgresStore) WatchQuery(ctx context.Context, q ports.Query) (ports.Subscription, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("query without collection")
	}
	return s.hub.subscribe(ctx, collectionKey(q.Account, q.Collection), func(ctx context.Context) (ports.Snapshot, error) {
		docs, err := s.Query(ctx, q)
		if err != nil {
			return ports.Snapshot{}, err
		}
		return ports.Snapshot{Documents: docs, ReadTime: time.Now()}, nil
	}), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close stops the change feed and ends every subscription. The database
// handle is owned by the caller.
func (s *PostgresStore) Close() error {
	close(s.done)
	s.hub.closeAll(ports.ErrStoreClosed)
	return s.listener.Close()
}

func marshalFields(fields map[string]interface{}) ([]byte, error) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return body, nil
}

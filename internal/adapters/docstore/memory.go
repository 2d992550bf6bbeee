package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sapling/core/internal/ports"
)

// MemoryStore is an in-process DocumentStore. It honours the same
// single-document atomicity and snapshot semantics as the PostgreSQL store.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[ports.DocRef]*ports.Document
	seq    int64
	hub    *hub
	now    func() time.Time
	closed bool
}

// NewMemoryStore creates an empty in-memory document store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[ports.DocRef]*ports.Document),
		hub:  newHub(time.Second, nil),
		now:  time.Now,
	}
}

func (s *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return fmt.Errorf("memory store: %w", ports.ErrStoreClosed)
	}
	return nil
}

func cloneDoc(d *ports.Document) *ports.Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Fields = cloneFields(d.Fields)
	return &c
}

func (s *MemoryStore) Create(ctx context.Context, ref ports.DocRef, fields map[string]interface{}) (*ports.Document, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	normalized, err := normalizeFields(fields)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if _, ok := s.docs[ref]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("create %s: %w", ref, ports.ErrAlreadyExists)
	}
	s.seq++
	now := s.now()
	doc := &ports.Document{Ref: ref, Fields: normalized, Version: 1, Seq: s.seq, CreatedAt: now, UpdatedAt: now}
	s.docs[ref] = doc
	out := cloneDoc(doc)
	s.mu.Unlock()

	s.hub.publish(ref)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, ref ports.DocRef, fields map[string]interface{}) (*ports.Document, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	normalized, err := normalizeFields(fields)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	now := s.now()
	doc, ok := s.docs[ref]
	if ok {
		next := *doc
		next.Fields = normalized
		next.Version++
		next.UpdatedAt = now
		doc = &next
	} else {
		s.seq++
		doc = &ports.Document{Ref: ref, Fields: normalized, Version: 1, Seq: s.seq, CreatedAt: now, UpdatedAt: now}
	}
	s.docs[ref] = doc
	out := cloneDoc(doc)
	s.mu.Unlock()

	s.hub.publish(ref)
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, ref ports.DocRef, update ports.Update) (*ports.Document, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	now := s.now()
	current, ok := s.docs[ref]
	if !ok && !update.Upsert {
		s.mu.Unlock()
		return nil, fmt.Errorf("update %s: %w", ref, ports.ErrDocumentNotFound)
	}
	var fields map[string]interface{}
	if ok {
		fields = current.Fields
	}
	if err := checkConditions(fields, update.Conditions); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("update %s: %w", ref, err)
	}
	nextFields, err := applyOps(fields, update.Ops)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("update %s: %w", ref, err)
	}

	var doc *ports.Document
	if ok {
		next := *current
		next.Fields = nextFields
		next.Version++
		next.UpdatedAt = now
		doc = &next
	} else {
		s.seq++
		doc = &ports.Document{Ref: ref, Fields: nextFields, Version: 1, Seq: s.seq, CreatedAt: now, UpdatedAt: now}
	}
	s.docs[ref] = doc
	out := cloneDoc(doc)
	s.mu.Unlock()

	s.hub.publish(ref)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, ref ports.DocRef, conditions ...ports.Condition) error {
	if err := validateRef(ref); err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	current, ok := s.docs[ref]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("delete %s: %w", ref, ports.ErrDocumentNotFound)
	}
	if err := checkConditions(current.Fields, conditions); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	delete(s.docs, ref)
	s.mu.Unlock()

	s.hub.publish(ref)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, ref ports.DocRef) (*ports.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	doc, ok := s.docs[ref]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", ref, ports.ErrDocumentNotFound)
	}
	return cloneDoc(doc), nil
}

func (s *MemoryStore) Query(ctx context.Context, q ports.Query) ([]*ports.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]*ports.Document, 0)
	for ref, doc := range s.docs {
		if ref.Collection != q.Collection {
			continue
		}
		if q.Account != "" && ref.Account != q.Account {
			continue
		}
		if !matches(doc.Fields, q.Filters) {
			continue
		}
		out = append(out, cloneDoc(doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) Watch(ctx context.Context, ref ports.DocRef) (ports.Subscription, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.hub.subscribe(ctx, docKey(ref), func(ctx context.Context) (ports.Snapshot, error) {
		doc, err := s.Get(ctx, ref)
		if err != nil && !isNotFound(err) {
			return ports.Snapshot{}, err
		}
		return ports.Snapshot{Document: doc, ReadTime: s.now()}, nil
	}), nil
}

func (s *MemoryStore) WatchQuery(ctx context.Context, q ports.Query) (ports.Subscription, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("query without collection")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.hub.subscribe(ctx, collectionKey(q.Account, q.Collection), func(ctx context.Context) (ports.Snapshot, error) {
		docs, err := s.Query(ctx, q)
		if err != nil {
			return ports.Snapshot{}, err
		}
		return ports.Snapshot{Documents: docs, ReadTime: s.now()}, nil
	}), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx)
}

// Close ends every subscription and rejects further operations.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.closeAll(ports.ErrStoreClosed)
	return nil
}

// Subscribers returns the number of live subscriptions.
func (s *MemoryStore) Subscribers() int {
	return s.hub.count()
}

package ports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Document store errors. Anything else returned by a DocumentStore means the
// store could not be reached or the write was not durably committed.
var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrAlreadyExists      = errors.New("document already exists")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrStoreClosed        = errors.New("document store closed")
)

// DocRef addresses one document.
type DocRef struct {
	Account    string
	Collection string
	ID         string
}

func (r DocRef) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Account, r.Collection, r.ID)
}

// Document is a committed snapshot of one document. Fields hold
// JSON-compatible values.
type Document struct {
	Ref       DocRef
	Fields    map[string]interface{}
	Version   int64
	Seq       int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decode copies the fields into v through their JSON form.
func (d *Document) Decode(v interface{}) error {
	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", d.Ref, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.Ref, err)
	}
	return nil
}

// FieldsOf converts a struct into document fields through its JSON form.
func FieldsOf(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]interface{})
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// OpKind is a field-level mutation.
type OpKind string

const (
	OpSet         OpKind = "set"
	OpIncrement   OpKind = "increment"
	OpArrayUnion  OpKind = "array_union"
	OpArrayRemove OpKind = "array_remove"
)

// FieldOp mutates one field.
type FieldOp struct {
	Kind   OpKind
	Field  string
	Value  interface{}
	Values []interface{}
	Delta  int64
}

func SetField(field string, value interface{}) FieldOp {
	return FieldOp{Kind: OpSet, Field: field, Value: value}
}

func Increment(field string, delta int64) FieldOp {
	return FieldOp{Kind: OpIncrement, Field: field, Delta: delta}
}

func ArrayUnion(field string, values ...interface{}) FieldOp {
	return FieldOp{Kind: OpArrayUnion, Field: field, Values: values}
}

func ArrayRemove(field string, values ...interface{}) FieldOp {
	return FieldOp{Kind: OpArrayRemove, Field: field, Values: values}
}

// ConditionKind is a precondition checked against the current document
// before an update or delete is applied.
type ConditionKind string

const (
	CondContains ConditionKind = "contains"
	CondAtLeast  ConditionKind = "at_least"
	CondEmpty    ConditionKind = "empty"
	CondEquals   ConditionKind = "equals"
)

// Condition guards a single-document write.
type Condition struct {
	Kind  ConditionKind
	Field string
	Value interface{}
	Min   int64
}

func FieldContains(field string, value interface{}) Condition {
	return Condition{Kind: CondContains, Field: field, Value: value}
}

// FieldAtLeast requires a numeric field (missing counts as 0) to be >= min.
func FieldAtLeast(field string, min int64) Condition {
	return Condition{Kind: CondAtLeast, Field: field, Min: min}
}

// FieldEmpty requires an array field to be missing or empty.
func FieldEmpty(field string) Condition {
	return Condition{Kind: CondEmpty, Field: field}
}

func FieldEquals(field string, value interface{}) Condition {
	return Condition{Kind: CondEquals, Field: field, Value: value}
}

// Update is an atomic single-document mutation.
type Update struct {
	Ops        []FieldOp
	Conditions []Condition
	// Upsert creates the document from an empty field set when missing.
	Upsert bool
}

// FilterOp is a query predicate.
type FilterOp string

const (
	FilterEqual         FilterOp = "=="
	FilterArrayContains FilterOp = "array-contains"
)

// Filter matches documents on one field.
type Filter struct {
	Field string
	Op    FilterOp
	Value interface{}
}

// Query selects documents of a collection, within one account or, when
// Account is empty, across every account. Results are in creation order.
type Query struct {
	Account    string
	Collection string
	Filters    []Filter
}

// Snapshot is delivered to subscribers on every committed change. Document
// watches fill Document (nil when the document is absent); query watches
// fill Documents. A snapshot with Err set is the last one: the state could
// not be read, or the store was closed, and the subscription has ended.
type Snapshot struct {
	Document  *Document
	Documents []*Document
	ReadTime  time.Time
	Err       error
}

// Subscription is a live registration for snapshots. Close releases it and
// closes the channel; it is safe to call more than once.
type Subscription interface {
	Snapshots() <-chan Snapshot
	Close() error
}

// DocumentStore is the change propagation layer: durable keyed documents
// with single-document atomic updates and snapshot subscriptions. No
// multi-document transactions are offered.
type DocumentStore interface {
	Create(ctx context.Context, ref DocRef, fields map[string]interface{}) (*Document, error)
	Set(ctx context.Context, ref DocRef, fields map[string]interface{}) (*Document, error)
	Update(ctx context.Context, ref DocRef, update Update) (*Document, error)
	Delete(ctx context.Context, ref DocRef, conditions ...Condition) error
	Get(ctx context.Context, ref DocRef) (*Document, error)
	Query(ctx context.Context, q Query) ([]*Document, error)
	Watch(ctx context.Context, ref DocRef) (Subscription, error)
	WatchQuery(ctx context.Context, q Query) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

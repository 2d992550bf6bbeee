package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapling/core/internal/ports"
)

var statsRef = ports.DocRef{Account: "acc-1", Collection: "stats", ID: "userStats"}

// awaitSnapshot reads snapshots until match accepts one.
func awaitSnapshot(t *testing.T, sub ports.Subscription, match func(ports.Snapshot) bool) ports.Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			require.True(t, ok, "subscription closed before a matching snapshot arrived")
			if match(snap) {
				return snap
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func credits(snap ports.Snapshot) int64 {
	if snap.Document == nil {
		return -1
	}
	n, _ := toInt64(snap.Document.Fields["credits"])
	return n
}

func TestMemoryStoreCreateGetSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	doc, err := store.Create(ctx, statsRef, map[string]interface{}{"credits": 0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)

	_, err = store.Create(ctx, statsRef, map[string]interface{}{"credits": 5})
	assert.ErrorIs(t, err, ports.ErrAlreadyExists)

	got, err := store.Get(ctx, statsRef)
	require.NoError(t, err)
	assert.Equal(t, float64(0), got.Fields["credits"])

	set, err := store.Set(ctx, statsRef, map[string]interface{}{"credits": 7})
	require.NoError(t, err)
	assert.Equal(t, int64(2), set.Version)
	assert.Equal(t, doc.Seq, set.Seq, "Set keeps the creation order")

	_, err = store.Get(ctx, ports.DocRef{Account: "acc-1", Collection: "stats", ID: "missing"})
	assert.ErrorIs(t, err, ports.ErrDocumentNotFound)

	_, err = store.Create(ctx, ports.DocRef{Account: "acc-1", Collection: "stats"}, nil)
	assert.Error(t, err)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	doc, err := store.Create(ctx, statsRef, map[string]interface{}{"credits": 1})
	require.NoError(t, err)
	doc.Fields["credits"] = float64(99)

	got, err := store.Get(ctx, statsRef)
	require.NoError(t, err)
	assert.Equal(t, float64(1), got.Fields["credits"])
}

func TestMemoryStoreUpdateOps(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ref := ports.DocRef{Account: "acc-1", Collection: "tasks", ID: "t1"}

	_, err := store.Update(ctx, ref, ports.Update{Ops: []ports.FieldOp{ports.Increment("n", 1)}})
	assert.ErrorIs(t, err, ports.ErrDocumentNotFound)

	doc, err := store.Update(ctx, ref, ports.Update{
		Ops: []ports.FieldOp{
			ports.Increment("n", 2),
			ports.ArrayUnion("dates", "2024-03-01", "2024-03-02", "2024-03-01"),
			ports.SetField("name", "Read"),
		},
		Upsert: true,
	})
	require.NoError(t, err)
	assert.Equal(t, float64(2), doc.Fields["n"])
	assert.Equal(t, []interface{}{"2024-03-01", "2024-03-02"}, doc.Fields["dates"])
	assert.Equal(t, "Read", doc.Fields["name"])

	doc, err = store.Update(ctx, ref, ports.Update{
		Ops: []ports.FieldOp{ports.ArrayRemove("dates", "2024-03-01"), ports.Increment("n", -5)},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"2024-03-02"}, doc.Fields["dates"])
	assert.Equal(t, float64(-3), doc.Fields["n"])
	assert.Equal(t, int64(2), doc.Version)

	_, err = store.Update(ctx, ref, ports.Update{Ops: []ports.FieldOp{ports.Increment("name", 1)}})
	assert.Error(t, err)
}

func TestMemoryStoreConditions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ref := ports.DocRef{Account: "acc-1", Collection: "tasks", ID: "t1"}

	_, err := store.Create(ctx, ref, map[string]interface{}{
		"dates":   []string{"2024-03-01"},
		"credits": 10,
		"state":   "pending",
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		cond ports.Condition
		ok   bool
	}{
		{"contains present", ports.FieldContains("dates", "2024-03-01"), true},
		{"contains absent", ports.FieldContains("dates", "2024-03-09"), false},
		{"at least equal", ports.FieldAtLeast("credits", 10), true},
		{"at least above", ports.FieldAtLeast("credits", 11), false},
		{"at least missing field", ports.FieldAtLeast("missing", 0), true},
		{"empty on non-empty", ports.FieldEmpty("dates"), false},
		{"empty on missing", ports.FieldEmpty("trees"), true},
		{"equals match", ports.FieldEquals("state", "pending"), true},
		{"equals mismatch", ports.FieldEquals("state", "minted"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Update(ctx, ref, ports.Update{
				Ops:        []ports.FieldOp{ports.SetField("touched", true)},
				Conditions: []ports.Condition{tt.cond},
			})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ports.ErrPreconditionFailed)
			}
		})
	}
}

func TestMemoryStoreFailedConditionLeavesDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Create(ctx, statsRef, map[string]interface{}{"credits": 3})
	require.NoError(t, err)

	_, err = store.Update(ctx, statsRef, ports.Update{
		Ops:        []ports.FieldOp{ports.Increment("credits", -5)},
		Conditions: []ports.Condition{ports.FieldAtLeast("credits", 5)},
	})
	require.ErrorIs(t, err, ports.ErrPreconditionFailed)

	doc, err := store.Get(ctx, statsRef)
	require.NoError(t, err)
	assert.Equal(t, float64(3), doc.Fields["credits"])
	assert.Equal(t, int64(1), doc.Version)
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, statsRef, ports.Update{
				Ops:    []ports.FieldOp{ports.Increment("credits", 1)},
				Upsert: true,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	doc, err := store.Get(ctx, statsRef)
	require.NoError(t, err)
	assert.Equal(t, float64(50), doc.Fields["credits"])
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ref := ports.DocRef{Account: "acc-1", Collection: "tasks", ID: "t1"}

	assert.ErrorIs(t, store.Delete(ctx, ref), ports.ErrDocumentNotFound)

	_, err := store.Create(ctx, ref, map[string]interface{}{"dates": []string{"2024-03-01"}})
	require.NoError(t, err)

	assert.ErrorIs(t, store.Delete(ctx, ref, ports.FieldEmpty("dates")), ports.ErrPreconditionFailed)

	_, err = store.Update(ctx, ref, ports.Update{Ops: []ports.FieldOp{ports.ArrayRemove("dates", "2024-03-01")}})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, ref, ports.FieldEmpty("dates")))

	_, err = store.Get(ctx, ref)
	assert.ErrorIs(t, err, ports.ErrDocumentNotFound)
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	create := func(account, id string, dates ...string) {
		_, err := store.Create(ctx, ports.DocRef{Account: account, Collection: "tasks", ID: id},
			map[string]interface{}{"dates": dates, "owner": account})
		require.NoError(t, err)
	}
	create("acc-1", "b", "2024-03-01")
	create("acc-1", "a", "2024-03-02")
	create("acc-1", "c", "2024-03-01", "2024-03-02")
	create("acc-2", "d", "2024-03-01")

	docs, err := store.Query(ctx, ports.Query{Account: "acc-1", Collection: "tasks"})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{docs[0].Ref.ID, docs[1].Ref.ID, docs[2].Ref.ID})

	docs, err = store.Query(ctx, ports.Query{
		Account:    "acc-1",
		Collection: "tasks",
		Filters:    []ports.Filter{{Field: "dates", Op: ports.FilterArrayContains, Value: "2024-03-01"}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0].Ref.ID)
	assert.Equal(t, "c", docs[1].Ref.ID)

	docs, err = store.Query(ctx, ports.Query{
		Collection: "tasks",
		Filters:    []ports.Filter{{Field: "owner", Op: ports.FilterEqual, Value: "acc-2"}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d", docs[0].Ref.ID)
}

func TestMemoryStoreWatchDocument(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewMemoryStore()

	sub, err := store.Watch(ctx, statsRef)
	require.NoError(t, err)

	initial := awaitSnapshot(t, sub, func(ports.Snapshot) bool { return true })
	assert.Nil(t, initial.Document, "a missing document is delivered as nil")

	for i := 0; i < 5; i++ {
		_, err := store.Update(ctx, statsRef, ports.Update{
			Ops:    []ports.FieldOp{ports.Increment("credits", 1)},
			Upsert: true,
		})
		require.NoError(t, err)
	}

	last := awaitSnapshot(t, sub, func(s ports.Snapshot) bool { return credits(s) == 5 })
	assert.Equal(t, int64(5), last.Document.Version)
}

func TestMemoryStoreWatchQuery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewMemoryStore()

	sub, err := store.WatchQuery(ctx, ports.Query{Account: "acc-1", Collection: "tasks"})
	require.NoError(t, err)
	awaitSnapshot(t, sub, func(s ports.Snapshot) bool { return len(s.Documents) == 0 })

	_, err = store.Create(ctx, ports.DocRef{Account: "acc-2", Collection: "tasks", ID: "other"}, nil)
	require.NoError(t, err)
	_, err = store.Create(ctx, ports.DocRef{Account: "acc-1", Collection: "tasks", ID: "mine"}, nil)
	require.NoError(t, err)

	snap := awaitSnapshot(t, sub, func(s ports.Snapshot) bool { return len(s.Documents) == 1 })
	assert.Equal(t, "mine", snap.Documents[0].Ref.ID)
}

func TestMemoryStoreUnsubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()

	sub, err := store.Watch(context.Background(), statsRef)
	require.NoError(t, err)
	ctxSub, err := store.Watch(ctx, statsRef)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Subscribers())

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	cancel()

	assert.Eventually(t, func() bool { return store.Subscribers() == 0 }, time.Second, 10*time.Millisecond)

	for _, s := range []ports.Subscription{sub, ctxSub} {
		assert.Eventually(t, func() bool {
			select {
			case _, ok := <-s.Snapshots():
				return !ok
			default:
				return false
			}
		}, time.Second, 10*time.Millisecond)
	}
}

func TestMemoryStoreClose(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sub, err := store.Watch(ctx, statsRef)
	require.NoError(t, err)

	require.NoError(t, store.Close())
	assert.Equal(t, 0, store.Subscribers())
	assert.Error(t, store.Ping(ctx))

	_, err = store.Create(ctx, statsRef, nil)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ports.ErrAlreadyExists))

	seen := drain(t, sub)
	require.NotEmpty(t, seen)
	assert.ErrorIs(t, seen[len(seen)-1].Err, ports.ErrStoreClosed)
	assert.ErrorIs(t, store.Ping(ctx), ports.ErrStoreClosed)
}

func TestMemoryStoreHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryStore()

	_, err := store.Create(ctx, statsRef, nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = store.Watch(ctx, statsRef)
	assert.ErrorIs(t, err, context.Canceled)
}

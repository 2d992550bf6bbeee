package docstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapling/core/internal/ports"
)

// drain reads sub until it closes and returns what it saw.
func drain(t *testing.T, sub ports.Subscription) []ports.Snapshot {
	t.Helper()
	var seen []ports.Snapshot
	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return seen
			}
			seen = append(seen, snap)
		case <-timeout:
			t.Fatal("subscription never closed")
		}
	}
}

func TestHubDeliversLoadFailure(t *testing.T) {
	errRead := errors.New("read replica gone")
	var failing atomic.Bool
	var reported atomic.Int32

	h := newHub(time.Second, func(string, error) { reported.Add(1) })
	sub := h.subscribe(context.Background(), docKey(statsRef), func(context.Context) (ports.Snapshot, error) {
		if failing.Load() {
			return ports.Snapshot{}, errRead
		}
		return ports.Snapshot{ReadTime: time.Now()}, nil
	})

	first := awaitSnapshot(t, sub, func(ports.Snapshot) bool { return true })
	assert.NoError(t, first.Err)

	failing.Store(true)
	h.publish(statsRef)

	seen := drain(t, sub)
	require.NotEmpty(t, seen)
	assert.ErrorIs(t, seen[len(seen)-1].Err, errRead)
	assert.Equal(t, int32(1), reported.Load())
	assert.Equal(t, 0, h.count())
}

func TestHubCloseByConsumerHasNoError(t *testing.T) {
	h := newHub(time.Second, nil)
	sub := h.subscribe(context.Background(), docKey(statsRef), func(context.Context) (ports.Snapshot, error) {
		return ports.Snapshot{ReadTime: time.Now()}, nil
	})
	awaitSnapshot(t, sub, func(ports.Snapshot) bool { return true })

	require.NoError(t, sub.Close())
	for _, snap := range drain(t, sub) {
		assert.NoError(t, snap.Err)
	}
}

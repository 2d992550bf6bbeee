package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/sapling/core/internal/ports"
)

// loadFunc reads the current snapshot for one subscriber.
type loadFunc func(ctx context.Context) (ports.Snapshot, error)

// hub fans committed changes out to subscribers. A change only marks the
// affected subscribers dirty; each subscriber re-reads its snapshot when it
// wakes, so bursts coalesce and the last delivered snapshot is never older
// than the last commit.
type hub struct {
	mu          sync.Mutex
	subs        map[string]map[*subscriber]struct{}
	loadTimeout time.Duration
	onError     func(key string, err error)
}

func newHub(loadTimeout time.Duration, onError func(key string, err error)) *hub {
	if loadTimeout <= 0 {
		loadTimeout = 5 * time.Second
	}
	if onError == nil {
		onError = func(string, error) {}
	}
	return &hub{
		subs:        make(map[string]map[*subscriber]struct{}),
		loadTimeout: loadTimeout,
		onError:     onError,
	}
}

func docKey(ref ports.DocRef) string {
	return "doc:" + ref.String()
}

func collectionKey(account, collection string) string {
	if account == "" {
		account = "*"
	}
	return "col:" + account + "/" + collection
}

// subscribe registers a subscriber under key and schedules its initial
// snapshot. The subscription ends when ctx is done or Close is called.
func (h *hub) subscribe(ctx context.Context, key string, load loadFunc) *subscriber {
	s := &subscriber{
		hub:   h,
		key:   key,
		load:  load,
		out:   make(chan ports.Snapshot, 1),
		dirty: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[key] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	s.markDirty()
	go s.run()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s
}

// publish marks every subscriber interested in ref dirty.
func (h *hub) publish(ref ports.DocRef) {
	keys := []string{
		docKey(ref),
		collectionKey(ref.Account, ref.Collection),
		collectionKey("", ref.Collection),
	}

	h.mu.Lock()
	var targets []*subscriber
	for _, k := range keys {
		for s := range h.subs[k] {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.markDirty()
	}
}

// publishAll marks every subscriber dirty, used after the change feed lost
// notifications.
func (h *hub) publishAll() {
	h.mu.Lock()
	var targets []*subscriber
	for _, set := range h.subs {
		for s := range set {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.markDirty()
	}
}

func (h *hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.key)
		}
	}
}

// closeAll ends every subscription, handing each subscriber err as its
// final snapshot.
func (h *hub) closeAll(err error) {
	h.mu.Lock()
	var all []*subscriber
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.closeWith(err)
	}
}

// count returns the number of live subscribers.
func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

type subscriber struct {
	hub     *hub
	key     string
	load    loadFunc
	out     chan ports.Snapshot
	dirty   chan struct{}
	done    chan struct{}
	once    sync.Once
	failure error
}

func (s *subscriber) Snapshots() <-chan ports.Snapshot {
	return s.out
}

func (s *subscriber) Close() error {
	s.closeWith(nil)
	return nil
}

// closeWith ends the subscription; a non-nil err is delivered as the final
// snapshot. failure is written before done closes and read only after.
func (s *subscriber) closeWith(err error) {
	s.once.Do(func() {
		s.failure = err
		close(s.done)
		s.hub.remove(s)
	})
}

// replace drops an undelivered snapshot and queues snap in its place. out
// has room for one value and only run sends on it.
func (s *subscriber) replace(snap ports.Snapshot) {
	select {
	case <-s.out:
	default:
	}
	select {
	case s.out <- snap:
	default:
	}
}

func (s *subscriber) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// finish queues the failure, if any, as the last snapshot.
func (s *subscriber) finish() {
	if s.failure != nil {
		s.replace(ports.Snapshot{Err: s.failure, ReadTime: time.Now()})
	}
}

func (s *subscriber) run() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			s.finish()
			return
		case <-s.dirty:
		}
		select {
		case <-s.done:
			s.finish()
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.hub.loadTimeout)
		snap, err := s.load(ctx)
		cancel()
		if err != nil {
			s.hub.onError(s.key, err)
			s.closeWith(err)
			continue
		}

		s.replace(snap)
	}
}

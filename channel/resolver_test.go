package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"gorm.io/gorm"

	"secwatch/models"
)

// fakeStore is an atomic get-or-create channel table that counts every
// insert and every call, so tests can observe both correctness (one row)
// and traffic (how often the resolver actually hit the store).
type fakeStore struct {
	mu       sync.Mutex
	channels map[string]*models.Channel
	nextID   uint

	finds   atomic.Int32
	creates atomic.Int32
	inserts atomic.Int32

	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{channels: make(map[string]*models.Channel)}
}

func (f *fakeStore) FindChannelByIdentifier(ctx context.Context, identifier string) (*models.Channel, error) {
	f.finds.Add(1)
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[identifier]; ok {
		return ch, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStore) CreateChannelIfAbsent(ctx context.Context, identifier string) (*models.Channel, error) {
	f.creates.Add(1)
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[identifier]; ok {
		return ch, nil
	}
	f.nextID++
	ch := &models.Channel{ID: f.nextID, SourceIdentifier: identifier}
	f.channels[identifier] = ch
	f.inserts.Add(1)
	return ch, nil
}

func (f *fakeStore) delete(identifier string) {
	f.mu.Lock()
	delete(f.channels, identifier)
	f.mu.Unlock()
}

func TestResolve_ConcurrentFirstSight(t *testing.T) {
	fake := newFakeStore()
	r := NewResolver(fake)

	const callers = 50
	ids := make([]uint, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for n := 0; n < callers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ids[n], errs[n] = r.Resolve(context.Background(), "198.51.100.23")
		}(n)
	}
	wg.Wait()

	for n := 0; n < callers; n++ {
		if errs[n] != nil {
			t.Fatalf("caller %d: %v", n, errs[n])
		}
		if ids[n] != ids[0] {
			t.Fatalf("caller %d got id %d, caller 0 got %d", n, ids[n], ids[0])
		}
	}
	if got := fake.inserts.Load(); got != 1 {
		t.Errorf("channel rows created: got %d want 1", got)
	}
}

func TestResolve_CacheHitSkipsStore(t *testing.T) {
	fake := newFakeStore()
	r := NewResolver(fake)

	if _, err := r.Resolve(context.Background(), "10.1.2.3"); err != nil {
		t.Fatal(err)
	}
	findsBefore := fake.finds.Load()
	createsBefore := fake.creates.Load()

	id, err := r.Resolve(context.Background(), "10.1.2.3")
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("zero channel id")
	}
	if fake.finds.Load() != findsBefore || fake.creates.Load() != createsBefore {
		t.Error("cached resolution must not touch the store")
	}
}

func TestResolve_ExistingChannelNotRecreated(t *testing.T) {
	fake := newFakeStore()
	if _, err := fake.CreateChannelIfAbsent(context.Background(), "10.9.9.9"); err != nil {
		t.Fatal(err)
	}
	fake.creates.Store(0)

	r := NewResolver(fake)
	id, err := r.Resolve(context.Background(), "10.9.9.9")
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Errorf("id: got %d want 1", id)
	}
	if fake.creates.Load() != 0 {
		t.Error("existing channel should be found, not created")
	}
}

func TestResolve_InvalidateForcesReResolve(t *testing.T) {
	fake := newFakeStore()
	r := NewResolver(fake)

	first, err := r.Resolve(context.Background(), "172.16.0.4")
	if err != nil {
		t.Fatal(err)
	}

	// The channel disappears out-of-band, e.g. deleted by an administrator.
	fake.delete("172.16.0.4")
	r.Invalidate("172.16.0.4")

	second, err := r.Resolve(context.Background(), "172.16.0.4")
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Errorf("expected a freshly created channel, still got id %d", first)
	}
}

func TestResolve_FailureIsRetryable(t *testing.T) {
	fake := newFakeStore()
	fake.failWith = errors.New("store down")
	r := NewResolver(fake)

	if _, err := r.Resolve(context.Background(), "10.0.0.7"); err == nil {
		t.Fatal("expected error while store is down")
	}

	// The in-flight entry must be gone so the next call can try again.
	fake.failWith = nil
	id, err := r.Resolve(context.Background(), "10.0.0.7")
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if id == 0 {
		t.Fatal("zero channel id after retry")
	}
}

func TestResolve_EmptyIdentifier(t *testing.T) {
	r := NewResolver(newFakeStore())
	if _, err := r.Resolve(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty identifier")
	}
}

package settings

import (
	"context"
	"sync"
	"testing"
)

func TestMerge_PartialKeepsRest(t *testing.T) {
	// WHAT: A stored object with a subset of keys overrides only those keys.
	// WHY: Older installs may have persisted before newer flags existed.
	d, err := Merge(Defaults(), []byte(`{"showVotes":false}`))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if d.ShowVotes {
		t.Error("showVotes should be off")
	}
	if !d.ShowTier || !d.ShowLabels || !d.ShowLikeRatio || !d.ShowRating || !d.ShowEngagementRate {
		t.Errorf("untouched flags should keep defaults: %+v", d)
	}
}

func TestMerge_LegacyKeys(t *testing.T) {
	// WHAT: showAccuracy/showEngagement map to their current names, but only
	// when the current name is absent.
	d, err := Merge(Defaults(), []byte(`{"showAccuracy":false,"showEngagement":false}`))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if d.ShowLikeRatio {
		t.Error("legacy showAccuracy should turn showLikeRatio off")
	}
	if d.ShowEngagementRate {
		t.Error("legacy showEngagement should turn showEngagementRate off")
	}

	// Current name wins over legacy.
	d, err = Merge(Defaults(), []byte(`{"showLikeRatio":true,"showAccuracy":false}`))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !d.ShowLikeRatio {
		t.Error("current key should shadow legacy key")
	}
}

func TestMerge_Malformed(t *testing.T) {
	// WHAT: Malformed JSON leaves the base untouched and reports the error.
	base := Defaults()
	d, err := Merge(base, []byte(`{nope`))
	if err == nil {
		t.Fatal("expected error")
	}
	if d != base {
		t.Errorf("base mutated: %+v", d)
	}
}

// fakeStore is an in-memory settings.Store for synchroniser tests.
type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
	subs []func(key string, value []byte)
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte)}
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	f.data[key] = value
	subs := make([]func(string, []byte), len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(key, value)
	}
	return nil
}

func (f *fakeStore) Subscribe(fn func(key string, value []byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
}

func TestSync_LoadsPersistedOntoDefaults(t *testing.T) {
	// WHAT: Startup load merges the stored object onto defaults.
	store := newFakeStore()
	store.data[Key] = []byte(`{"showRating":false}`)

	s := NewSync(store, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	cur := s.Current()
	if cur.ShowRating {
		t.Error("showRating should be off after load")
	}
	if !cur.ShowTier {
		t.Error("showTier should keep its default")
	}
}

func TestSync_ChangeNotificationFansOut(t *testing.T) {
	// WHAT: A store write to the preferences key updates the live copy and
	// fires onChange; writes to other keys are ignored.
	store := newFakeStore()
	fired := 0
	s := NewSync(store, func() { fired++ }, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	store.Set(context.Background(), "unrelated", []byte(`{}`))
	if fired != 0 {
		t.Fatalf("unrelated key fired onChange %d times", fired)
	}

	store.Set(context.Background(), Key, []byte(`{"showVotes":false}`))
	if fired != 1 {
		t.Fatalf("onChange fired %d times, want 1", fired)
	}
	if s.Current().ShowVotes {
		t.Error("live copy should reflect the change")
	}
}

// deafStore persists writes but never delivers change notifications,
// like a store whose watch loop is not running.
type deafStore struct {
	data map[string][]byte
}

func (d *deafStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := d.data[key]
	return v, ok, nil
}

func (d *deafStore) Set(_ context.Context, key string, value []byte) error {
	d.data[key] = value
	return nil
}

func (d *deafStore) Subscribe(func(key string, value []byte)) {}

func TestSync_UpdateAppliesWithoutNotification(t *testing.T) {
	// WHAT: Current reflects an Update immediately, even when the store
	// never delivers change notifications.
	// WHY: One-shot preference commands read the live copy right after
	// writing, without a watch loop behind the subscription.
	store := &deafStore{data: make(map[string][]byte)}
	s := NewSync(store, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	err := s.Update(context.Background(), func(d *Display) { d.ShowVotes = false })
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if s.Current().ShowVotes {
		t.Error("Current should reflect the update without a notification")
	}

	// The write was persisted too.
	merged, err := Merge(Defaults(), store.data[Key])
	if err != nil {
		t.Fatalf("merge persisted: %v", err)
	}
	if merged.ShowVotes {
		t.Error("persisted preferences should have showVotes off")
	}
}

func TestSync_Update(t *testing.T) {
	// WHAT: Update round-trips through the store, so the synchroniser's own
	// copy follows via the subscription.
	store := newFakeStore()
	s := NewSync(store, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	err := s.Update(context.Background(), func(d *Display) { d.ShowLabels = false })
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if s.Current().ShowLabels {
		t.Error("update should have flowed back through the subscription")
	}
}

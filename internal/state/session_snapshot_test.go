package state

import (
	"context"
	"reflect"
	"sync"
	"testing"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[string][]byte
}

func (m *memoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string][]byte)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func TestSessionSnapshotRoundTrip(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	snapshot := SessionSnapshot{
		SessionID:       "c0ffee",
		Pair:            "vidy_usdt",
		State:           "RECONCILING",
		Round:           2,
		Rounds:          5,
		Quote:           "0.012",
		LiveOrders:      []string{"S1", "B1"},
		Baseline:        map[string]string{"VIDY": "1000", "USDT": "12.5"},
		PartialFailures: 1,
		UpdatedAtMS:     12345,
	}
	if err := SaveSessionSnapshot(ctx, store, snapshot); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	got, ok, err := LoadSessionSnapshot(ctx, store, "vidy_usdt")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if !ok {
		t.Fatalf("expected snapshot to be present")
	}
	if !reflect.DeepEqual(got, snapshot) {
		t.Fatalf("unexpected snapshot: %#v", got)
	}
	id, ok, err := LastSessionID(ctx, store)
	if err != nil || !ok || id != "c0ffee" {
		t.Fatalf("unexpected last session: %q ok=%v err=%v", id, ok, err)
	}
}

func TestSessionSnapshotMissing(t *testing.T) {
	store := &memoryStore{}
	got, ok, err := LoadSessionSnapshot(context.Background(), store, "ltc_btc")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if ok {
		t.Fatalf("expected no snapshot, got %#v", got)
	}
}

func TestSessionSnapshotInvalid(t *testing.T) {
	store := &memoryStore{items: map[string][]byte{SessionKey("ltc_btc"): {0xc1}}}
	_, _, err := LoadSessionSnapshot(context.Background(), store, "ltc_btc")
	if err == nil {
		t.Fatalf("expected error for invalid snapshot payload")
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	if err := SaveSessionSnapshot(context.Background(), nil, SessionSnapshot{Pair: "ltc_btc"}); err != nil {
		t.Fatalf("save with nil store: %v", err)
	}
	if _, ok, err := LoadSessionSnapshot(context.Background(), nil, "ltc_btc"); ok || err != nil {
		t.Fatalf("expected empty load from nil store")
	}
}

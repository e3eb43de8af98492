package sqlite

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"pairquote-bot/internal/state"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	payload := []byte{0x00, 0x81, 0xff, 'v'}
	if err := store.Set(ctx, "key", payload); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	val, ok, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || !bytes.Equal(val, payload) {
		t.Fatalf("unexpected value: %v (ok=%v)", val, ok)
	}
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, err = store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestStoreCreatesDirAndPersistsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bot.db")
	store, err := New(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	ctx := context.Background()
	snapshot := state.SessionSnapshot{SessionID: "s-1", Pair: "ltc_btc", State: "COMPLETED", Round: 3, Rounds: 3}
	if err := state.SaveSessionSnapshot(ctx, store, snapshot); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, ok, err := state.LoadSessionSnapshot(ctx, reopened, "ltc_btc")
	if err != nil || !ok {
		t.Fatalf("load snapshot: ok=%v err=%v", ok, err)
	}
	if got.State != "COMPLETED" || got.Round != 3 {
		t.Fatalf("unexpected snapshot: %#v", got)
	}
}

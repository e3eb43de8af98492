package state

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	sessionKeyPrefix = "trading:session:"
	LastSessionKey   = "trading:last_session"
)

// SessionSnapshot is the persisted progress of a trading session for one pair.
// Decimal amounts are kept as their string rendering.
type SessionSnapshot struct {
	SessionID       string            `msgpack:"session_id"`
	Pair            string            `msgpack:"pair"`
	State           string            `msgpack:"state"`
	Round           int               `msgpack:"round"`
	Rounds          int               `msgpack:"rounds"`
	Quote           string            `msgpack:"quote,omitempty"`
	LiveOrders      []string          `msgpack:"live_orders,omitempty"`
	Baseline        map[string]string `msgpack:"baseline,omitempty"`
	PartialFailures int               `msgpack:"partial_failures"`
	SpreadCollapses int               `msgpack:"spread_collapses"`
	UpdatedAtMS     int64             `msgpack:"updated_at_ms"`
}

func SessionKey(pair string) string {
	return sessionKeyPrefix + pair
}

func LoadSessionSnapshot(ctx context.Context, store Store, pair string) (SessionSnapshot, bool, error) {
	if store == nil {
		return SessionSnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, SessionKey(pair))
	if err != nil {
		return SessionSnapshot{}, false, err
	}
	if !ok || len(raw) == 0 {
		return SessionSnapshot{}, false, nil
	}
	var snapshot SessionSnapshot
	if err := msgpack.Unmarshal(raw, &snapshot); err != nil {
		return SessionSnapshot{}, false, fmt.Errorf("decode session snapshot: %w", err)
	}
	return snapshot, true, nil
}

// SaveSessionSnapshot stores snapshot under its pair key and records it as the
// most recent session.
func SaveSessionSnapshot(ctx context.Context, store Store, snapshot SessionSnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := msgpack.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, SessionKey(snapshot.Pair), payload); err != nil {
		return err
	}
	return store.Set(ctx, LastSessionKey, []byte(snapshot.SessionID))
}

func LastSessionID(ctx context.Context, store Store) (string, bool, error) {
	if store == nil {
		return "", false, nil
	}
	raw, ok, err := store.Get(ctx, LastSessionKey)
	if err != nil || !ok {
		return "", false, err
	}
	return string(raw), true, nil
}

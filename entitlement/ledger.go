package entitlement

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"snaptosize/kvstore"
)

// Cooldown is the minimum time between two free uses by the same identity component.
const Cooldown = 24 * time.Hour

const ledgerPrefix = "usage/"

// Ledger records the last free use per identity component. Each component
// kind has its own key space, so a check never takes a global lock.
type Ledger struct {
	kv kvstore.Store
}

func NewLedger(kv kvstore.Store) *Ledger {
	return &Ledger{kv: kv}
}

func ledgerKey(p part) string {
	return ledgerPrefix + string(p.kind) + "/" + p.value
}

// lastUse returns the recorded time for one component.
func (l *Ledger) lastUse(p part) (time.Time, bool, error) {
	data, err := l.kv.Get(ledgerKey(p))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	ns, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt ledger entry %s: %w", ledgerKey(p), err)
	}
	return time.Unix(0, ns), true, nil
}

// Fresh reports whether every present component is absent from the ledger or
// older than the cooldown.
func (l *Ledger) Fresh(id Identity, now time.Time) (bool, error) {
	for _, p := range id.parts() {
		last, ok, err := l.lastUse(p)
		if err != nil {
			return false, err
		}
		if ok && now.Sub(last) <= Cooldown {
			return false, nil
		}
	}
	return true, nil
}

// MarkUsed writes now for every present component in one batch.
func (l *Ledger) MarkUsed(id Identity, now time.Time) error {
	parts := id.parts()
	if len(parts) == 0 {
		return nil
	}
	value := []byte(strconv.FormatInt(now.UnixNano(), 10))
	ops := make([]kvstore.Op, 0, len(parts))
	for _, p := range parts {
		ops = append(ops, kvstore.Op{Key: ledgerKey(p), Value: value})
	}
	return l.kv.Apply(ops)
}

// Prune removes entries older than the cooldown. They no longer affect any decision.
func (l *Ledger) Prune(now time.Time) (int, error) {
	var stale []kvstore.Op
	err := l.kv.Scan(ledgerPrefix, func(key string, value []byte) bool {
		ns, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil || now.Sub(time.Unix(0, ns)) > Cooldown {
			stale = append(stale, kvstore.Op{Key: key, Delete: true})
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	return len(stale), l.kv.Apply(stale)
}

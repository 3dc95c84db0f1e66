package carrier

import (
	"fmt"
	"time"

	"github.com/tidwall/buntdb"
)

// BroadcastTTL bounds how long a recipient=ANY blob's uid is remembered
// before it is eligible to be treated as new again. Only the ledger entry
// expires: the broadcast blob itself stays on the medium, since no binding
// removes broadcast blobs.
const BroadcastTTL = 24 * time.Hour

// SeenLedger tracks which broadcast (recipient=ANY) uids a given listener
// has already consumed, since those blobs are never deleted from the
// medium (spec §4.1 "a lister MUST NOT delete; it MUST record the uid to
// avoid re-processing"). Backed by buntdb, an embeddable ordered
// key/value store that supports per-key expiry natively — the same
// library aistore depends on directly — so the expiry of ledger entries
// above falls out of SetOptions{Expires: true, TTL: ...} instead of a
// manual sweep goroutine.
type SeenLedger struct {
	db *buntdb.DB
}

// NewSeenLedger opens an in-memory ledger (path ":memory:") or a file-backed
// one for a long-lived process that wants the ledger to survive a restart.
func NewSeenLedger(path string) (*SeenLedger, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("carrier: seen ledger: %w", err)
	}
	return &SeenLedger{db: db}, nil
}

// MarkSeen records uid as consumed; subsequent Seen(uid) calls return true
// until BroadcastTTL elapses.
func (s *SeenLedger) MarkSeen(uid string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(uid, "1", &buntdb.SetOptions{Expires: true, TTL: BroadcastTTL})
		return err
	})
}

func (s *SeenLedger) Seen(uid string) bool {
	var seen bool
	s.db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get(uid)
		seen = err == nil
		return nil
	})
	return seen
}

func (s *SeenLedger) Close() error { return s.db.Close() }

package session

import (
	"sync"
	"time"

	"codecrew/pkg/proto"
)

// VersionLedger is the append-only record of every code version a session
// produced, in attempt order. Versions are never mutated or removed.
type VersionLedger struct {
	mu       sync.RWMutex
	versions []proto.VersionPayload
}

// NewVersionLedger creates an empty ledger.
func NewVersionLedger() *VersionLedger {
	return &VersionLedger{}
}

// Append records a new code version for the given attempt.
func (l *VersionLedger) Append(attempt int, code string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.versions = append(l.versions, proto.VersionPayload{
		Attempt:   attempt,
		Code:      code,
		Timestamp: time.Now().UTC(),
	})
}

// Latest returns the most recent version, false when the ledger is empty.
func (l *VersionLedger) Latest() (proto.VersionPayload, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.versions) == 0 {
		return proto.VersionPayload{}, false
	}
	return l.versions[len(l.versions)-1], true
}

// All returns a copy of every version in append order.
func (l *VersionLedger) All() []proto.VersionPayload {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]proto.VersionPayload, len(l.versions))
	copy(out, l.versions)
	return out
}

// Len returns the number of recorded versions.
func (l *VersionLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.versions)
}

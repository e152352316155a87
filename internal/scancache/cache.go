// Package scancache caches scan verdicts keyed by content digest so
// repeated submissions of identical bytes skip the daemon round trip.
package scancache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Entry is one cached verdict. Signature is set only for infected
// verdicts.
type Entry struct {
	Status    string    `json:"status"`
	Signature string    `json:"signature,omitempty"`
	ScanID    string    `json:"scan_id"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Cache is the verdict store. Get reports a miss with found=false and a
// nil error; errors are reserved for backend faults.
type Cache interface {
	Get(ctx context.Context, digest string) (Entry, bool, error)
	Set(ctx context.Context, digest string, entry Entry) error
	Close() error
}

// Digest renders the cache key for a content blob.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type memoryEntry struct {
	entry   Entry
	expires time.Time
}

// Memory is a process-local Cache for single-node deployments and tests.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

var _ Cache = (*Memory)(nil)

// NewMemory builds an in-memory cache. A zero ttl keeps entries until the
// process exits.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (m *Memory) Get(ctx context.Context, digest string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.entries[digest]
	if !ok {
		return Entry{}, false, nil
	}
	if !stored.expires.IsZero() && !m.now().Before(stored.expires) {
		delete(m.entries, digest)
		return Entry{}, false, nil
	}
	return stored.entry, true, nil
}

func (m *Memory) Set(ctx context.Context, digest string, entry Entry) error {
	var expires time.Time
	if m.ttl > 0 {
		expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[digest] = memoryEntry{entry: entry, expires: expires}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

// Package access implements the persistent, size-bounded cooldown cache
// that gates revisits to the same post (video) or author (user).
package access

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Kind is the record namespace.
type Kind string

// Record kinds.
const (
	KindVideo Kind = "video"
	KindUser  Kind = "user"
)

// Record is one cooldown entry. There is at most one per
// (Kind, Platform, Identifier).
type Record struct {
	Kind        Kind
	Platform    string
	Identifier  string
	LastVisitAt time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the cooldown has elapsed at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store persists access records.
type Store interface {
	// Get returns the record for the key, or nil when absent.
	Get(ctx context.Context, kind Kind, platform, identifier string) (*Record, error)
	// Upsert inserts or replaces the record atomically.
	Upsert(ctx context.Context, rec Record) error
	// DeleteExpired removes records with ExpiresAt <= now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	// EvictOldest removes up to n records, oldest ExpiresAt first.
	EvictOldest(ctx context.Context, n int) (int, error)
	Count(ctx context.Context) (int, error)
	CountByKind(ctx context.Context) (map[Kind]int, error)
	Close() error
}

type recordKey struct {
	kind       Kind
	platform   string
	identifier string
}

// MemoryStore is a Store that lives for one process. Used when persistence
// is disabled and in tests.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[recordKey]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[recordKey]Record)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, kind Kind, platform, identifier string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[recordKey{kind, platform, identifier}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[recordKey{rec.Kind, rec.Platform, rec.Identifier}] = rec
	return nil
}

// DeleteExpired implements Store.
func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, rec := range m.recs {
		if rec.Expired(now) {
			delete(m.recs, k)
			n++
		}
	}
	return n, nil
}

// EvictOldest implements Store.
func (m *MemoryStore) EvictOldest(_ context.Context, n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		return 0, nil
	}
	keys := make([]recordKey, 0, len(m.recs))
	for k := range m.recs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := m.recs[keys[i]], m.recs[keys[j]]
		if !a.ExpiresAt.Equal(b.ExpiresAt) {
			return a.ExpiresAt.Before(b.ExpiresAt)
		}
		return a.LastVisitAt.Before(b.LastVisitAt)
	})
	if n > len(keys) {
		n = len(keys)
	}
	for _, k := range keys[:n] {
		delete(m.recs, k)
	}
	return n, nil
}

// Count implements Store.
func (m *MemoryStore) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs), nil
}

// CountByKind implements Store.
func (m *MemoryStore) CountByKind(context.Context) (map[Kind]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[Kind]int{}
	for k := range m.recs {
		out[k.kind]++
	}
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

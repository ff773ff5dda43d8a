// Package slotlock provides the mutual-exclusion primitive that serializes
// concurrent reservation attempts for the same (tenant, time-bucket) pair.
//
// The lock is keyed, not row-based: a 64-bit key is derived from the tenant
// ID and the bucket containing the requested start time, so contenders for
// the same bucket serialize while unrelated tenants and buckets proceed in
// parallel. Acquisition is always try-lock: a held key is reported to the
// caller immediately, never queued, so booking latency stays bounded under
// contention.
//
// Two implementations exist and exactly one is active per deployment:
//
//   - PGAdvisory uses pg_try_advisory_xact_lock. The lock is owned by the
//     surrounding transaction and released by the database on commit,
//     rollback, or connection loss, so a crashed process can never leave a
//     bucket permanently locked.
//   - Local is an in-process keyed try-mutex for SQLite deployments and
//     tests, where all contenders share one process. The caller releases it
//     explicitly after the transaction ends.
package slotlock

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Key derives the advisory lock key for a tenant and the bucket containing
// start. Different tenants never map to the same key space on purpose: the
// tenant ID participates in the hash, so cross-tenant collisions are limited
// to hash coincidence rather than shared bucket arithmetic.
func Key(tenantID string, start time.Time, bucket time.Duration) int64 {
	h := fnv.New64a()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(start.UTC().Truncate(bucket).Unix(), 10)))
	return int64(h.Sum64())
}

// Bucket returns the bucket boundary containing start.
func Bucket(start time.Time, bucket time.Duration) time.Time {
	return start.UTC().Truncate(bucket)
}

// Locker attempts non-blocking acquisition of a keyed lock inside a
// transaction. ok is false when the key is currently held elsewhere. The
// returned release function must be called after the transaction ends; for
// transaction-owned locks it is a no-op.
type Locker interface {
	TryAcquire(tx *gorm.DB, key int64) (release func(), ok bool, err error)
}

// PGAdvisory acquires PostgreSQL transaction-scoped advisory locks.
// It requires tx to be an open transaction; the database releases the lock
// when that transaction ends.
type PGAdvisory struct{}

// TryAcquire issues pg_try_advisory_xact_lock for key within tx.
func (PGAdvisory) TryAcquire(tx *gorm.DB, key int64) (func(), bool, error) {
	var got bool
	if err := tx.Raw("SELECT pg_try_advisory_xact_lock(?)", key).Scan(&got).Error; err != nil {
		return nil, false, err
	}
	if !got {
		return nil, false, nil
	}
	return func() {}, true, nil
}

// Local is an in-process keyed try-mutex. It serves SQLite deployments and
// tests, where every contender lives in this process. Safe for concurrent
// use.
type Local struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// NewLocal returns an empty in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[int64]struct{})}
}

// TryAcquire claims key unless it is already held. The release function
// must run after the surrounding transaction commits or rolls back so the
// overlap check and insert stay covered.
func (l *Local) TryAcquire(_ *gorm.DB, key int64) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	release := func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}
	return release, true, nil
}

// ForDriver selects the production locker for a database driver name
// ("postgres" or "sqlite"). Postgres gets the advisory implementation;
// everything else falls back to the in-process locker.
func ForDriver(driver string) Locker {
	if driver == "postgres" {
		return PGAdvisory{}
	}
	return NewLocal()
}

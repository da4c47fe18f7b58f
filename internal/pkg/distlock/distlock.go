package distlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Factory hands out one DistLock per key. Each call returns a fresh lock
// instance so callers on different goroutines never share ownership state.
type Factory interface {
	NewLock(key string) DistLock
}

// NewFactory picks the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking).
// Otherwise falls back to PostgreSQL advisory locks, and to an in-process
// lock table when no database is configured either.
func NewFactory(redisClient *redis.Client, db *sql.DB, ttl time.Duration) Factory {
	switch {
	case redisClient != nil:
		return RedisFactory{Client: redisClient, TTL: ttl}
	case db != nil:
		return PGFactory{DB: db}
	default:
		return NewLocalFactory()
	}
}

// NewLock creates a distributed lock using the best available backend.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	return NewFactory(redisClient, db, ttl).NewLock(key)
}

// AcquireWait polls Acquire every interval until the lock is held or ctx
// is done.
func AcquireWait(ctx context.Context, l DistLock, interval time.Duration) error {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	for {
		ok, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for lock: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// RedisFactory builds RedisLocks sharing one client and TTL.
type RedisFactory struct {
	Client *redis.Client
	TTL    time.Duration
}

func (f RedisFactory) NewLock(key string) DistLock { return NewRedisLock(f.Client, key, f.TTL) }

// PGFactory builds advisory locks on one database.
type PGFactory struct {
	DB *sql.DB
}

func (f PGFactory) NewLock(key string) DistLock { return NewPGAdvisoryLock(f.DB, key) }

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// Uses pg_try_advisory_lock / pg_advisory_unlock which are session-scoped.
// The lock is automatically released if the DB connection drops, providing
// crash-safety similar to Redis TTL expiration. The connection is pinned
// between Acquire and Release so the unlock runs in the owning session.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
// Uses pg_try_advisory_lock which returns immediately (non-blocking).
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return false, nil
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release releases the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.conn.Close()
	l.conn = nil
	return err
}

// =============================================================================
// In-process lock table (single binary, no Redis or Postgres)
// =============================================================================

// LocalFactory hands out locks backed by a process-wide key set.
type LocalFactory struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalFactory() *LocalFactory {
	return &LocalFactory{held: make(map[string]bool)}
}

func (f *LocalFactory) NewLock(key string) DistLock {
	return &localLock{f: f, key: key}
}

type localLock struct {
	f     *LocalFactory
	key   string
	owned bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.f.mu.Lock()
	defer l.f.mu.Unlock()
	if l.owned || l.f.held[l.key] {
		return false, nil
	}
	l.f.held[l.key] = true
	l.owned = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	l.f.mu.Lock()
	defer l.f.mu.Unlock()
	if l.owned {
		delete(l.f.held, l.key)
		l.owned = false
	}
	return nil
}

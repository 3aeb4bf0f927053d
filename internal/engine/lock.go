package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ratchetdb/ratchet/api"
	"github.com/rs/zerolog"
)

// pinnedConn is a connection held for the lifetime of a lock. Advisory
// locks are session-scoped, so the same connection must carry both the lock
// and the unlock.
type pinnedConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

type connSource interface {
	Acquire(ctx context.Context) (pinnedConn, error)
}

type poolSource struct {
	pool *pgxpool.Pool
}

func (s poolSource) Acquire(ctx context.Context) (pinnedConn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// LockCoordinator serializes migration runs across processes using a
// Postgres advisory lock. Every process targeting the same database must be
// configured with the same key.
type LockCoordinator struct {
	source connSource
	key    int64
	poll   time.Duration
	log    zerolog.Logger
}

func NewLockCoordinator(pool *pgxpool.Pool, key int64, poll time.Duration, log zerolog.Logger) *LockCoordinator {
	return newLockCoordinator(poolSource{pool: pool}, key, poll, log)
}

func newLockCoordinator(source connSource, key int64, poll time.Duration, log zerolog.Logger) *LockCoordinator {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &LockCoordinator{
		source: source,
		key:    key,
		poll:   poll,
		log:    log.With().Str("component", "lock").Int64("lock_key", key).Logger(),
	}
}

// Acquire blocks up to timeout for the advisory lock. A zero timeout makes
// exactly one attempt. On timeout it fails with *api.LockTimeoutError and no
// side effects; on success the returned handle must be released on every
// exit path of the caller.
func (c *LockCoordinator) Acquire(ctx context.Context, timeout time.Duration) (*LockHandle, error) {
	conn, err := c.source.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to pin connection for migration lock: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		var locked bool
		if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", c.key).Scan(&locked); err != nil {
			conn.Release()
			return nil, fmt.Errorf("advisory lock attempt failed: %w", err)
		}
		if locked {
			c.log.Debug().Msg("migration lock acquired")
			return &LockHandle{conn: conn, key: c.key, log: c.log}, nil
		}

		if timeout == 0 || !time.Now().Add(c.poll).Before(deadline) {
			conn.Release()
			return nil, &api.LockTimeoutError{Key: c.key, Timeout: timeout}
		}

		select {
		case <-ctx.Done():
			conn.Release()
			return nil, ctx.Err()
		case <-time.After(c.poll):
		}
	}
}

// LockHandle represents a held migration lock.
type LockHandle struct {
	conn     pinnedConn
	key      int64
	log      zerolog.Logger
	released atomic.Bool
}

// Release frees the advisory lock and returns the pinned connection to the
// pool. It is idempotent; every call after the first is a no-op.
func (h *LockHandle) Release(ctx context.Context) error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	defer h.conn.Release()

	var unlocked bool
	if err := h.conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", h.key).Scan(&unlocked); err != nil {
		// The session ends when the connection is released, which drops the
		// lock server-side, so a failed unlock cannot leak it.
		return fmt.Errorf("advisory unlock failed: %w", err)
	}
	if !unlocked {
		return fmt.Errorf("advisory lock %d was not held by this session", h.key)
	}
	h.log.Debug().Msg("migration lock released")
	return nil
}

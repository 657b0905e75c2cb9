package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"hash/fnv"
	"time"
)

const unlockTimeout = 5 * time.Second

// Locker hands out session-level advisory locks. A lock is held on a
// dedicated connection so that it survives the transactions run while it is
// held, and it is released when the connection goes back to the pool.
type Locker struct {
	db     *DB
	unlock func(ctx context.Context, conn *sql.Conn, id int64) error
}

// NewLocker creates an advisory locker on db.
func NewLocker(db *DB) *Locker {
	return &Locker{db: db, unlock: advisoryUnlock}
}

func advisoryUnlock(ctx context.Context, conn *sql.Conn, id int64) error {
	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", id).Scan(&released); err != nil {
		return err
	}
	if !released {
		return fmt.Errorf("advisory lock %d was not held by the session", id)
	}
	return nil
}

// TryLock acquires the lease for key without waiting. A lease held elsewhere
// yields ErrConflict.
func (l *Locker) TryLock(ctx context.Context, key string) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for lock %s: %w", key, err)
	}

	id := lockID(key)

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !acquired {
		conn.Close()
		return nil, fmt.Errorf("lock %s: %w", key, ErrConflict)
	}

	release := func() {
		// The caller's context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		if err := l.unlock(ctx, conn, id); err != nil {
			l.db.logger.Warn("failed to release advisory lock, discarding connection", "key", key, "error", err)
			// The session may still hold the lock, so it must not go back to
			// the pool. Ending the session releases it.
			conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		conn.Close()
	}
	return release, nil
}

func lockID(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

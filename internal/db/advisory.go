package db

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
)

// LockKey maps a namespace and id to a Postgres advisory lock key.
func LockKey(namespace, id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64())
}

// AdvisoryLock blocks until the session-level advisory lock for key is held on a dedicated
// connection, or ctx is done. release unlocks and returns the connection to the pool; it must be called.
func AdvisoryLock(ctx context.Context, db *sql.DB, key int64) (release func(), err error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("advisory lock: conn: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		conn.Close()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	return unlocker(conn, key), nil
}

// TryAdvisoryLock is AdvisoryLock without waiting: ok is false when another session holds key.
func TryAdvisoryLock(ctx context.Context, db *sql.DB, key int64) (release func(), ok bool, err error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("advisory lock: conn: %w", err)
	}
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("advisory lock: %w", err)
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}
	return unlocker(conn, key), true, nil
}

func unlocker(conn *sql.Conn, key int64) func() {
	return func() {
		// Fresh context: a cancelled caller must still unlock.
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		_ = conn.Close()
	}
}

package seatsync

import (
	"context"
	"hash/fnv"

	"gorm.io/gorm"
)

// Advisory lock namespace for seat sync. Keys in other namespaces never
// collide with ours even if the int32 halves match.
const lockNamespace int32 = 21095 // 0x5267

// Locker is a non-blocking, cross-process mutex. The release func must be
// safe to call exactly once on every exit path.
type Locker interface {
	TryAcquire(ctx context.Context, key int32) (release func(), acquired bool, err error)
}

// LockKey folds an FNV-64a hash of the tenant id into a positive int32.
// A collision between two tenants only serializes their syncs against each
// other; it can never produce a wrong seat count.
func LockKey(tenantID string) int32 {
	h := fnv.New64a()
	h.Write([]byte(tenantID))
	sum := h.Sum64()
	return int32((sum ^ (sum >> 32)) & 0x7FFFFFFF)
}

// PGLocker acquires pg_try_advisory_lock on a dedicated pooled connection.
// Postgres scopes advisory locks to the session, so lock and unlock must run
// on the same connection; the release func owns that connection until called.
type PGLocker struct {
	db *gorm.DB
}

func NewPGLocker(db *gorm.DB) *PGLocker {
	return &PGLocker{db: db}
}

func (l *PGLocker) TryAcquire(ctx context.Context, key int32) (func(), bool, error) {
	sqlDB, err := l.db.DB()
	if err != nil {
		return nil, false, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, false, err
	}

	var acquired bool
	row := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1, $2)", lockNamespace, key)
	if err := row.Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, err
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}

	release := func() {
		// Release must not inherit a canceled request context.
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1, $2)", lockNamespace, key)
		_ = conn.Close()
	}
	return release, true, nil
}

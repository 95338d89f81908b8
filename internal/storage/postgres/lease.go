package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// LeaseStore grants at most one owner the right to sync a connection until
// the lease expires.
type LeaseStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewLeaseStore(db *sqlx.DB) *LeaseStore {
	return &LeaseStore{db: db, now: time.Now}
}

// Acquire takes or renews the lease for connectionID. It reports false when
// another owner holds an unexpired lease.
func (s *LeaseStore) Acquire(ctx context.Context, connectionID, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	query := `
		INSERT INTO sync_leases (connection_id, owner, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (connection_id) DO UPDATE SET
			owner = EXCLUDED.owner,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE sync_leases.expires_at <= EXCLUDED.acquired_at
			OR sync_leases.owner = EXCLUDED.owner`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, connectionID, owner, now, now.Add(ttl))
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return n == 1, nil
}

// Release drops the lease if owner still holds it.
func (s *LeaseStore) Release(ctx context.Context, connectionID, owner string) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM sync_leases WHERE connection_id = $1 AND owner = $2",
		connectionID, owner,
	)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

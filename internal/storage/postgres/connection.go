package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"integration_syncer/internal/domain"
)

const connectionColumns = `
	id, tenant_id, provider_id, auth_type, sync_enabled, sync_frequency_minutes,
	last_sync_at, next_sync_at, status, health_status, consecutive_failures,
	error_message, config, created_at, updated_at`

type ConnectionStore struct {
	db *sqlx.DB
}

func NewConnectionStore(db *sqlx.DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

// ListDue returns enabled connections whose next run is unset or at or before
// now, oldest first with never-synced connections leading.
func (s *ConnectionStore) ListDue(ctx context.Context, now time.Time, limit int, includeErrored bool) ([]domain.Connection, error) {
	statuses := []string{string(domain.StatusConnected)}
	if includeErrored {
		statuses = append(statuses, string(domain.StatusError))
	}

	query := `SELECT` + connectionColumns + `
		FROM integration_connections
		WHERE sync_enabled
			AND status = ANY($1)
			AND (next_sync_at IS NULL OR next_sync_at <= $2)
		ORDER BY next_sync_at ASC NULLS FIRST, id
		LIMIT $3`

	var conns []domain.Connection
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &conns, query, pq.Array(statuses), now, limit); err != nil {
		return nil, fmt.Errorf("select due connections: %w", err)
	}
	return conns, nil
}

func (s *ConnectionStore) Get(ctx context.Context, id string) (*domain.Connection, error) {
	var conn domain.Connection
	query := `SELECT` + connectionColumns + ` FROM integration_connections WHERE id = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &conn, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return &conn, nil
}

// UpdateSchedule persists the scheduling and health fields of conn. It never
// writes sync_enabled.
func (s *ConnectionStore) UpdateSchedule(ctx context.Context, conn *domain.Connection) error {
	query := `
		UPDATE integration_connections SET
			last_sync_at = $2,
			next_sync_at = $3,
			status = $4,
			health_status = $5,
			consecutive_failures = $6,
			error_message = $7,
			updated_at = NOW()
		WHERE id = $1`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		conn.ID,
		conn.LastSyncAt,
		conn.NextSyncAt,
		conn.Status,
		conn.HealthStatus,
		conn.ConsecutiveFailures,
		conn.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("update connection schedule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

// Create inserts a connection. It is used by provisioning tooling and tests.
func (s *ConnectionStore) Create(ctx context.Context, conn *domain.Connection) error {
	query := `
		INSERT INTO integration_connections (
			id, tenant_id, provider_id, auth_type, sync_enabled, sync_frequency_minutes,
			last_sync_at, next_sync_at, status, health_status, consecutive_failures,
			error_message, config
		) VALUES (
			:id, :tenant_id, :provider_id, :auth_type, :sync_enabled, :sync_frequency_minutes,
			:last_sync_at, :next_sync_at, :status, :health_status, :consecutive_failures,
			:error_message, :config
		)`

	if conn.Status == "" {
		conn.Status = domain.StatusConnected
	}
	if conn.HealthStatus == "" {
		conn.HealthStatus = domain.HealthHealthy
	}

	if _, err := sqlx.NamedExecContext(ctx, GetExecutor(ctx, s.db), query, conn); err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

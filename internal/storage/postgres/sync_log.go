package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"integration_syncer/internal/domain"
)

var ErrSyncLogClosed = errors.New("sync log already closed")

type SyncLogStore struct {
	db *sqlx.DB
}

func NewSyncLogStore(db *sqlx.DB) *SyncLogStore {
	return &SyncLogStore{db: db}
}

func (s *SyncLogStore) Create(ctx context.Context, log *domain.SyncLog) error {
	query := `
		INSERT INTO sync_logs (id, connection_id, tenant_id, sync_type, status, errors, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		log.ID,
		log.ConnectionID,
		log.TenantID,
		log.SyncType,
		log.Status,
		log.Errors,
		log.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sync log: %w", err)
	}
	return nil
}

// Close writes the final state of a started log. A log can be closed once.
func (s *SyncLogStore) Close(ctx context.Context, log *domain.SyncLog) error {
	query := `
		UPDATE sync_logs SET
			status = $2,
			records_processed = $3,
			records_created = $4,
			records_updated = $5,
			records_deleted = $6,
			errors = $7,
			completed_at = $8,
			duration_ms = $9
		WHERE id = $1 AND status = 'started'`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		log.ID,
		log.Status,
		log.RecordsProcessed,
		log.RecordsCreated,
		log.RecordsUpdated,
		log.RecordsDeleted,
		log.Errors,
		log.CompletedAt,
		log.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("close sync log: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close sync log: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sync log %s: %w", log.ID, ErrSyncLogClosed)
	}
	return nil
}

func (s *SyncLogStore) Get(ctx context.Context, id string) (*domain.SyncLog, error) {
	var log domain.SyncLog
	query := `
		SELECT id, connection_id, tenant_id, sync_type, status, records_processed,
			records_created, records_updated, records_deleted, errors, started_at,
			completed_at, duration_ms
		FROM sync_logs
		WHERE id = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &log, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync log %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sync log: %w", err)
	}
	return &log, nil
}

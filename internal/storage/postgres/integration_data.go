package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"integration_syncer/internal/domain"
)

// IntegrationDataStore keeps one normalized snapshot per
// (connection, data type, external id) and rewrites it only on change.
type IntegrationDataStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewIntegrationDataStore(db *sqlx.DB) *IntegrationDataStore {
	return &IntegrationDataStore{db: db, now: time.Now}
}

// ContentHash is the hex sha256 of the raw payload.
func ContentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Upsert inserts the record or overwrites it when the content hash differs,
// in a single statement. An identical payload performs no write.
func (s *IntegrationDataStore) Upsert(
	ctx context.Context,
	connectionID, dataType, externalID string,
	raw domain.RawPayload,
	normalized domain.Normalized,
) (domain.UpsertOutcome, error) {
	summary, err := json.Marshal(normalized.Summary)
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	controls := normalized.MappedControlIDs
	if controls == nil {
		controls = []string{}
	}

	query := `
		INSERT INTO integration_data (
			connection_id, data_type, external_id, raw_payload,
			normalized_summary, mapped_control_ids, content_hash, synced_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (connection_id, data_type, external_id) DO UPDATE SET
			raw_payload = EXCLUDED.raw_payload,
			normalized_summary = EXCLUDED.normalized_summary,
			mapped_control_ids = EXCLUDED.mapped_control_ids,
			content_hash = EXCLUDED.content_hash,
			synced_at = EXCLUDED.synced_at
		WHERE integration_data.content_hash <> EXCLUDED.content_hash
		RETURNING (xmax = 0)`

	var inserted bool
	err = GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		connectionID,
		dataType,
		externalID,
		string(raw),
		string(summary),
		pq.Array(controls),
		ContentHash(raw),
		s.now(),
	).Scan(&inserted)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.OutcomeUnchanged, nil
	case err != nil:
		return "", fmt.Errorf("upsert integration data: %w", err)
	case inserted:
		return domain.OutcomeCreated, nil
	default:
		return domain.OutcomeUpdated, nil
	}
}

// Get returns domain.ErrRecordNotFound when no record matches.
func (s *IntegrationDataStore) Get(ctx context.Context, connectionID, dataType, externalID string) (*domain.IntegrationDataRecord, error) {
	var rec domain.IntegrationDataRecord
	query := `
		SELECT id, connection_id, data_type, external_id, raw_payload, normalized_summary,
			mapped_control_ids, content_hash, synced_at
		FROM integration_data
		WHERE connection_id = $1 AND data_type = $2 AND external_id = $3`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &rec, query, connectionID, dataType, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get integration data: %w", err)
	}
	return &rec, nil
}

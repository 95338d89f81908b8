package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"integration_syncer/internal/domain"
)

// CredentialStore reads auth material that an external collaborator has
// already decrypted into connection_credentials.
type CredentialStore struct {
	db *sqlx.DB
}

func NewCredentialStore(db *sqlx.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Resolve(ctx context.Context, conn *domain.Connection) (domain.Credentials, error) {
	var row struct {
		Token        string `db:"token"`
		ClientID     string `db:"client_id"`
		ClientSecret string `db:"client_secret"`
	}

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row,
		"SELECT token, client_id, client_secret FROM connection_credentials WHERE connection_id = $1",
		conn.ID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Credentials{}, fmt.Errorf("no credentials for connection %s", conn.ID)
	}
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("get credentials: %w", err)
	}

	return domain.Credentials{
		Token:        row.Token,
		ClientID:     row.ClientID,
		ClientSecret: row.ClientSecret,
	}, nil
}

// Store writes credentials for a connection. It is used by provisioning
// tooling and tests.
func (s *CredentialStore) Store(ctx context.Context, connectionID string, creds domain.Credentials) error {
	query := `
		INSERT INTO connection_credentials (connection_id, token, client_id, client_secret)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (connection_id) DO UPDATE SET
			token = EXCLUDED.token,
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			updated_at = NOW()`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, connectionID, creds.Token, creds.ClientID, creds.ClientSecret)
	if err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	return nil
}

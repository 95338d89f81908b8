package domain

import (
	"log/slog"
	"time"
)

type ConnectionStatus string

const (
	StatusConnected ConnectionStatus = "connected"
	StatusError     ConnectionStatus = "error"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Connection is a tenant's configured link to one third-party provider.
type Connection struct {
	ID         string `db:"id"`
	TenantID   string `db:"tenant_id"`
	ProviderID string `db:"provider_id"`
	AuthType   string `db:"auth_type"`

	SyncEnabled          bool       `db:"sync_enabled"`
	SyncFrequencyMinutes int        `db:"sync_frequency_minutes"`
	LastSyncAt           *time.Time `db:"last_sync_at"`
	NextSyncAt           *time.Time `db:"next_sync_at"`

	Status              ConnectionStatus `db:"status"`
	HealthStatus        HealthStatus     `db:"health_status"`
	ConsecutiveFailures int              `db:"consecutive_failures"`
	ErrorMessage        *string          `db:"error_message"`

	// Config holds provider-specific parameters such as organization or tenant slugs.
	Config ConnectionConfig `db:"config"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SyncFrequency returns the configured frequency as a duration.
func (c *Connection) SyncFrequency() time.Duration {
	return time.Duration(c.SyncFrequencyMinutes) * time.Minute
}

// Credentials is the decrypted auth material for one connection. It is
// resolved by the credential collaborator and must never reach a log line.
type Credentials struct {
	Token        string
	ClientID     string
	ClientSecret string
}

func (Credentials) String() string {
	return "[redacted]"
}

func (Credentials) LogValue() slog.Value {
	return slog.StringValue("[redacted]")
}

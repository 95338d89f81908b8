package scheduler

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"integration_syncer/internal/domain"
	"integration_syncer/internal/provider"
)

// Syncer runs one connection sync.
type Syncer interface {
	SyncConnection(ctx context.Context, conn *domain.Connection, syncType domain.SyncType) (*domain.SyncResult, error)
}

type ConnectionStore interface {
	ListDue(ctx context.Context, now time.Time, limit int, includeErrored bool) ([]domain.Connection, error)
	Get(ctx context.Context, id string) (*domain.Connection, error)
	UpdateSchedule(ctx context.Context, conn *domain.Connection) error
}

type LeaseStore interface {
	Acquire(ctx context.Context, connectionID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, connectionID, owner string) error
}

type ProviderRegistry interface {
	Lookup(id string) (provider.Provider, bool)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

package api

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"integration_syncer/internal/domain"
)

// SyncRunner is the scheduler surface exposed over HTTP.
type SyncRunner interface {
	RunScheduledSyncs(ctx context.Context, trigger domain.Trigger) (*domain.RunReport, error)
	SyncOne(ctx context.Context, req domain.SyncRequest) (*domain.SyncResult, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

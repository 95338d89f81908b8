package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"integration_syncer/internal/domain"
	"integration_syncer/internal/provider"
)

type ProviderRegistry interface {
	Lookup(id string) (provider.Provider, bool)
}

type Fetcher interface {
	Fetch(ctx context.Context, p provider.Provider, e provider.Endpoint, conn *domain.Connection, creds domain.Credentials) (domain.RawPayload, error)
}

type Normalizer interface {
	Normalize(providerID, dataType string, raw domain.RawPayload) (domain.Normalized, error)
}

type IntegrationDataStore interface {
	Upsert(ctx context.Context, connectionID, dataType, externalID string, raw domain.RawPayload, normalized domain.Normalized) (domain.UpsertOutcome, error)
}

type SyncLogStore interface {
	Create(ctx context.Context, log *domain.SyncLog) error
	Close(ctx context.Context, log *domain.SyncLog) error
}

type CredentialStore interface {
	Resolve(ctx context.Context, conn *domain.Connection) (domain.Credentials, error)
}

type Publisher interface {
	Publish(ctx context.Context, event *domain.DataChangeEvent) error
	Close() error
}

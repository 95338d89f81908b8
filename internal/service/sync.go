package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"integration_syncer/internal/domain"
	"integration_syncer/internal/metrics"
	"integration_syncer/internal/provider"
)

const closeLogTimeout = 10 * time.Second

// SyncService runs every endpoint of one connection and records the attempt
// in a sync log.
type SyncService struct {
	registry    ProviderRegistry
	fetcher     Fetcher
	normalizer  Normalizer
	records     IntegrationDataStore
	syncLogs    SyncLogStore
	credentials CredentialStore
	publisher   Publisher
	metrics     *metrics.Metrics
	logger      *slog.Logger

	now func() time.Time
}

func NewSyncService(
	registry ProviderRegistry,
	fetcher Fetcher,
	normalizer Normalizer,
	records IntegrationDataStore,
	syncLogs SyncLogStore,
	credentials CredentialStore,
	publisher Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		registry:    registry,
		fetcher:     fetcher,
		normalizer:  normalizer,
		records:     records,
		syncLogs:    syncLogs,
		credentials: credentials,
		publisher:   publisher,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// SyncConnection fetches, normalizes and stores every endpoint of conn's
// provider. Endpoint failures are collected in the result and never abort
// sibling endpoints. The returned error is non-nil only for configuration
// errors, a failure to open the sync log, or a recovered panic.
func (s *SyncService) SyncConnection(ctx context.Context, conn *domain.Connection, syncType domain.SyncType) (result *domain.SyncResult, err error) {
	p, ok := s.registry.Lookup(conn.ProviderID)
	if !ok {
		return nil, &domain.ConfigError{
			Err:          domain.ErrProviderNotConfigured,
			ConnectionID: conn.ID,
			ProviderID:   conn.ProviderID,
		}
	}
	if !syncType.Valid() {
		syncType = domain.SyncTypeFull
	}

	logger := s.logger.With("connection_id", conn.ID, "provider", p.ID)
	startTime := s.now()

	syncLog := &domain.SyncLog{
		ID:           uuid.NewString(),
		ConnectionID: conn.ID,
		TenantID:     conn.TenantID,
		SyncType:     syncType,
		Status:       domain.SyncLogStarted,
		StartedAt:    startTime,
	}
	if err := s.syncLogs.Create(ctx, syncLog); err != nil {
		return nil, fmt.Errorf("create sync log: %w", err)
	}

	logger.Info("starting sync", "sync_log_id", syncLog.ID, "sync_type", syncType, "endpoints", len(p.Endpoints))

	result = &domain.SyncResult{
		ConnectionID: conn.ID,
		ProviderID:   p.ID,
		SyncLogID:    syncLog.ID,
		Endpoints:    make([]domain.EndpointResult, 0, len(p.Endpoints)),
		Errors:       []domain.EndpointError{},
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
			result.Errors = append(result.Errors, domain.EndpointError{Endpoint: "sync", Message: err.Error()})
			logger.Error("sync panicked", "panic", r)
		}

		result.Success = len(result.Errors) == 0
		result.SyncedAt = s.now()
		result.Duration = result.SyncedAt.Sub(startTime)

		s.closeLog(ctx, logger, syncLog, result)
		s.metrics.ObserveSync(p.ID, result.Success, result.Duration)

		logger.Info("sync completed",
			"success", result.Success,
			"processed", result.RecordsProcessed,
			"created", result.RecordsCreated,
			"updated", result.RecordsUpdated,
			"errors", len(result.Errors),
			"duration", result.Duration,
		)
	}()

	creds, err := s.credentials.Resolve(ctx, conn)
	if err != nil {
		logger.Warn("failed to resolve credentials", "error", err)
		result.Errors = append(result.Errors, domain.EndpointError{
			Endpoint: "credentials",
			Message:  fmt.Sprintf("resolve credentials: %v", err),
		})
		return result, nil
	}

	for _, e := range p.Endpoints {
		res := s.syncEndpoint(ctx, logger, p, e, conn, creds)
		result.Endpoints = append(result.Endpoints, res)

		if res.Error != "" {
			result.Errors = append(result.Errors, domain.EndpointError{Endpoint: e.DataType, Message: res.Error})
			continue
		}

		result.RecordsProcessed++
		switch res.Outcome {
		case domain.OutcomeCreated:
			result.RecordsCreated++
		case domain.OutcomeUpdated:
			result.RecordsUpdated++
		}
	}

	return result, nil
}

func (s *SyncService) syncEndpoint(
	ctx context.Context,
	logger *slog.Logger,
	p provider.Provider,
	e provider.Endpoint,
	conn *domain.Connection,
	creds domain.Credentials,
) (res domain.EndpointResult) {
	res = domain.EndpointResult{Endpoint: e.Path, DataType: e.DataType}
	logger = logger.With("data_type", e.DataType)

	// a panic on one payload fails this endpoint only
	defer func() {
		if r := recover(); r != nil {
			logger.Error("endpoint panicked", "panic", r)
			s.metrics.ObserveEndpoint(p.ID, e.DataType, false)
			res.Outcome = ""
			res.Error = fmt.Sprintf("endpoint panicked: %v", r)
		}
	}()

	fail := func(err error) domain.EndpointResult {
		logger.Warn("endpoint failed", "error", err)
		s.metrics.ObserveEndpoint(p.ID, e.DataType, false)
		res.Error = err.Error()
		return res
	}

	raw, err := s.fetcher.Fetch(ctx, p, e, conn, creds)
	if err != nil {
		return fail(err)
	}

	normalized, err := s.normalizer.Normalize(p.ID, e.DataType, raw)
	if err != nil {
		return fail(err)
	}

	externalID := domain.AggregateExternalID(e.DataType)
	outcome, err := s.records.Upsert(ctx, conn.ID, e.DataType, externalID, raw, normalized)
	if err != nil {
		return fail(fmt.Errorf("upsert record: %w", err))
	}

	res.Outcome = outcome
	s.metrics.ObserveEndpoint(p.ID, e.DataType, true)
	s.metrics.ObserveRecord(p.ID, string(outcome))
	logger.Debug("endpoint synced", "outcome", outcome, "controls", len(normalized.MappedControlIDs))

	if outcome != domain.OutcomeUnchanged {
		s.publish(ctx, logger, &domain.DataChangeEvent{
			Action:           outcome,
			ConnectionID:     conn.ID,
			TenantID:         conn.TenantID,
			ProviderID:       p.ID,
			DataType:         e.DataType,
			ExternalID:       externalID,
			Summary:          normalized.Summary,
			MappedControlIDs: normalized.MappedControlIDs,
			SyncedAt:         s.now(),
		})
	}

	return res
}

func (s *SyncService) publish(ctx context.Context, logger *slog.Logger, event *domain.DataChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish change event", "error", err)
	}
}

// closeLog runs on a context detached from cancellation so that a timed-out
// sync still closes its log.
func (s *SyncService) closeLog(ctx context.Context, logger *slog.Logger, syncLog *domain.SyncLog, result *domain.SyncResult) {
	completedAt := result.SyncedAt
	durationMs := result.Duration.Milliseconds()

	syncLog.Status = domain.SyncLogCompleted
	if !result.Success {
		syncLog.Status = domain.SyncLogFailed
	}
	syncLog.RecordsProcessed = result.RecordsProcessed
	syncLog.RecordsCreated = result.RecordsCreated
	syncLog.RecordsUpdated = result.RecordsUpdated
	syncLog.Errors = result.Errors
	syncLog.CompletedAt = &completedAt
	syncLog.DurationMs = &durationMs

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeLogTimeout)
	defer cancel()

	if err := s.syncLogs.Close(closeCtx, syncLog); err != nil {
		logger.Error("failed to close sync log", "sync_log_id", syncLog.ID, "error", err)
	}
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"integration_syncer/internal/config"
	"integration_syncer/internal/domain"
	"integration_syncer/internal/health"
	"integration_syncer/internal/metrics"
)

const (
	leaseGrace          = time.Minute
	persistStateTimeout = 10 * time.Second
)

// Scheduler selects due connections and syncs them one at a time. It is the
// only writer of a connection's scheduling and health fields.
type Scheduler struct {
	syncer      Syncer
	connections ConnectionStore
	leases      LeaseStore
	registry    ProviderRegistry
	txManager   TransactionManager
	metrics     *metrics.Metrics
	logger      *slog.Logger
	config      config.SchedulerConfig
	policy      health.Policy

	id  string
	now func() time.Time
}

func NewScheduler(
	syncer Syncer,
	connections ConnectionStore,
	leases LeaseStore,
	registry ProviderRegistry,
	txManager TransactionManager,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg config.SchedulerConfig,
) *Scheduler {
	id := uuid.NewString()
	return &Scheduler{
		syncer:      syncer,
		connections: connections,
		leases:      leases,
		registry:    registry,
		txManager:   txManager,
		metrics:     m,
		logger:      logger.With("scheduler_id", id),
		config:      cfg,
		policy: health.Policy{
			Cap:              cfg.BackoffCap,
			FailureThreshold: cfg.FailureThreshold,
		},
		id:  id,
		now: time.Now,
	}
}

// Start runs a batch immediately and then on every interval tick until ctx
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.config.Interval, "batch_size", s.config.BatchSize)

	s.runScheduled(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runScheduled(ctx)
		}
	}
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if _, err := s.RunScheduledSyncs(ctx, domain.TriggerScheduled); err != nil {
		s.logger.Error("scheduled run failed", "error", err)
	}
}

// RunScheduledSyncs syncs up to BatchSize due connections sequentially. A
// failing, panicking or timed-out connection does not stop the batch. ctx is
// checked between connections; on cancellation the partial report is
// returned with Cancelled set.
func (s *Scheduler) RunScheduledSyncs(ctx context.Context, trigger domain.Trigger) (*domain.RunReport, error) {
	startTime := s.now()
	report := &domain.RunReport{
		Trigger:   trigger,
		StartedAt: startTime,
		Results:   []domain.ConnectionResult{},
	}
	s.metrics.ObserveRun(string(trigger))

	due, err := s.connections.ListDue(ctx, startTime, s.config.BatchSize, s.config.RetryErrored)
	if err != nil {
		return nil, fmt.Errorf("list due connections: %w", err)
	}

	if len(due) == 0 {
		s.logger.Debug("no connections due", "trigger", trigger)
		report.DurationMs = s.now().Sub(startTime).Milliseconds()
		return report, nil
	}

	s.logger.Info("starting scheduled run", "trigger", trigger, "due", len(due))

	for i := range due {
		if ctx.Err() != nil {
			report.Cancelled = true
			s.logger.Warn("scheduled run cancelled", "remaining", len(due)-i)
			break
		}

		res, _ := s.process(ctx, &due[i], domain.SyncTypeFull)
		report.Add(res)
	}

	report.DurationMs = s.now().Sub(startTime).Milliseconds()

	s.logger.Info("scheduled run completed",
		"trigger", trigger,
		"processed", report.ProcessedCount,
		"success", report.SuccessCount,
		"failed", report.FailedCount,
		"skipped", report.SkippedCount,
		"duration_ms", report.DurationMs,
	)

	return report, nil
}

// SyncOne validates and syncs a single connection on request. Missing
// connections, tenant mismatches, unknown providers and disabled
// connections are rejected with a *domain.ConfigError before any side
// effect.
func (s *Scheduler) SyncOne(ctx context.Context, req domain.SyncRequest) (*domain.SyncResult, error) {
	conn, err := s.connections.Get(ctx, req.ConnectionID)
	if errors.Is(err, domain.ErrConnectionNotFound) {
		return nil, &domain.ConfigError{Err: domain.ErrConnectionNotFound, ConnectionID: req.ConnectionID}
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}

	if conn.TenantID != req.TenantID {
		return nil, &domain.ConfigError{Err: domain.ErrConnectionNotFound, ConnectionID: req.ConnectionID}
	}
	if _, ok := s.registry.Lookup(conn.ProviderID); !ok {
		return nil, &domain.ConfigError{Err: domain.ErrProviderNotConfigured, ConnectionID: conn.ID, ProviderID: conn.ProviderID}
	}
	if !conn.SyncEnabled {
		return nil, &domain.ConfigError{Err: domain.ErrSyncDisabled, ConnectionID: conn.ID, ProviderID: conn.ProviderID}
	}

	res, err := s.process(ctx, conn, req.SyncType)
	if res.Skipped {
		return nil, domain.ErrSyncInProgress
	}
	if res.Sync == nil {
		return nil, fmt.Errorf("sync connection: %w", err)
	}
	return res.Sync, nil
}

// process holds the connection lease for the duration of one sync, applies
// the health transition and persists it. Every call takes the lease under a
// fresh owner, so overlapping runs of the same Scheduler exclude each other.
func (s *Scheduler) process(ctx context.Context, conn *domain.Connection, syncType domain.SyncType) (domain.ConnectionResult, error) {
	startTime := s.now()
	logger := s.logger.With("connection_id", conn.ID, "provider", conn.ProviderID)
	res := domain.ConnectionResult{ConnectionID: conn.ID, ProviderID: conn.ProviderID}

	owner := uuid.NewString()
	acquired, err := s.leases.Acquire(ctx, conn.ID, owner, s.config.ConnectionTimeout+leaseGrace)
	if err != nil {
		logger.Error("failed to acquire lease", "error", err)
		res.Error = fmt.Sprintf("acquire lease: %v", err)
		res.DurationMs = s.now().Sub(startTime).Milliseconds()
		s.metrics.ObserveConnection("failure")
		return res, fmt.Errorf("acquire lease: %w", err)
	}
	if !acquired {
		logger.Info("connection leased elsewhere, skipping")
		res.Skipped = true
		res.Error = domain.ErrSyncInProgress.Error()
		s.metrics.ObserveConnection("skipped")
		return res, domain.ErrSyncInProgress
	}

	syncRes, syncErr := s.syncWithTimeout(ctx, conn, syncType)

	outcome := health.Outcome{Success: syncErr == nil && syncRes != nil && syncRes.Success}
	switch {
	case syncErr != nil:
		outcome.Error = syncErr.Error()
	case syncRes != nil:
		outcome.Error = syncRes.FirstError()
	}

	transition := health.Apply(*conn, outcome, s.now(), s.policy)
	transition.ApplyTo(conn)

	if err := s.persist(ctx, conn, owner); err != nil {
		logger.Error("failed to persist connection state", "error", err)
	}

	switch {
	case transition.Recovered:
		logger.Info("connection recovered")
		s.metrics.ObserveTransition("recovered")
	case transition.Tripped:
		logger.Warn("connection marked unhealthy", "consecutive_failures", conn.ConsecutiveFailures)
		s.metrics.ObserveTransition("tripped")
	}

	res.Success = outcome.Success
	res.Sync = syncRes
	if !outcome.Success {
		res.Error = outcome.Error
	}
	res.DurationMs = s.now().Sub(startTime).Milliseconds()

	if res.Success {
		s.metrics.ObserveConnection("success")
	} else {
		s.metrics.ObserveConnection("failure")
		logger.Warn("connection sync failed",
			"error", res.Error,
			"consecutive_failures", conn.ConsecutiveFailures,
			"next_sync_at", conn.NextSyncAt,
		)
	}

	return res, syncErr
}

// syncWithTimeout bounds one sync by ConnectionTimeout. The call runs on a
// context detached from ctx, so cancelling the batch never interrupts an
// in-flight fetch. Panics are converted into errors.
func (s *Scheduler) syncWithTimeout(ctx context.Context, conn *domain.Connection, syncType domain.SyncType) (*domain.SyncResult, error) {
	timeout := s.config.ConnectionTimeout
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	type outcome struct {
		res *domain.SyncResult
		err error
	}
	done := make(chan outcome, 1)

	// the syncer gets its own copy; conn is rewritten by the transition
	target := *conn

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("sync panicked: %v", r)}
			}
		}()
		res, err := s.syncer.SyncConnection(callCtx, &target, syncType)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-callCtx.Done():
		return nil, fmt.Errorf("sync timed out after %s", timeout)
	}
}

// persist writes the new schedule and releases the lease in one transaction.
func (s *Scheduler) persist(ctx context.Context, conn *domain.Connection, owner string) error {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistStateTimeout)
	defer cancel()

	return s.txManager.WithTransaction(persistCtx, func(txCtx context.Context) error {
		if err := s.connections.UpdateSchedule(txCtx, conn); err != nil {
			return err
		}
		return s.leases.Release(txCtx, conn.ID, owner)
	})
}

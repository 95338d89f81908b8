package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"integration_syncer/internal/config"
	"integration_syncer/internal/domain"
	"integration_syncer/internal/provider"
	"integration_syncer/internal/scheduler/mocks"
)

type SchedulerTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	syncer      *mocks.MockSyncer
	connections *mocks.MockConnectionStore
	leases      *mocks.MockLeaseStore
	registry    *mocks.MockProviderRegistry
	txManager   *mocks.MockTransactionManager

	scheduler *Scheduler
	cfg       config.SchedulerConfig
	now       time.Time
}

func (s *SchedulerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.syncer = mocks.NewMockSyncer(s.ctrl)
	s.connections = mocks.NewMockConnectionStore(s.ctrl)
	s.leases = mocks.NewMockLeaseStore(s.ctrl)
	s.registry = mocks.NewMockProviderRegistry(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)

	s.cfg = config.SchedulerConfig{
		Interval:          time.Minute,
		BatchSize:         10,
		ConnectionTimeout: time.Second,
		BackoffCap:        24 * time.Hour,
		FailureThreshold:  5,
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.scheduler = NewScheduler(
		s.syncer,
		s.connections,
		s.leases,
		s.registry,
		s.txManager,
		nil,
		logger,
		s.cfg,
	)

	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.scheduler.now = func() time.Time { return s.now }

	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		}).AnyTimes()
}

func (s *SchedulerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func connection(id string) domain.Connection {
	return domain.Connection{
		ID:                   id,
		TenantID:             "tenant-1",
		ProviderID:           "okta",
		SyncEnabled:          true,
		SyncFrequencyMinutes: 60,
		Status:               domain.StatusConnected,
		HealthStatus:         domain.HealthHealthy,
	}
}

func okResult(id string) *domain.SyncResult {
	return &domain.SyncResult{ConnectionID: id, ProviderID: "okta", Success: true, SyncLogID: "log-" + id}
}

func (s *SchedulerTestSuite) expectLease(id string) {
	var owner string
	s.leases.EXPECT().Acquire(gomock.Any(), id, gomock.Any(), s.cfg.ConnectionTimeout+leaseGrace).
		DoAndReturn(func(_ context.Context, _, o string, _ time.Duration) (bool, error) {
			owner = o
			return true, nil
		})
	s.leases.EXPECT().Release(gomock.Any(), id, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, o string) error {
			s.Equal(owner, o)
			return nil
		})
}

// leaseTable mirrors the lease store predicate: a lease is granted when
// it is free or already held by the same owner.
type leaseTable struct {
	mu     sync.Mutex
	owners map[string]string
}

func (l *leaseTable) acquire(_ context.Context, id, owner string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, held := l.owners[id]; held && cur != owner {
		return false, nil
	}
	l.owners[id] = owner
	return true, nil
}

func (l *leaseTable) release(_ context.Context, id, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owners[id] == owner {
		delete(l.owners, id)
	}
	return nil
}

func (s *SchedulerTestSuite) TestRunScheduledSyncs_NoneDue() {
	s.connections.EXPECT().ListDue(gomock.Any(), s.now, 10, false).Return(nil, nil)

	report, err := s.scheduler.RunScheduledSyncs(context.Background(), domain.TriggerScheduled)

	s.Require().NoError(err)
	s.Equal(0, report.ProcessedCount)
	s.Empty(report.Results)
	s.Equal(domain.TriggerScheduled, report.Trigger)
}

func (s *SchedulerTestSuite) TestRunScheduledSyncs_ListError() {
	s.connections.EXPECT().ListDue(gomock.Any(), s.now, 10, false).Return(nil, errors.New("db down"))

	report, err := s.scheduler.RunScheduledSyncs(context.Background(), domain.TriggerManual)

	s.Nil(report)
	s.Require().Error(err)
	s.Contains(err.Error(), "list due connections")
}

func (s *SchedulerTestSuite) TestRunScheduledSyncs_RetryErroredWidensSelection() {
	s.scheduler.config.RetryErrored = true
	s.connections.EXPECT().ListDue(gomock.Any(), s.now, 10, true).Return(nil, nil)

	_, err := s.scheduler.RunScheduledSyncs(context.Background(), domain.TriggerScheduled)
	s.Require().NoError(err)
}

func (s *SchedulerTestSuite) TestRunScheduledSyncs_BatchIsolation() {
	due := []domain.Connection{connection("c1"), connection("c2"), connection("c3")}
	s.connections.EXPECT().ListDue(gomock.Any(), s.now, 10, false).Return(due, nil)
	s.expectLease("c1")
	s.expectLease("c2")
	s.expectLease("c3")

	gomock.InOrder(
		s.syncer.EXPECT().SyncConnection(gomock.Any(), gomock.Any(), domain.SyncTypeFull).Return(okResult("c1"), nil),
		s.syncer.EXPECT().SyncConnection(gomock.Any(), gomock.Any(), domain.SyncTypeFull).
			DoAndReturn(func(context.Context, *domain.Connection, domain.SyncType) (*domain.SyncResult, error) {
				panic("nil map write")
			}),
		s.syncer.EXPECT().SyncConnection(gomock.Any(), gomock.Any(), domain.SyncTypeFull).Return(okResult("c3"), nil),
	)

	updated := map[string]domain.Connection{}
	s.connections.EXPECT().UpdateSchedule(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, c *domain.Connection) error {
			updated[c.ID] = *c
			return nil
		}).Times(3)

	report, err := s.scheduler.RunScheduledSyncs(context.Background(), domain.TriggerScheduled)

	s.Require().NoError(err)
	s.Equal(3, report.ProcessedCount)
	s.Equal(2, report.SuccessCount)
	s.Equal(1, report.FailedCount)
	s.Require().Len(report.Results, 3)

	s.True(report.Results[0].Success)
	s.False(report.Results[1].Success)
	s.Contains(report.Results[1].Error, "nil map write")
	s.True(report.Results[2].Success)

	s.Equal(0, updated["c1"].ConsecutiveFailures)
	s.Equal(1, updated["c2"].ConsecutiveFailures)
	s.Equal(s.now.Add(time.Hour), *updated["c1"].NextSyncAt)
	s.Equal(s.now.Add(time.Hour), *updated["c2"].NextSyncAt)
	s.Equal(s.now, *updated["c3"].LastSyncAt)
}

func (s *SchedulerTestSuite) TestRunScheduledSyncs_OverlappingRunsSyncOnce() {
	table := &leaseTable{owners: map[string]string{}}
	s.leases.EXPECT().Acquire(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(table.acquire).Times(2)
	s.leases.EXPECT().Release(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(table.release).Times(1)

	s.connections.EXPECT().ListDue(gomock.Any(), s.now, 10, false).
		DoAndReturn(func(context.Context, time.Time, int, bool) ([]domain.Connection, error) {
			return []domain.Connection{connection("conn-1")}, nil
		}).Times(2)
	s.connections.EXPECT().UpdateSchedule(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	s.syncer.EXPECT().SyncConnection(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, c *domain.Connection, _ domain.SyncType) (*domain.SyncResult, error) {
			mu.Lock()
			inFlight++
			maxInFlight = max(maxInFlight, inFlight)
			mu.Unlock()

			close(started)
			<-release

			mu.Lock()
			inFlight--
			mu.Unlock()
			return okResult(c.ID), nil
		}).Times(1)

	first := make(chan *domain.RunReport, 1)
	go func() {
		report, _ := s.scheduler.RunScheduledSyncs(context.Background(), domain.TriggerScheduled)
		first <- report
	}()

	<-started
	second, err := s.scheduler.RunScheduledSyncs(context.Background(), domain.TriggerManual)
	s.Require().NoError(err)
	close(release)

	firstReport := <-first
	s.Require().NotNil(firstReport)

	s.Equal(1, firstReport.SuccessCount)
	s.Equal(1, second.SkippedCount)
	s.Equal(0, second.SuccessCount)
	s.Equal(1, maxInFlight)
	s.Empty(table.owners)
}

func (s *SchedulerTestSuite) TestRunScheduledSyncs_TimeoutIsFailure() {
	s.scheduler.config.ConnectionTimeout = 50 * time.Millisecond

	release := make(chan struct{})
	defer close(release)

	due := []domain.Connection{connection("slow"), connection("fast")}
	s.connections.EXPECT().ListDue(gomock.Any(), s.now, 10, false).Return(due, nil)
	s.leases.EXPECT().Acquire(gomock.Any(), gomock.Any(), gomock.Any(), 50*time.Millisecond+leaseGrace).Return(true, nil).Times(2)
	s.leases.EXPECT().Release(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)

	s.syncer.EXPECT().SyncConnection(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, c *domain.Connection, _ domain.SyncType) (*domain.SyncResult, error) {
			if c.ID == "slow" {
				<-release
			}
			return okResult(c.ID), nil
		}).Times(2)
	s.connections.EXPECT().UpdateSchedule(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	report, err := s.scheduler.RunScheduledSyncs(context.Background(), domain.TriggerScheduled)

	s.Require().NoError(err)
	s.Equal(2, report.ProcessedCount)
	s.Equal(1, report.FailedCount)
	s.Equal("sync timed out after 50ms", report.Results[0].Error)
	s.True(report.Results[1].Success)
}

func (s *SchedulerTestSuite) TestRunScheduledSyncs_LeaseHeldElsewhere() {
	due := []domain.Connection{connection("c1")}
	s.connections.EXPECT().ListDue(gomock.Any(), s.now, 10, false).Return(due, nil)
	s.leases.EXPECT().Acquire(gomock.Any(), "c1", gomock.Any(), gomock.Any()).Return(false, nil)

	report, err := s.scheduler.RunScheduledSyncs(context.Background(), domain.TriggerScheduled)

	s.Require().NoError(err)
	s.Equal(0, report.ProcessedCount)
	s.Equal(1, report.SkippedCount)
	s.True(report.Results[0].Skipped)
}

func (s *SchedulerTestSuite) TestRunScheduledSyncs_LeaseErrorDoesNotAbortBatch() {
	due := []domain.Connection{connection("c1"), connection("c2")}
	s.connections.EXPECT().ListDue(gomock.Any(), s.now, 10, false).Return(due, nil)
	s.leases.EXPECT().Acquire(gomock.Any(), "c1", gomock.Any(), gomock.Any()).Return(false, errors.New("deadlock detected"))
	s.expectLease("c2")
	s.syncer.EXPECT().SyncConnection(gomock.Any(), gomock.Any(), gomock.Any()).Return(okResult("c2"), nil)
	s.connections.EXPECT().UpdateSchedule(gomock.Any(), gomock.Any()).Return(nil)

	report, err := s.scheduler.RunScheduledSyncs(context.Background(), domain.TriggerScheduled)

	s.Require().NoError(err)
	s.Equal(2, report.ProcessedCount)
	s.Equal(1, report.FailedCount)
	s.Equal(1, report.SuccessCount)
}

func (s *SchedulerTestSuite) TestRunScheduledSyncs_CancelledBetweenConnections() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	due := []domain.Connection{connection("c1"), connection("c2"), connection("c3")}
	s.connections.EXPECT().ListDue(gomock.Any(), s.now, 10, false).Return(due, nil)
	s.expectLease("c1")
	s.syncer.EXPECT().SyncConnection(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(callCtx context.Context, c *domain.Connection, _ domain.SyncType) (*domain.SyncResult, error) {
			cancel()
			s.NoError(callCtx.Err())
			return okResult(c.ID), nil
		})
	s.connections.EXPECT().UpdateSchedule(gomock.Any(), gomock.Any()).Return(nil)

	report, err := s.scheduler.RunScheduledSyncs(ctx, domain.TriggerManual)

	s.Require().NoError(err)
	s.True(report.Cancelled)
	s.Equal(1, report.ProcessedCount)
	s.Len(report.Results, 1)
}

func (s *SchedulerTestSuite) TestRunScheduledSyncs_ThresholdTransition() {
	conn := connection("c1")
	conn.ConsecutiveFailures = 4
	s.connections.EXPECT().ListDue(gomock.Any(), s.now, 10, false).Return([]domain.Connection{conn}, nil)
	s.expectLease("c1")
	s.syncer.EXPECT().SyncConnection(gomock.Any(), gomock.Any(), gomock.Any()).Return(&domain.SyncResult{
		ConnectionID: "c1",
		Errors:       []domain.EndpointError{{Endpoint: "users", Message: "HTTP 401: 401 Unauthorized"}},
	}, nil)

	var saved domain.Connection
	s.connections.EXPECT().UpdateSchedule(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, c *domain.Connection) error {
			saved = *c
			return nil
		})

	report, err := s.scheduler.RunScheduledSyncs(context.Background(), domain.TriggerScheduled)

	s.Require().NoError(err)
	s.Equal(1, report.FailedCount)
	s.Equal("users: HTTP 401: 401 Unauthorized", report.Results[0].Error)

	s.Equal(5, saved.ConsecutiveFailures)
	s.Equal(domain.StatusError, saved.Status)
	s.Equal(domain.HealthUnhealthy, saved.HealthStatus)
	s.Equal("users: HTTP 401: 401 Unauthorized", *saved.ErrorMessage)
	s.Equal(s.now.Add(960*time.Minute), *saved.NextSyncAt)
	s.True(saved.SyncEnabled)
}

func (s *SchedulerTestSuite) TestRunScheduledSyncs_PersistFailureKeepsResult() {
	s.connections.EXPECT().ListDue(gomock.Any(), s.now, 10, false).Return([]domain.Connection{connection("c1")}, nil)
	s.leases.EXPECT().Acquire(gomock.Any(), "c1", gomock.Any(), gomock.Any()).Return(true, nil)
	s.syncer.EXPECT().SyncConnection(gomock.Any(), gomock.Any(), gomock.Any()).Return(okResult("c1"), nil)
	s.connections.EXPECT().UpdateSchedule(gomock.Any(), gomock.Any()).Return(errors.New("conn reset"))

	report, err := s.scheduler.RunScheduledSyncs(context.Background(), domain.TriggerScheduled)

	s.Require().NoError(err)
	s.Equal(1, report.SuccessCount)
}

func (s *SchedulerTestSuite) TestSyncOne_Validation() {
	disabled := connection("disabled")
	disabled.SyncEnabled = false
	unknown := connection("unknown")
	unknown.ProviderID = "acme"
	other := connection("other")
	other.TenantID = "tenant-2"

	s.connections.EXPECT().Get(gomock.Any(), "missing").Return(nil, domain.ErrConnectionNotFound)
	s.connections.EXPECT().Get(gomock.Any(), "other").Return(&other, nil)
	s.connections.EXPECT().Get(gomock.Any(), "unknown").Return(&unknown, nil)
	s.connections.EXPECT().Get(gomock.Any(), "disabled").Return(&disabled, nil)
	s.registry.EXPECT().Lookup("acme").Return(provider.Provider{}, false)
	s.registry.EXPECT().Lookup("okta").Return(provider.Provider{ID: "okta"}, true)

	tests := []struct {
		id   string
		want error
	}{
		{"missing", domain.ErrConnectionNotFound},
		{"other", domain.ErrConnectionNotFound},
		{"unknown", domain.ErrProviderNotConfigured},
		{"disabled", domain.ErrSyncDisabled},
	}

	for _, tt := range tests {
		res, err := s.scheduler.SyncOne(context.Background(), domain.SyncRequest{
			ConnectionID: tt.id,
			TenantID:     "tenant-1",
			SyncType:     domain.SyncTypeFull,
		})
		s.Nil(res, tt.id)
		s.ErrorIs(err, tt.want, tt.id)
		s.True(domain.IsConfigError(err), tt.id)
	}
}

func (s *SchedulerTestSuite) TestSyncOne_Success() {
	conn := connection("c1")
	conn.Status = domain.StatusError
	conn.HealthStatus = domain.HealthUnhealthy
	conn.ConsecutiveFailures = 7

	s.connections.EXPECT().Get(gomock.Any(), "c1").Return(&conn, nil)
	s.registry.EXPECT().Lookup("okta").Return(provider.Provider{ID: "okta"}, true)
	s.expectLease("c1")
	s.syncer.EXPECT().SyncConnection(gomock.Any(), gomock.Any(), domain.SyncTypeIncremental).Return(okResult("c1"), nil)
	s.connections.EXPECT().UpdateSchedule(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, c *domain.Connection) error {
			s.Equal(domain.StatusConnected, c.Status)
			s.Equal(0, c.ConsecutiveFailures)
			s.Nil(c.ErrorMessage)
			return nil
		})

	res, err := s.scheduler.SyncOne(context.Background(), domain.SyncRequest{
		ConnectionID: "c1",
		TenantID:     "tenant-1",
		SyncType:     domain.SyncTypeIncremental,
	})

	s.Require().NoError(err)
	s.True(res.Success)
	s.Equal("log-c1", res.SyncLogID)
}

func (s *SchedulerTestSuite) TestSyncOne_InProgress() {
	conn := connection("c1")
	s.connections.EXPECT().Get(gomock.Any(), "c1").Return(&conn, nil)
	s.registry.EXPECT().Lookup("okta").Return(provider.Provider{ID: "okta"}, true)
	s.leases.EXPECT().Acquire(gomock.Any(), "c1", gomock.Any(), gomock.Any()).Return(false, nil)

	res, err := s.scheduler.SyncOne(context.Background(), domain.SyncRequest{ConnectionID: "c1", TenantID: "tenant-1"})

	s.Nil(res)
	s.ErrorIs(err, domain.ErrSyncInProgress)
}

func (s *SchedulerTestSuite) TestStart_StopsOnCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	s.connections.EXPECT().ListDue(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, time.Time, int, bool) ([]domain.Connection, error) {
			cancel()
			return nil, nil
		})

	err := s.scheduler.Start(ctx)
	s.ErrorIs(err, context.Canceled)
}

// Package health computes a connection's schedule and health fields after a
// sync attempt. It performs no I/O.
package health

import (
	"math"
	"time"

	"integration_syncer/internal/domain"
)

const (
	DefaultFrequency        = 60 * time.Minute
	DefaultCap              = 24 * time.Hour
	DefaultFailureThreshold = 5
)

// ComputeNextRun returns the delay before the next attempt of a connection
// that has failed consecutiveFailures times in a row.
func ComputeNextRun(frequency time.Duration, consecutiveFailures int, cap time.Duration) time.Duration {
	if consecutiveFailures <= 0 {
		return frequency
	}
	if cap > 0 && frequency >= cap {
		return cap
	}

	delay := frequency
	for i := 1; i < consecutiveFailures; i++ {
		if cap > 0 && delay >= cap {
			break
		}
		delay *= 2
		if delay <= 0 {
			// overflow
			if cap > 0 {
				return cap
			}
			return math.MaxInt64
		}
	}

	if cap > 0 && delay > cap {
		return cap
	}
	return delay
}

// Policy holds the backoff and threshold parameters.
type Policy struct {
	Cap              time.Duration
	FailureThreshold int
	DefaultFrequency time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Cap:              DefaultCap,
		FailureThreshold: DefaultFailureThreshold,
		DefaultFrequency: DefaultFrequency,
	}
}

func (p Policy) withDefaults() Policy {
	if p.Cap <= 0 {
		p.Cap = DefaultCap
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = DefaultFailureThreshold
	}
	if p.DefaultFrequency <= 0 {
		p.DefaultFrequency = DefaultFrequency
	}
	return p
}

// Outcome is the result of one sync attempt as seen by the state machine.
type Outcome struct {
	Success bool
	Error   string
}

// Transition is the new schedule and health state of a connection.
type Transition struct {
	Status              domain.ConnectionStatus
	HealthStatus        domain.HealthStatus
	ConsecutiveFailures int
	ErrorMessage        *string
	LastSyncAt          time.Time
	NextSyncAt          time.Time

	// Recovered is set when a connection in error state succeeded.
	Recovered bool
	// Tripped is set when this failure crossed the threshold.
	Tripped bool
}

// Apply computes the transition for conn given the outcome observed at now.
func Apply(conn domain.Connection, outcome Outcome, now time.Time, policy Policy) Transition {
	policy = policy.withDefaults()

	frequency := conn.SyncFrequency()
	if frequency <= 0 {
		frequency = policy.DefaultFrequency
	}

	if outcome.Success {
		return Transition{
			Status:              domain.StatusConnected,
			HealthStatus:        domain.HealthHealthy,
			ConsecutiveFailures: 0,
			ErrorMessage:        nil,
			LastSyncAt:          now,
			NextSyncAt:          now.Add(frequency),
			Recovered:           conn.Status == domain.StatusError,
		}
	}

	failures := conn.ConsecutiveFailures + 1
	if conn.ConsecutiveFailures < 0 {
		failures = 1
	}

	msg := outcome.Error
	if msg == "" {
		msg = "sync failed"
	}

	t := Transition{
		Status:              conn.Status,
		HealthStatus:        conn.HealthStatus,
		ConsecutiveFailures: failures,
		ErrorMessage:        &msg,
		LastSyncAt:          now,
		NextSyncAt:          now.Add(ComputeNextRun(frequency, failures, policy.Cap)),
	}
	if t.Status == "" {
		t.Status = domain.StatusConnected
	}
	if t.HealthStatus == "" {
		t.HealthStatus = domain.HealthHealthy
	}

	if failures >= policy.FailureThreshold {
		t.Tripped = conn.Status != domain.StatusError
		t.Status = domain.StatusError
		t.HealthStatus = domain.HealthUnhealthy
	}

	return t
}

// ApplyTo copies the transition onto conn.
func (t Transition) ApplyTo(conn *domain.Connection) {
	last, next := t.LastSyncAt, t.NextSyncAt
	conn.Status = t.Status
	conn.HealthStatus = t.HealthStatus
	conn.ConsecutiveFailures = t.ConsecutiveFailures
	conn.ErrorMessage = t.ErrorMessage
	conn.LastSyncAt = &last
	conn.NextSyncAt = &next
}

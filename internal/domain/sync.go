package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type SyncType string

const (
	SyncTypeFull        SyncType = "full"
	SyncTypeIncremental SyncType = "incremental"
)

// Valid reports whether t is a known sync type.
func (t SyncType) Valid() bool {
	return t == SyncTypeFull || t == SyncTypeIncremental
}

type SyncLogStatus string

const (
	SyncLogStarted   SyncLogStatus = "started"
	SyncLogCompleted SyncLogStatus = "completed"
	SyncLogFailed    SyncLogStatus = "failed"
)

// EndpointError is one endpoint-level failure recorded during a sync.
type EndpointError struct {
	Endpoint string `json:"endpoint"`
	Message  string `json:"message"`
}

// EndpointErrors is stored as a JSONB array on the sync log.
type EndpointErrors []EndpointError

func (e EndpointErrors) Value() (driver.Value, error) {
	if e == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e)
}

func (e *EndpointErrors) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*e = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported errors type %T", src)
	}
	return json.Unmarshal(data, (*[]EndpointError)(e))
}

// SyncLog is the append-only audit record of one sync attempt.
type SyncLog struct {
	ID               string         `db:"id"`
	ConnectionID     string         `db:"connection_id"`
	TenantID         string         `db:"tenant_id"`
	SyncType         SyncType       `db:"sync_type"`
	Status           SyncLogStatus  `db:"status"`
	RecordsProcessed int            `db:"records_processed"`
	RecordsCreated   int            `db:"records_created"`
	RecordsUpdated   int            `db:"records_updated"`
	RecordsDeleted   int            `db:"records_deleted"`
	Errors           EndpointErrors `db:"errors"`
	StartedAt        time.Time      `db:"started_at"`
	CompletedAt      *time.Time     `db:"completed_at"`
	DurationMs       *int64         `db:"duration_ms"`
}

// EndpointResult is the outcome of one endpoint within a sync.
type EndpointResult struct {
	Endpoint string        `json:"endpoint"`
	DataType string        `json:"dataType"`
	Outcome  UpsertOutcome `json:"outcome,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// SyncResult aggregates all endpoint outcomes of one connection sync.
type SyncResult struct {
	ConnectionID     string           `json:"connectionId"`
	ProviderID       string           `json:"providerId"`
	SyncLogID        string           `json:"syncLogId"`
	Success          bool             `json:"success"`
	RecordsProcessed int              `json:"recordsProcessed"`
	RecordsCreated   int              `json:"recordsCreated"`
	RecordsUpdated   int              `json:"recordsUpdated"`
	Endpoints        []EndpointResult `json:"results"`
	Errors           []EndpointError  `json:"errors"`
	SyncedAt         time.Time        `json:"syncedAt"`
	Duration         time.Duration    `json:"-"`
}

// FirstError returns the message of the first recorded endpoint error.
func (r *SyncResult) FirstError() string {
	if r == nil || len(r.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("%s: %s", r.Errors[0].Endpoint, r.Errors[0].Message)
}

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// SyncRequest asks for a single connection to be synced now.
type SyncRequest struct {
	ConnectionID string
	TenantID     string
	SyncType     SyncType
}

// ConnectionResult is one line of a scheduler run report.
type ConnectionResult struct {
	ConnectionID string      `json:"connectionId"`
	ProviderID   string      `json:"providerId"`
	Success      bool        `json:"success"`
	Skipped      bool        `json:"skipped,omitempty"`
	DurationMs   int64       `json:"durationMs"`
	Error        string      `json:"error,omitempty"`
	Sync         *SyncResult `json:"-"`
}

// RunReport summarizes one scheduler invocation.
type RunReport struct {
	Trigger        Trigger            `json:"trigger"`
	ProcessedCount int                `json:"processedCount"`
	SuccessCount   int                `json:"successCount"`
	FailedCount    int                `json:"failedCount"`
	SkippedCount   int                `json:"skippedCount"`
	Cancelled      bool               `json:"cancelled,omitempty"`
	Results        []ConnectionResult `json:"results"`
	StartedAt      time.Time          `json:"startedAt"`
	DurationMs     int64              `json:"durationMs"`
}

// Add accumulates a connection result into the report counters.
func (r *RunReport) Add(res ConnectionResult) {
	r.Results = append(r.Results, res)
	switch {
	case res.Skipped:
		r.SkippedCount++
		return
	case res.Success:
		r.SuccessCount++
	default:
		r.FailedCount++
	}
	r.ProcessedCount++
}

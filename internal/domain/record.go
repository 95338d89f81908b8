package domain

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// RawPayload is the undecoded JSON body returned by a provider endpoint.
type RawPayload json.RawMessage

type UpsertOutcome string

const (
	OutcomeCreated   UpsertOutcome = "created"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

// Normalized is the provider-independent view of one endpoint payload.
type Normalized struct {
	Summary          map[string]any
	MappedControlIDs []string
}

// IntegrationDataRecord is the stored snapshot of one endpoint for one connection.
type IntegrationDataRecord struct {
	ID                int64           `db:"id"`
	ConnectionID      string          `db:"connection_id"`
	DataType          string          `db:"data_type"`
	ExternalID        string          `db:"external_id"`
	RawPayload        json.RawMessage `db:"raw_payload"`
	NormalizedSummary json.RawMessage `db:"normalized_summary"`
	MappedControlIDs  pq.StringArray  `db:"mapped_control_ids"`
	ContentHash       string          `db:"content_hash"`
	SyncedAt          time.Time       `db:"synced_at"`
}

// AggregateExternalID is the key used when a data type is stored as one aggregate.
func AggregateExternalID(dataType string) string {
	return dataType + "-aggregate"
}

// DataChangeEvent is published when a record is created or updated.
type DataChangeEvent struct {
	Action           UpsertOutcome  `json:"action"`
	ConnectionID     string         `json:"connectionId"`
	TenantID         string         `json:"tenantId"`
	ProviderID       string         `json:"providerId"`
	DataType         string         `json:"dataType"`
	ExternalID       string         `json:"externalId"`
	Summary          map[string]any `json:"summary"`
	MappedControlIDs []string       `json:"mappedControlIds"`
	SyncedAt         time.Time      `json:"syncedAt"`
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionNotFound    = errors.New("connection not found")
	ErrProviderNotConfigured = errors.New("provider not configured")
	ErrSyncDisabled          = errors.New("sync disabled")
	ErrRecordNotFound        = errors.New("integration data record not found")
)

// ConfigError is a configuration problem detected before any provider is contacted.
type ConfigError struct {
	Err          error
	ConnectionID string
	ProviderID   string
}

func (e *ConfigError) Error() string {
	if e.ProviderID != "" {
		return fmt.Sprintf("connection %s (provider %s): %v", e.ConnectionID, e.ProviderID, e.Err)
	}
	return fmt.Sprintf("connection %s: %v", e.ConnectionID, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is one of the configuration errors.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// ErrSyncInProgress is returned when another scheduler holds the connection's lease.
var ErrSyncInProgress = errors.New("sync already in progress")

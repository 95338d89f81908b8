package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ConnectionConfig is the opaque provider configuration stored as JSONB.
type ConnectionConfig map[string]string

func (c ConnectionConfig) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

func (c *ConnectionConfig) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = ConnectionConfig{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported config type %T", src)
	}

	cfg := ConnectionConfig{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("decode connection config: %w", err)
	}
	*c = cfg
	return nil
}

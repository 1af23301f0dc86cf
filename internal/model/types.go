package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONMap is a JSONB column decoded as a generic map.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	switch t := src.(type) {
	case []byte:
		return json.Unmarshal(t, m)
	case string:
		return json.Unmarshal([]byte(t), m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
}

// ColumnDef describes one column in a user table's declared schema.
// Nullable defaults to true when omitted, matching the create-table payload
// contract.
type ColumnDef struct {
	Type     string  `json:"type"`
	Nullable *bool   `json:"nullable,omitempty"`
	Default  *string `json:"default,omitempty"`
}

// IsNullable reports the effective nullability.
func (c ColumnDef) IsNullable() bool { return c.Nullable == nil || *c.Nullable }

// TableSchema is the JSON map column-name -> definition stored on a registry
// entry.
type TableSchema map[string]ColumnDef

func (s TableSchema) Value() (driver.Value, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s)
}

func (s *TableSchema) Scan(src any) error {
	if src == nil {
		*s = nil
		return nil
	}
	switch t := src.(type) {
	case []byte:
		return json.Unmarshal(t, s)
	case string:
		return json.Unmarshal([]byte(t), s)
	default:
		return fmt.Errorf("cannot scan %T into TableSchema", src)
	}
}

// NullableBool returns a pointer for schema literals in tests and parsers.
func NullableBool(v bool) *bool { return &v }

// UTCNow truncates to microseconds, the precision the timestamp columns
// carry.
func UTCNow() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

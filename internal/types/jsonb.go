package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*Payload)(nil)
	_ driver.Valuer = Payload(nil)
	_ sql.Scanner   = (*JobTargets)(nil)
	_ driver.Valuer = JobTargets{}
)

// Payload is the arbitrary structured data attached to a push message.
type Payload map[string]any

// scanJSONB is a generic helper that scans a JSONB database value into a Go pointer.
// It handles nil values, []byte, and string representations from different database drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// valueJSONB converts a Go value to a JSONB-compatible driver.Value.
func valueJSONB(v interface{}) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (p *Payload) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	return scanJSONB(p, value)
}

// Value writes an empty object for a nil payload so the column can stay NOT NULL.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return valueJSONB(map[string]any(p))
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (t *JobTargets) Scan(value interface{}) error {
	return scanJSONB(t, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (t JobTargets) Value() (driver.Value, error) {
	return valueJSONB(t)
}

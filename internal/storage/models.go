package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/raumlabs/hostbridge/internal/update"
)

// Bucket names
const (
	UpdateHistoryBucket = "update_history"
	GlobalsBucket       = "globals"
	MetaBucket          = "meta"
)

// Meta keys
const (
	SchemaVersionKey = "schema_version"
)

// CurrentSchemaVersion is the schema written by this build.
const CurrentSchemaVersion = 1

// ErrNotFound is returned for missing records.
var ErrNotFound = errors.New("not found")

// HistoryRecord is a stored update outcome.
type HistoryRecord struct {
	ID string `json:"id"`
	update.Outcome
	RecordedAt time.Time `json:"recorded_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler
func (r *HistoryRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (r *HistoryRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

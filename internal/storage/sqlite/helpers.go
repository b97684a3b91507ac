package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unsafe"
)

// isUniqueViolation detects constraint collisions. The pure-Go driver does
// not export typed errors for this, so we match the SQLite message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Timestamps are stored as Unix milliseconds.

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func millisPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timePtrFromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := timeFromMillis(v.Int64)
	return &t
}

// nullStr maps empty strings to NULL so optional text columns stay NULL
// instead of accumulating empty strings.
func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func strValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// marshalJSON encodes a value for a JSON column, mapping nil and empty
// collections to NULL.
func marshalJSON(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch s := v.(type) {
	case []string:
		if len(s) == 0 {
			return nil, nil
		}
	case map[string]interface{}:
		if len(s) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON column: %w", err)
	}
	return string(data), nil
}

// unmarshalJSON decodes a JSON column into dst; NULL leaves dst untouched.
func unmarshalJSON(ns sql.NullString, dst interface{}) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(ns.String), dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON column: %w", err)
	}
	return nil
}

// Embedding serialization helpers
func serializeEmbedding(embedding []float32) ([]byte, error) {
	// Simple binary encoding: just write the float32 array as bytes
	data := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		bits := uint32(0)
		// Convert float32 to uint32 bits
		*(*float32)(unsafe.Pointer(&bits)) = v
		// Write as little-endian
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data, nil
}

func deserializeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding data length: %d", len(data))
	}

	embedding := make([]float32, len(data)/4)
	for i := 0; i < len(embedding); i++ {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		embedding[i] = *(*float32)(unsafe.Pointer(&bits))
	}
	return embedding, nil
}

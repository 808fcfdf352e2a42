package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/reportflow/internal/ir"
)

// toMicros converts a timestamp to the stored unix-microsecond form.
func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

// fromMicros converts a stored unix-microsecond value back to UTC time.
func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func nullableMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

func nullableInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// marshalFilter converts a FilterResult to canonical JSON TEXT for storage.
// A nil result is stored as SQL NULL.
func marshalFilter(f *ir.FilterResult) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	data, err := ir.MarshalCanonical(f)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal filter: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalFilter parses stored filter JSON.
func unmarshalFilter(v sql.NullString) (*ir.FilterResult, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var f ir.FilterResult
	if err := json.Unmarshal([]byte(v.String), &f); err != nil {
		return nil, fmt.Errorf("unmarshal filter: %w", err)
	}
	if f.FilterArgs == nil {
		f.FilterArgs = []string{}
	}
	return &f, nil
}

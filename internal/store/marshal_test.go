package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reportflow/internal/ir"
)

func TestMicrosRoundtrip(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	in := time.Date(2024, 2, 29, 23, 59, 59, 123456789, est)

	out := fromMicros(toMicros(in))
	assert.Equal(t, time.UTC, out.Location())
	assert.True(t, out.Equal(in.Truncate(time.Microsecond)))
}

func TestNullableHelpers(t *testing.T) {
	assert.False(t, nullableMicros(nil).Valid)
	assert.Nil(t, timeFromNull(sql.NullInt64{}))
	assert.False(t, nullableInt(nil).Valid)
	assert.Nil(t, intFromNull(sql.NullInt64{}))

	n := 7
	got := intFromNull(nullableInt(&n))
	require.NotNil(t, got)
	assert.Equal(t, 7, *got)
}

func TestMarshalFilter(t *testing.T) {
	v, err := marshalFilter(nil)
	require.NoError(t, err)
	assert.False(t, v.Valid)

	v, err = marshalFilter(&ir.FilterResult{ReceiverName: "co.elr", OriginalCount: 3, FilterName: "isValid"})
	require.NoError(t, err)
	assert.Equal(t, `{"filter_args":null,"filter_name":"isValid","filtered_tracking_element":"","original_count":3,"receiver_name":"co.elr"}`, v.String)

	f, err := unmarshalFilter(v)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "co.elr", f.ReceiverName)
	assert.Equal(t, []string{}, f.FilterArgs)
}

func TestUnmarshalFilter_InvalidJSON(t *testing.T) {
	_, err := unmarshalFilter(sql.NullString{String: "{not json", Valid: true})
	assert.Error(t, err)
}

package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reportflow/internal/ir"
)

// AssertGolden marshals v as canonical JSON and compares it against
// testdata/golden/{name}.golden in the calling package.
//
// To regenerate golden files, run:
//
//	go test ./internal/... -update
//
// Canonical encoding keeps the files byte-stable: keys are sorted and no
// whitespace is emitted, so a diff always means the view changed.
func AssertGolden(t *testing.T, name string, v any) {
	t.Helper()

	data, err := ir.MarshalCanonical(v)
	require.NoError(t, err, "canonical marshal for golden %s", name)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

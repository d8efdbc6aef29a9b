package monitor

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Registered(t *testing.T) {
	m := New()
	m.Commits.Inc()
	m.Merges.WithLabelValues("three_way").Add(2)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Commits))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Merges.WithLabelValues("three_way")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestOrNew(t *testing.T) {
	assert.NotNil(t, OrNew(nil))

	m := New()
	assert.Same(t, m, OrNew(m))
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveFetch(FetchOK, 10*time.Millisecond)
	m.ObserveFetch(FetchNotFound, time.Millisecond)
	m.ObserveExecution(OutcomeHit)
	m.ObserveResolution(3, 1, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RepositoryFetchTotal.WithLabelValues(FetchOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IncrementalExecutionsTotal.WithLabelValues(OutcomeHit)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ResolverNodesTotal))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["depweaver_repository_fetch_total"])
	assert.True(t, names["depweaver_resolver_conflicts_total"])
}

func TestNilMetrics_IsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveFetch(FetchError, time.Second)
	m.ObserveExecution(OutcomeMiss)
	m.ObserveCompute(time.Second)
	m.ObserveResolution(1, 0, time.Second)
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Tick("recurring")
	m.Tick("recurring")
	m.Fired("one_shot")
	m.LostRace()
	m.Error("claim")
	m.Queued(5)
	m.Queued(0)
	m.Populated(3)
	m.RecurrenceExhausted()
	m.CompanySkipped()
	m.ObserveTick(0.25)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ticks.WithLabelValues("recurring")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CampaignsFired.WithLabelValues("one_shot")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LostRaces))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.QueueItems))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Recipients))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Tick("x")
		m.Fired("x")
		m.LostRace()
		m.Error("x")
		m.Queued(1)
		m.Populated(1)
		m.RecurrenceExhausted()
		m.CompanySkipped()
		m.ObserveTick(1)
	})
}

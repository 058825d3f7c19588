package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Observe("assignment.create", time.Now(), nil)
		m.OverProjects()
		m.CapacityRejected()
		m.HTTPRequest("/api/persons", "200")
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Observe("assignment.create", time.Now(), nil)
	m.Observe("assignment.create", time.Now(), errors.New("boom"))
	m.CapacityRejected()
	m.OverProjects()
	m.OverProjects()

	assert.Equal(t, 1.0, promtest.ToFloat64(m.operations.WithLabelValues("assignment.create", "ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.operations.WithLabelValues("assignment.create", "error")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.capacity))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.overProjects))
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var out dto.Metric
	require.NoError(t, (<-ch).Write(&out))
	return out.GetCounter().GetValue()
}

func TestReservationMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReservationMetrics(reg)

	m.ObserveOperation("acquire_hold", "ok", 20*time.Millisecond)
	m.ObserveOperation("acquire_hold", "CONFLICT", time.Millisecond)
	m.ObserveDegraded("meeting")
	m.AddHoldsReclaimed(3)
	m.AddHoldsReclaimed(0)
	m.AddConfigurationsExpired(2)
	m.ObserveJobRun("reconcile_holds", "ok")

	assert.Equal(t, float64(3), counterValue(t, m.holdsReclaimed))
	assert.Equal(t, float64(2), counterValue(t, m.configsExpired))
	assert.Equal(t, float64(1), counterValue(t, m.operationsTotal.WithLabelValues("acquire_hold", "CONFLICT")))
	assert.Equal(t, float64(1), counterValue(t, m.degradedTotal.WithLabelValues("meeting")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestReservationMetricsNilSafe(t *testing.T) {
	var m *ReservationMetrics
	m.ObserveOperation("confirm_booking", "ok", time.Second)
	m.ObserveDegraded("notify")
	m.AddHoldsReclaimed(1)
	m.AddConfigurationsExpired(1)
	m.ObserveJobRun("expire_configurations", "error")
}

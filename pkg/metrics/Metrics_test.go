package metrics_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/wostzone/wost-session/pkg/metrics"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	m.ObserveRemoteCall(nil)
	m.ObserveRemoteCall(errors.New("boom"))
	m.IncRetry()
	m.IncReconnectFailed()
	m.ObserveCommand("connect", "DONE")
	m.SetClientStatus("NOT_CONNECTED", "CONNECTED", 1)

	count, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveRemoteCall(nil)
	m.IncRetry()
	m.IncReconnectFailed()
	m.ObserveCommand("connect", "DONE")
	m.SetClientStatus("a", "b", 0)
}

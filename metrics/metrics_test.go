package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRead("balance", time.Now(), nil)
	m.ObserveRead("balance", time.Now(), errors.New("boom"))
	m.ObserveRead("allowance", time.Now(), errors.New("boom"))
	m.ObserveTx("deposit", OutcomeConfirmed, time.Now())
	m.SetInFlight(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reads.WithLabelValues("balance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadFailures.WithLabelValues("balance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadFailures.WithLabelValues("allowance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxOutcomes.WithLabelValues("deposit", OutcomeConfirmed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxInFlight))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	// a second registration on the same registry is a programming error
	assert.Panics(t, func() { New(reg) })
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRead("balance", time.Now(), nil)
		m.ObserveTx("mint", OutcomeReverted, time.Now())
		m.SetInFlight(false)
	})

	assert.NotPanics(t, func() { New(nil) })
}

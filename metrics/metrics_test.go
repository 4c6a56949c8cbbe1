// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Received("remote/106", OutcomeDelivered)
	m.Received("remote/106", OutcomeFailed)
	m.Received("remote/106", OutcomeFailed)
	require.Equal(t, 2.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("remote/106", OutcomeFailed)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.FailuresOpen.WithLabelValues("remote/106")))

	m.Retried("remote/106", OutcomeFailed)
	require.Equal(t, 2.0, testutil.ToFloat64(m.FailuresOpen.WithLabelValues("remote/106")))
	m.Retried("remote/106", OutcomeSuccess)
	m.Rescued("remote/106")
	require.Equal(t, 0.0, testutil.ToFloat64(m.FailuresOpen.WithLabelValues("remote/106")))

	m.FeeCollected("106", "0", big.NewInt(5))
	m.FeeCollected("106", "0", big.NewInt(7))
	require.Equal(t, 12.0, testutil.ToFloat64(m.FeesCollected.WithLabelValues("106", "0")))

	m.Withdrawal("101")
	m.PacketSent("110", "withdraw")
	require.Equal(t, 1.0, testutil.ToFloat64(m.Withdrawals.WithLabelValues("101")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.PacketsSent.WithLabelValues("110", "withdraw")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.Received("c", OutcomeFailed)
		m.Retried("c", OutcomeSuccess)
		m.Rescued("c")
		m.FeeCollected("1", "0", big.NewInt(1))
		m.Withdrawal("1")
		m.PacketSent("1", "deposit")
	})
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	require.Panics(t, func() { New(reg) })
}

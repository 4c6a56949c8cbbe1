// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics exposes bridge counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "marginbridge"

// Delivery outcomes
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
	OutcomeSuccess   = "success"
)

// Metrics groups every bridge collector
type Metrics struct {
	MessagesReceived *prometheus.CounterVec
	FailuresOpen     *prometheus.GaugeVec
	Retries          *prometheus.CounterVec
	Rescues          *prometheus.CounterVec
	FeesCollected    *prometheus.CounterVec
	Withdrawals      *prometheus.CounterVec
	PacketsSent      *prometheus.CounterVec
}

// New registers the bridge collectors on [reg]
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Inbound cross-chain messages by processing outcome",
			},
			[]string{"channel", "outcome"},
		),
		FailuresOpen: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "failed_messages_open",
				Help:      "Failed messages waiting for retry or rescue",
			},
			[]string{"channel"},
		),
		Retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Retries of failed messages by outcome",
			},
			[]string{"channel", "outcome"},
		),
		Rescues: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rescues_total",
				Help:      "Failed messages resolved by releasing funds to the recipient",
			},
			[]string{"channel"},
		),
		FeesCollected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fees_collected_total",
				Help:      "Messaging fees deducted from deposits, in token base units",
			},
			[]string{"chain", "token"},
		),
		Withdrawals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "withdrawals_total",
				Help:      "Withdrawals initiated on the home chain by destination",
			},
			[]string{"dst_chain"},
		),
		PacketsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packets_sent_total",
				Help:      "Messaging packets sent by source chain and packet type",
			},
			[]string{"chain", "type"},
		),
	}
}

func (m *Metrics) Received(channel, outcome string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(channel, outcome).Inc()
	if outcome == OutcomeFailed {
		m.FailuresOpen.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) Retried(channel, outcome string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(channel, outcome).Inc()
	if outcome == OutcomeSuccess {
		m.FailuresOpen.WithLabelValues(channel).Dec()
	}
}

func (m *Metrics) Rescued(channel string) {
	if m == nil {
		return
	}
	m.Rescues.WithLabelValues(channel).Inc()
	m.FailuresOpen.WithLabelValues(channel).Dec()
}

func (m *Metrics) FeeCollected(chain, token string, amount *big.Int) {
	if m == nil || amount == nil {
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	m.FeesCollected.WithLabelValues(chain, token).Add(f)
}

func (m *Metrics) Withdrawal(dstChain string) {
	if m == nil {
		return
	}
	m.Withdrawals.WithLabelValues(dstChain).Inc()
}

func (m *Metrics) PacketSent(chain, packetType string) {
	if m == nil {
		return
	}
	m.PacketsSent.WithLabelValues(chain, packetType).Inc()
}

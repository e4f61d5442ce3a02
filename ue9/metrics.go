// Copyright (c) 2016-2026 The labjack developers. All rights reserved.
// Project site: https://github.com/gotmc/labjack
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ue9

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects transaction and stream counters for a Session. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Transactions        *prometheus.CounterVec
	TransactionErrors   *prometheus.CounterVec
	TransactionDuration prometheus.Histogram
	StreamPackets       prometheus.Counter
	StreamPacketErrors  prometheus.Counter
	StreamEmptyPackets  prometheus.Counter
	StreamBlocks        prometheus.Counter
	StreamPendingReads  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ue9_transactions_total",
				Help: "Command transactions sent to the device",
			},
			[]string{"command"},
		),
		TransactionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ue9_transaction_errors_total",
				Help: "Failed command transactions",
			},
			[]string{"kind"},
		),
		TransactionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ue9_transaction_duration_seconds",
			Help:    "Command round trip time",
			Buckets: prometheus.DefBuckets,
		}),
		StreamPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ue9_stream_packets_total",
			Help: "Stream packets decoded",
		}),
		StreamPacketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ue9_stream_packet_errors_total",
			Help: "Stream packets carrying a non-zero error byte",
		}),
		StreamEmptyPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ue9_stream_empty_packets_total",
			Help: "Empty stream packets dropped",
		}),
		StreamBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ue9_stream_blocks_total",
			Help: "Sample blocks produced",
		}),
		StreamPendingReads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ue9_stream_pending_reads_total",
			Help: "Stream reads that produced no block",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Transactions,
			m.TransactionErrors,
			m.TransactionDuration,
			m.StreamPackets,
			m.StreamPacketErrors,
			m.StreamEmptyPackets,
			m.StreamBlocks,
			m.StreamPendingReads,
		)
	}
	return m
}

func (m *Metrics) observeTransaction(name string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(name).Inc()
	m.TransactionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.TransactionErrors.WithLabelValues(errorKind(err)).Inc()
	}
}

func (m *Metrics) observeBlock(packets, errs int) {
	if m == nil {
		return
	}
	m.StreamBlocks.Inc()
	m.StreamPackets.Add(float64(packets))
	m.StreamPacketErrors.Add(float64(errs))
}

func (m *Metrics) observeEmpty(n int) {
	if m == nil || n == 0 {
		return
	}
	m.StreamEmptyPackets.Add(float64(n))
}

func (m *Metrics) observePending() {
	if m == nil {
		return
	}
	m.StreamPendingReads.Inc()
}

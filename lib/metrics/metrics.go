// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds Warden's Prometheus collectors.
//
// Collectors live on a private registry rather than the global default
// so tests can build as many instances as they like. Every method is
// safe on a nil *Metrics, which is what libraries receive when the
// caller does not care about metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "warden"

// Metrics is the set of collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	jobsDelivered *prometheus.CounterVec
	jobsLost      *prometheus.CounterVec
	sweepPasses   prometheus.Counter
	sweepDuration prometheus.Histogram
	staffPings    prometheus.Counter
	openTickets   prometheus.Gauge
	ticketEvents  *prometheus.CounterVec
	ruleWrites    *prometheus.CounterVec
	syncFailures  prometheus.Counter
}

// New creates and registers every collector, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_delivered_total",
			Help:      "Scheduled jobs delivered, by queue table.",
		}, []string{"table"}),
		jobsLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_lost_total",
			Help:      "Scheduled jobs removed from the store but not delivered, by queue table and reason.",
		}, []string{"table", "reason"}),
		sweepPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_passes_total",
			Help:      "Completed sweeper passes.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one sweeper pass.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		staffPings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staff_pings_total",
			Help:      "Staff pings sent for idle tickets.",
		}),
		openTickets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_tickets",
			Help:      "Tickets currently held by the registry.",
		}),
		ticketEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_events_total",
			Help:      "Ticket lifecycle events, by event.",
		}, []string{"event"}),
		ruleWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_rule_writes_total",
			Help:      "Access rule changes applied to channels, by operation.",
		}, []string{"op"}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_sync_failures_total",
			Help:      "Permission synchronizations that returned an error.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsDelivered,
		m.jobsLost,
		m.sweepPasses,
		m.sweepDuration,
		m.staffPings,
		m.openTickets,
		m.ticketEvents,
		m.ruleWrites,
		m.syncFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) JobDelivered(table string) {
	if m == nil {
		return
	}
	m.jobsDelivered.WithLabelValues(table).Inc()
}

// JobLost records an at-most-once loss: the record was deleted but the
// delivery did not happen.
func (m *Metrics) JobLost(table, reason string) {
	if m == nil {
		return
	}
	m.jobsLost.WithLabelValues(table, reason).Inc()
}

func (m *Metrics) SweepPass(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sweepPasses.Inc()
	m.sweepDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) StaffPinged() {
	if m == nil {
		return
	}
	m.staffPings.Inc()
}

func (m *Metrics) SetOpenTickets(count int) {
	if m == nil {
		return
	}
	m.openTickets.Set(float64(count))
}

// TicketEvent counts a lifecycle event such as "opened" or "claimed".
func (m *Metrics) TicketEvent(event string) {
	if m == nil {
		return
	}
	m.ticketEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) RuleWrites(puts, deletes int) {
	if m == nil {
		return
	}
	m.ruleWrites.WithLabelValues("put").Add(float64(puts))
	m.ruleWrites.WithLabelValues("delete").Add(float64(deletes))
}

func (m *Metrics) SyncFailed() {
	if m == nil {
		return
	}
	m.syncFailures.Inc()
}

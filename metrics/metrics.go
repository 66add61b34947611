// Package metrics exposes the guard's Prometheus instruments. Everything is
// registered on the default registry and served by the status server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersPlaced counts order submissions by symbol and outcome
	// (placed / filled / error).
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpguard_orders_total",
		Help: "Order submissions by symbol and outcome.",
	}, []string{"symbol", "outcome"})

	// ProtectiveUpdates counts trading-stop submissions by kind
	// (trailing / stop_loss).
	ProtectiveUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpguard_protective_updates_total",
		Help: "Protective level submissions by kind.",
	}, []string{"kind"})

	// Retries counts retried venue calls by endpoint.
	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpguard_api_retries_total",
		Help: "Retried venue calls by endpoint.",
	}, []string{"endpoint"})

	// Transitions counts lifecycle state transitions
	// (trailing_attached / breakeven / partial_tp / closed).
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpguard_lifecycle_transitions_total",
		Help: "Position lifecycle transitions by kind.",
	}, []string{"kind"})

	// EntrySkips counts entry attempts rejected by a gate
	// (balance / open_orders / pyramid / regime / confidence).
	EntrySkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpguard_entry_skips_total",
		Help: "Entry attempts rejected by a gate.",
	}, []string{"gate"})

	// Heartbeats counts polling loop heartbeats.
	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perpguard_heartbeats_total",
		Help: "Polling loop heartbeats.",
	})

	// CycleSeconds records the duration of the last polling cycle.
	CycleSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perpguard_cycle_duration_seconds",
		Help: "Duration of the last polling cycle.",
	})
)

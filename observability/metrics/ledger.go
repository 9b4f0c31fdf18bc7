// Package metrics exposes prometheus instruments for ledger units of work and
// committed events.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"loanledger/core/events"
)

type LedgerMetrics struct {
	units     *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	events    *prometheus.CounterVec
	refinance *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide metrics registered on the default
// prometheus registerer.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = NewLedgerMetrics(prometheus.DefaultRegisterer)
	})
	return ledgerRegistry
}

// NewLedgerMetrics builds and registers the instruments on reg.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loan",
			Subsystem: "exec",
			Name:      "units_total",
			Help:      "Units of work executed, segmented by unit name and outcome.",
		}, []string{"unit", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loan",
			Subsystem: "exec",
			Name:      "unit_duration_seconds",
			Help:      "Latency distribution of units of work.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"unit"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loan",
			Subsystem: "events",
			Name:      "committed_total",
			Help:      "Committed events segmented by type.",
		}, []string{"type"}),
		refinance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loan",
			Subsystem: "refinance",
			Name:      "settlements_total",
			Help:      "Completed refinances segmented by kind and whether the borrower paid or received the difference.",
		}, []string{"kind", "direction"}),
	}
	if reg != nil {
		reg.MustRegister(m.units, m.latency, m.events, m.refinance)
	}
	return m
}

// ObserveUnit records the outcome of a unit of work.
func (m *LedgerMetrics) ObserveUnit(name string, committed bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "reverted"
	if committed {
		outcome = "committed"
	}
	unit := normalize(name)
	m.units.WithLabelValues(unit, outcome).Inc()
	m.latency.WithLabelValues(unit).Observe(duration.Seconds())
}

// Emit counts a committed event.
func (m *LedgerMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	eventType := normalize(evt.EventType())
	m.events.WithLabelValues(eventType).Inc()
	if kind, ok := strings.CutPrefix(eventType, "refinance."); ok {
		m.RecordRefinance(kind, refinanceDirection(evt))
	}
}

func refinanceDirection(evt events.Event) string {
	payload, ok := evt.(events.Payload)
	if !ok {
		return "unknown"
	}
	rendered := payload.Event()
	if rendered == nil {
		return "unknown"
	}
	switch {
	case rendered.Attributes["shortfall"] != "" && rendered.Attributes["shortfall"] != "0":
		return "shortfall"
	case rendered.Attributes["surplus"] != "" && rendered.Attributes["surplus"] != "0":
		return "surplus"
	default:
		return "even"
	}
}

// RecordRefinance counts a completed refinance. direction is "shortfall",
// "surplus" or "even".
func (m *LedgerMetrics) RecordRefinance(kind, direction string) {
	if m == nil {
		return
	}
	m.refinance.WithLabelValues(normalize(kind), normalize(direction)).Inc()
}

func normalize(label string) string {
	trimmed := strings.ToLower(strings.TrimSpace(label))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

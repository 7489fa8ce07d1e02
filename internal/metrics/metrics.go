// Package metrics exports delivery counters for Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const namespace = "push"

type Metrics struct {
	gatewaySends       *prometheus.CounterVec
	tokenOutcomes      *prometheus.CounterVec
	credentialAcquired *prometheus.CounterVec
	tokensPruned       *prometheus.CounterVec
	deliveries         *prometheus.CounterVec
	deliveryDuration   prometheus.Histogram
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gatewaySends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "sends_total",
			Help:      "adapter invocations by gateway and outcome",
		}, []string{"gateway", "success"}),
		tokenOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "tokens_total",
			Help:      "per-token outcomes by gateway",
		}, []string{"gateway", "outcome"}),
		credentialAcquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credential",
			Name:      "acquisitions_total",
			Help:      "provider credential exchanges by gateway",
		}, []string{"gateway"}),
		tokensPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "pruned_tokens_total",
			Help:      "registrations removed after a gateway reported them invalid",
		}, []string{"gateway"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "deliveries_total",
			Help:      "SendToUser calls by report status",
		}, []string{"status"}),
		deliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "duration_seconds",
			Help:      "wall time of a SendToUser fan-out",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.gatewaySends,
		m.tokenOutcomes,
		m.credentialAcquired,
		m.tokensPruned,
		m.deliveries,
		m.deliveryDuration,
	)
	return m
}

func (m *Metrics) GatewaySent(res push.GatewayResult) {
	m.gatewaySends.WithLabelValues(string(res.Gateway), strconv.FormatBool(res.Success)).Inc()
	for _, t := range res.Tokens {
		outcome := "failed"
		switch {
		case t.Success:
			outcome = "delivered"
		case t.Invalid:
			outcome = "invalid"
		}
		m.tokenOutcomes.WithLabelValues(string(res.Gateway), outcome).Inc()
	}
}

func (m *Metrics) CredentialAcquired(g push.Gateway) {
	m.credentialAcquired.WithLabelValues(string(g)).Inc()
}

func (m *Metrics) TokensPruned(g push.Gateway, n int) {
	m.tokensPruned.WithLabelValues(string(g)).Add(float64(n))
}

func (m *Metrics) Delivered(report *push.DeliveryReport, took time.Duration) {
	m.deliveries.WithLabelValues(string(report.Status)).Inc()
	m.deliveryDuration.Observe(took.Seconds())
}

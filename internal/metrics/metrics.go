// Package metrics exposes Prometheus metrics for the lifecycle manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "corral"

// DomainCounter reports how many domains are registered.
type DomainCounter interface {
	CountActive() int
	CountInactive() int
}

// PortCounter reports how many console ports are in use.
type PortCounter interface {
	Used() int
}

// Metrics records lifecycle operations and guest deaths.
type Metrics struct {
	operations *prometheus.CounterVec
	deaths     *prometheus.CounterVec
}

// New creates the counters and registers them with reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Lifecycle operations by operation and result.",
		}, []string{"operation", "result"}),
		deaths: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_deaths_total",
			Help:      "Guest stop notifications by reported reason.",
		}, []string{"reason"}),
	}
}

// RegisterGauges adds gauges that read the registry and port pool at scrape time.
func RegisterGauges(reg prometheus.Registerer, domains DomainCounter, ports PortCounter) {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "domains_active",
		Help:      "Domains that are running or paused.",
	}, func() float64 { return float64(domains.CountActive()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "domains_inactive",
		Help:      "Defined domains that are not running.",
	}, func() float64 { return float64(domains.CountInactive()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "console_ports_in_use",
		Help:      "Auto-assigned console ports currently reserved.",
	}, func() float64 { return float64(ports.Used()) })
}

// ObserveOperation counts one lifecycle operation.
func (m *Metrics) ObserveOperation(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// ObserveDeath counts one guest stop.
func (m *Metrics) ObserveDeath(reason string) {
	m.deaths.WithLabelValues(reason).Inc()
}

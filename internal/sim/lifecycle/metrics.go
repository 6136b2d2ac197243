package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the lifecycle collectors. A nil *Metrics records nothing.
type Metrics struct {
	ops    *prometheus.CounterVec
	saves  *prometheus.CounterVec
	loaded prometheus.Gauge
	known  prometheus.Gauge
	slots  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when it is not
// nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worldhost_lifecycle_ops_total",
			Help: "Lifecycle operations by operation and result code.",
		}, []string{"op", "result"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worldhost_store_saves_total",
			Help: "Durable record writes by result.",
		}, []string{"result"}),
		loaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worldhost_worlds_loaded",
			Help: "Worlds currently loaded.",
		}),
		known: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worldhost_worlds_known",
			Help: "World records known to this process.",
		}),
		slots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worldhost_dimension_slots_claimed",
			Help: "Dimension slots currently claimed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.saves, m.loaded, m.known, m.slots)
	}
	return m
}

func (m *Metrics) op(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = Code(err)
	}
	m.ops.WithLabelValues(op, result).Inc()
}

func (m *Metrics) save(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.saves.WithLabelValues(result).Inc()
}

func (m *Metrics) gauges(loaded, known, slots int) {
	if m == nil {
		return
	}
	m.loaded.Set(float64(loaded))
	m.known.Set(float64(known))
	m.slots.Set(float64(slots))
}

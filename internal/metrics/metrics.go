// Package metrics exposes the coordinator's tick, roster and command counters to
// Prometheus. Labels stay bounded: phases and command kinds are closed sets and no
// metric is labelled per player.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements match.Metrics on a caller supplied registry.
type Collector struct {
	tickDuration prometheus.Histogram
	phase        *prometheus.GaugeVec
	commands     *prometheus.CounterVec
	deaths       prometheus.Counter
	roster       prometheus.Gauge
	broadcasts   prometheus.Counter
	broadcastLen prometheus.Gauge

	phases []string
}

// New registers the collectors on registerer. A nil registerer uses a private registry.
func New(registerer prometheus.Registerer, phases ...string) (*Collector, error) {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	c := &Collector{
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coordinator_tick_duration_seconds",
			Help:    "Time spent in one server tick",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.016, 0.033, 0.05},
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coordinator_phase",
			Help: "One for the current server phase, zero otherwise",
		}, []string{"phase"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_commands_total",
			Help: "Commands dispatched by kind and outcome",
		}, []string{"kind", "outcome"}),
		deaths: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_deaths_total",
			Help: "Death sequences started",
		}),
		roster: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_roster_size",
			Help: "Players currently seated",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_broadcasts_total",
			Help: "Sync batches broadcast",
		}),
		broadcastLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_broadcast_players",
			Help: "Players carried by the latest sync batch",
		}),
		phases: phases,
	}
	for _, collector := range []prometheus.Collector{
		c.tickDuration, c.phase, c.commands, c.deaths, c.roster, c.broadcasts, c.broadcastLen,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	for _, phase := range phases {
		c.phase.WithLabelValues(phase).Set(0)
	}
	return c, nil
}

// ObservePhase marks phase as current.
func (c *Collector) ObservePhase(phase string) {
	for _, known := range c.phases {
		if known != phase {
			c.phase.WithLabelValues(known).Set(0)
		}
	}
	c.phase.WithLabelValues(phase).Set(1)
}

// ObserveCommand counts one dispatched command.
func (c *Collector) ObserveCommand(kind string, applied bool) {
	outcome := "rejected"
	if applied {
		outcome = "applied"
	}
	c.commands.WithLabelValues(kind, outcome).Inc()
}

// ObserveDeath counts a death sequence.
func (c *Collector) ObserveDeath() { c.deaths.Inc() }

// ObserveRoster records the seated population.
func (c *Collector) ObserveRoster(size int) { c.roster.Set(float64(size)) }

// ObserveTick records how long a tick took.
func (c *Collector) ObserveTick(elapsed time.Duration) { c.tickDuration.Observe(elapsed.Seconds()) }

// ObserveBroadcast counts one batch of size players.
func (c *Collector) ObserveBroadcast(size int) {
	c.broadcasts.Inc()
	c.broadcastLen.Set(float64(size))
}

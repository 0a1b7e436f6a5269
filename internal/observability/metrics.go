// Package observability holds the Prometheus collectors of the bot.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"spookbot/internal/eventbus"
	"spookbot/internal/runtime/supervisor"
)

const namespace = "spookbot"

// Metrics implements the game engine's counters on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	rounds   *prometheus.CounterVec
	tallies  *prometheus.CounterVec
	deltas   *prometheus.CounterVec
	points   *prometheus.CounterVec
	commands *prometheus.CounterVec
	updates  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_posted_total",
			Help:      "Round prompts posted.",
		}, []string{"game"}),
		tallies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tally_attempts_total",
			Help:      "Tally attempts by outcome.",
		}, []string{"game", "outcome"}),
		deltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_deltas_total",
			Help:      "Nonzero score changes applied.",
		}, []string{"game", "kind"}),
		points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_points_total",
			Help:      "Absolute points moved by score changes.",
		}, []string{"game", "direction"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Admin commands handled by result.",
		}, []string{"command", "result"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Inbound gateway updates by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.rounds, m.tallies, m.deltas, m.points, m.commands, m.updates,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) RoundPosted(game string) {
	m.rounds.WithLabelValues(game).Inc()
}

func (m *Metrics) TallyOutcome(game, outcome string) {
	m.tallies.WithLabelValues(game, outcome).Inc()
}

func (m *Metrics) ScoreDelta(game string, amount int64, stealth bool) {
	kind := "visible"
	if stealth {
		kind = "stealth"
	}
	m.deltas.WithLabelValues(game, kind).Inc()
	dir := "gain"
	if amount < 0 {
		dir, amount = "loss", -amount
	}
	m.points.WithLabelValues(game, dir).Add(float64(amount))
}

func (m *Metrics) CommandHandled(command, result string) {
	m.commands.WithLabelValues(command, result).Inc()
}

func (m *Metrics) UpdateReceived(kind string) {
	m.updates.WithLabelValues(kind).Inc()
}

// WatchSupervisor exports the task counters of sup.
func (m *Metrics) WatchSupervisor(sup *supervisor.Supervisor) {
	m.Registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Supervised goroutines currently running.",
		}, func() float64 { return float64(sup.Counters().Active) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_started_total",
			Help:      "Supervised goroutines started.",
		}, func() float64 { return float64(sup.Counters().Started) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_panics_total",
			Help:      "Panics recovered by the supervisor.",
		}, func() float64 { return float64(sup.Counters().Panics) }),
	)
}

// WatchBus exports dropped event deliveries.
func (m *Metrics) WatchBus(bus eventbus.Bus) {
	m.Registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Event deliveries dropped on slow subscribers.",
	}, func() float64 { return float64(bus.Dropped()) }))
}

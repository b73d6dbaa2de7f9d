package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bedrock_manager"

// Metrics holds the manager's Prometheus instruments. All methods are safe
// to call on a nil receiver so components can run uninstrumented.
type Metrics struct {
	registry *prometheus.Registry

	processLaunches prometheus.Counter
	processRunning  prometheus.Gauge
	processExits    *prometheus.CounterVec
	commandsSent    *prometheus.CounterVec
	countdownRuns   *prometheus.CounterVec
	countdownActive prometheus.Gauge
	countdownLeft   prometheus.Gauge
	backups         *prometheus.CounterVec
	backupDuration  prometheus.Histogram
	backupSize      prometheus.Gauge
	playersOnline   prometheus.Gauge
	probeFailures   prometheus.Counter
	idleRestarts    prometheus.Counter
	logLines        *prometheus.CounterVec
}

// New creates and registers all instruments on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		processLaunches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_launches_total",
			Help:      "Total number of game server launches",
		}),
		processRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_running",
			Help:      "Whether the game server process is running",
		}),
		processExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_exits_total",
			Help:      "Game server exits, partitioned by reason",
		}, []string{"reason"}),
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Commands written to the game server input",
		}, []string{"result"}),
		countdownRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "countdown_runs_total",
			Help:      "Finished restart/shutdown workflows, partitioned by kind and outcome",
		}, []string{"kind", "outcome"}),
		countdownActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "countdown_active",
			Help:      "Whether a restart/shutdown workflow is in progress",
		}),
		countdownLeft: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "countdown_remaining_seconds",
			Help:      "Seconds remaining in the active countdown",
		}),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "World backups, partitioned by result",
		}, []string{"result"}),
		backupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backup_duration_seconds",
			Help:      "Time taken to archive the world",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		backupSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_last_size_bytes",
			Help:      "Size of the most recent successful backup",
		}),
		playersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players_online",
			Help:      "Connected players at the last successful status probe",
		}),
		probeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_probe_failures_total",
			Help:      "Failed player count probes",
		}),
		idleRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_restarts_total",
			Help:      "Restarts triggered by the idle monitor",
		}),
		logLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_lines_total",
			Help:      "Tailed server log lines, partitioned by category",
		}, []string{"category"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.processLaunches,
		m.processRunning,
		m.processExits,
		m.commandsSent,
		m.countdownRuns,
		m.countdownActive,
		m.countdownLeft,
		m.backups,
		m.backupDuration,
		m.backupSize,
		m.playersOnline,
		m.probeFailures,
		m.idleRestarts,
		m.logLines,
	)

	return m
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ProcessLaunched() {
	if m == nil {
		return
	}
	m.processLaunches.Inc()
	m.processRunning.Set(1)
}

func (m *Metrics) ProcessExited(reason string) {
	if m == nil {
		return
	}
	m.processRunning.Set(0)
	m.processExits.WithLabelValues(reason).Inc()
}

func (m *Metrics) CommandSent(err error) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(result(err == nil)).Inc()
}

func (m *Metrics) CountdownStarted() {
	if m == nil {
		return
	}
	m.countdownActive.Set(1)
}

func (m *Metrics) CountdownTick(remaining int) {
	if m == nil {
		return
	}
	m.countdownLeft.Set(float64(remaining))
}

func (m *Metrics) CountdownFinished(kind, outcome string) {
	if m == nil {
		return
	}
	m.countdownActive.Set(0)
	m.countdownLeft.Set(0)
	m.countdownRuns.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) BackupFinished(ok bool, elapsed time.Duration, sizeBytes int64) {
	if m == nil {
		return
	}
	m.backups.WithLabelValues(result(ok)).Inc()
	m.backupDuration.Observe(elapsed.Seconds())
	if ok {
		m.backupSize.Set(float64(sizeBytes))
	}
}

func (m *Metrics) PlayersSampled(count int) {
	if m == nil {
		return
	}
	m.playersOnline.Set(float64(count))
}

func (m *Metrics) ProbeFailed() {
	if m == nil {
		return
	}
	m.probeFailures.Inc()
}

func (m *Metrics) IdleRestartTriggered() {
	if m == nil {
		return
	}
	m.idleRestarts.Inc()
}

func (m *Metrics) LogLine(category string) {
	if m == nil {
		return
	}
	m.logLines.WithLabelValues(category).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

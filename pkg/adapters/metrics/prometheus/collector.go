package prometheus

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aescanero/modkernel/pkg/domain"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	processesSubmitted  *prometheus.CounterVec
	processesCompleted  *prometheus.CounterVec
	processDuration     *prometheus.HistogramVec
	phasesExecuted      *prometheus.CounterVec
	phaseDuration       *prometheus.HistogramVec
	lifecycleTransition *prometheus.CounterVec
	requests            *prometheus.CounterVec
	moduleBusy          prometheus.Counter
	modules             *prometheus.GaugeVec
	eventsDelivered     *prometheus.CounterVec
	trackersActive      prometheus.Gauge
	workerPoolIdle      prometheus.Gauge
	workerPoolBusy      prometheus.Gauge
	workerPoolStopped   prometheus.Gauge
}

// NewCollector registers the kernel metrics with reg. Passing nil uses the
// default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		processesSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modkernel_processes_submitted_total",
				Help: "Total number of processes submitted",
			},
			[]string{"process"},
		),
		processesCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modkernel_processes_completed_total",
				Help: "Total number of processes completed",
			},
			[]string{"process", "status"},
		),
		processDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modkernel_process_duration_seconds",
				Help:    "Process execution duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"status"},
		),
		phasesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modkernel_phases_executed_total",
				Help: "Total number of phases executed",
			},
			[]string{"phase", "status"},
		),
		phaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modkernel_phase_duration_seconds",
				Help:    "Phase execution duration in seconds",
				Buckets: []float64{0.0005, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"phase"},
		),
		lifecycleTransition: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modkernel_lifecycle_transitions_total",
				Help: "Total number of module lifecycle state changes",
			},
			[]string{"from", "to"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modkernel_manager_requests_total",
				Help: "Total number of module manager requests by outcome",
			},
			[]string{"action", "status"},
		),
		moduleBusy: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "modkernel_module_busy_total",
				Help: "Requests rejected because the module had a process in flight",
			},
		),
		modules: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "modkernel_modules",
				Help: "Number of modules per lifecycle state",
			},
			[]string{"state"},
		),
		eventsDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modkernel_tracker_events_delivered_total",
				Help: "Events delivered to tracker listeners",
			},
			[]string{"synthetic"},
		),
		trackersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "modkernel_trackers_active",
				Help: "Number of open event trackers",
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "modkernel_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "modkernel_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "modkernel_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordProcessSubmitted records a process submission
func (c *Collector) RecordProcessSubmitted(process string) {
	c.processesSubmitted.WithLabelValues(metricName(process)).Inc()
}

// RecordProcessCompleted records a finished process
func (c *Collector) RecordProcessCompleted(process, status string, duration time.Duration) {
	c.processesCompleted.WithLabelValues(metricName(process), status).Inc()
	c.processDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordPhaseExecuted records a finished phase
func (c *Collector) RecordPhaseExecuted(phase, status string, duration time.Duration) {
	c.phasesExecuted.WithLabelValues(phase, status).Inc()
	c.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordLifecycleTransition records a module state change
func (c *Collector) RecordLifecycleTransition(from, to domain.State) {
	c.lifecycleTransition.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordRequest records the outcome of a manager request
func (c *Collector) RecordRequest(action domain.Action, status string) {
	c.requests.WithLabelValues(string(action), status).Inc()
}

// RecordModuleBusy records a ModuleBusyError
func (c *Collector) RecordModuleBusy() {
	c.moduleBusy.Inc()
}

// SetModuleCount sets the number of modules in a state
func (c *Collector) SetModuleCount(state domain.State, count int) {
	c.modules.WithLabelValues(state.String()).Set(float64(count))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

// RecordEventDelivered records a tracker delivery
func (c *Collector) RecordEventDelivered(synthetic bool) {
	label := "false"
	if synthetic {
		label = "true"
	}
	c.eventsDelivered.WithLabelValues(label).Inc()
}

// SetTrackersActive sets the number of open trackers
func (c *Collector) SetTrackersActive(count int) {
	c.trackersActive.Set(float64(count))
}

// metricName keeps process label cardinality bounded: module processes are
// named "module:<coordinate>:<op>", only the op is kept
func metricName(process string) string {
	if strings.HasPrefix(process, "module:") {
		return "module:" + process[strings.LastIndex(process, ":")+1:]
	}
	return process
}

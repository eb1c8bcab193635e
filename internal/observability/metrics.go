package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	stepsTotal    *prometheus.CounterVec
	activeRuns    prometheus.Gauge
	pausedRuns    prometheus.Gauge
	cancellations *prometheus.CounterVec

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	launchFallbacks  prometheus.Counter

	modelStreamDuration *prometheus.HistogramVec
	modelErrorsTotal    *prometheus.CounterVec

	scheduledRuns *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "phonepilot_runs_total",
				Help: "Finished agent runs by outcome.",
			}, []string{"outcome"}),
			runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "phonepilot_run_duration_seconds",
				Help:    "Wall time of agent runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			}),
			stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "phonepilot_steps_total",
				Help: "Executed loop steps by action kind.",
			}, []string{"kind"}),
			activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "phonepilot_active_runs",
				Help: "Runs currently registered for cancellation.",
			}),
			pausedRuns: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "phonepilot_paused_runs",
				Help: "Runs currently blocked on pause.",
			}),
			cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "phonepilot_cancellations_total",
				Help: "Cancellation requests by scope.",
			}, []string{"scope"}),
			dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "phonepilot_dispatch_total",
				Help: "Dispatched actions by backend, action and status.",
			}, []string{"backend", "action", "status"}),
			dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "phonepilot_dispatch_duration_seconds",
				Help:    "Action dispatch latency including settle delays.",
				Buckets: prometheus.DefBuckets,
			}, []string{"backend", "action"}),
			launchFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "phonepilot_launch_fallbacks_total",
				Help: "Remote launches that fell back to the fallback surface.",
			}),
			modelStreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "phonepilot_model_stream_duration_seconds",
				Help:    "Time to receive a complete streamed model answer.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			}, []string{"provider"}),
			modelErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "phonepilot_model_errors_total",
				Help: "Model stream failures by provider.",
			}, []string{"provider"}),
			scheduledRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "phonepilot_scheduled_runs_total",
				Help: "Scheduled task launches by schedule and status.",
			}, []string{"schedule", "status"}),
		}

		prometheus.MustRegister(
			m.runsTotal,
			m.runDuration,
			m.stepsTotal,
			m.activeRuns,
			m.pausedRuns,
			m.cancellations,
			m.dispatchTotal,
			m.dispatchDuration,
			m.launchFallbacks,
			m.modelStreamDuration,
			m.modelErrorsTotal,
			m.scheduledRuns,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRun counts a finished run. outcome is one of finished, budget,
// unparseable, model_error, cancelled.
func RecordRun(outcome string, duration time.Duration) {
	m := getMetrics()
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(duration.Seconds())
}

func RecordStep(kind string) {
	getMetrics().stepsTotal.WithLabelValues(kind).Inc()
}

func SetActiveRuns(n int) {
	getMetrics().activeRuns.Set(float64(n))
}

func AddPausedRuns(delta int) {
	getMetrics().pausedRuns.Add(float64(delta))
}

func RecordCancellation(scope string, handles int) {
	getMetrics().cancellations.WithLabelValues(scope).Add(float64(handles))
}

func RecordDispatch(backend, action string, duration time.Duration, success bool) {
	m := getMetrics()
	m.dispatchTotal.WithLabelValues(backend, action, status(success)).Inc()
	m.dispatchDuration.WithLabelValues(backend, action).Observe(duration.Seconds())
}

func RecordLaunchFallback() {
	getMetrics().launchFallbacks.Inc()
}

func RecordModelStream(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.modelStreamDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if !success {
		m.modelErrorsTotal.WithLabelValues(provider).Inc()
	}
}

func RecordScheduledRun(scheduleID string, success bool) {
	getMetrics().scheduledRuns.WithLabelValues(scheduleID, status(success)).Inc()
}

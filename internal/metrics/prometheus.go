// Package metrics exposes provisioning and maintenance counters on a
// private Prometheus registry.
package metrics

import (
	"context"
	"net/http"

	"github.com/EternisAI/fleet-enroll/internal/provisioner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "fleet_enroll"

type Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

type Recorder struct {
	registry *prometheus.Registry

	runs                *prometheus.CounterVec
	stageFailures       *prometheus.CounterVec
	runDuration         prometheus.Histogram
	credentialsCreated  prometheus.Counter
	maintenanceAttempts *prometheus.CounterVec
	maintenanceDone     *prometheus.GaugeVec
}

var _ provisioner.Observer = (*Recorder)(nil)

func NewRecorder(cfg Config) *Recorder {
	ns := cfg.Namespace
	if ns == "" {
		ns = defaultNamespace
	}

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "provisioning_runs_total",
			Help:      "Provisioning runs by terminal state",
		}, []string{"state"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "provisioning_stage_failures_total",
			Help:      "Aborted provisioning runs by failing stage",
		}, []string{"stage"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "provisioning_run_duration_seconds",
			Help:      "Wall time of provisioning runs",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		credentialsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "enrollment_credentials_created_total",
			Help:      "Enrollment credentials created on the control plane",
		}),
		maintenanceAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "maintenance_attempts_total",
			Help:      "Maintenance task attempts by result",
		}, []string{"task", "result"}),
		maintenanceDone: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "maintenance_done",
			Help:      "1 once the maintenance task has succeeded",
		}, []string{"task"}),
	}

	r.registry.MustRegister(
		r.runs,
		r.stageFailures,
		r.runDuration,
		r.credentialsCreated,
		r.maintenanceAttempts,
		r.maintenanceDone,
	)
	return r
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) RunFinished(_ context.Context, result *provisioner.Result) {
	r.runs.WithLabelValues(string(result.State)).Inc()
	if stage := result.FailedStage(); stage != "" {
		r.stageFailures.WithLabelValues(string(stage)).Inc()
	}
	if result.CredentialCreated {
		r.credentialsCreated.Inc()
	}
	if d := result.Duration(); d > 0 {
		r.runDuration.Observe(d.Seconds())
	}
}

func (r *Recorder) MaintenanceAttempt(task string, err error) {
	if err != nil {
		r.maintenanceAttempts.WithLabelValues(task, "failure").Inc()
		return
	}
	r.maintenanceAttempts.WithLabelValues(task, "success").Inc()
	r.maintenanceDone.WithLabelValues(task).Set(1)
}

// Package metrics holds the prometheus collectors for submissions, vault
// discovery and workflows. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry *prometheus.Registry

	Submissions      *prometheus.CounterVec
	SubmitAttempts   *prometheus.CounterVec
	ReceiptWait      *prometheus.HistogramVec
	ReadFailures     *prometheus.CounterVec
	VaultResolutions *prometheus.CounterVec
	Workflows        *prometheus.CounterVec
	WorkflowDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yieldmove_submissions_total",
				Help: "Transaction submissions by final outcome status",
			},
			[]string{"network", "status"},
		),
		SubmitAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yieldmove_submit_attempts_total",
				Help: "Broadcast attempts by result",
			},
			[]string{"network", "result"},
		),
		ReceiptWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "yieldmove_receipt_wait_seconds",
				Help:    "Time from broadcast to receipt",
				Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 160, 320},
			},
			[]string{"network"},
		),
		ReadFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yieldmove_read_failures_total",
				Help: "Failed contract reads",
			},
			[]string{"network", "method"},
		),
		VaultResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yieldmove_vault_resolutions_total",
				Help: "Vault resolutions by discovery source",
			},
			[]string{"source"},
		),
		Workflows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yieldmove_workflows_total",
				Help: "Workflow executions by kind and status",
			},
			[]string{"kind", "status"},
		),
		WorkflowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "yieldmove_workflow_duration_seconds",
				Help:    "Workflow execution duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}
	m.registry.MustRegister(
		m.Submissions,
		m.SubmitAttempts,
		m.ReceiptWait,
		m.ReadFailures,
		m.VaultResolutions,
		m.Workflows,
		m.WorkflowDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveSubmission(network, status string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(network, status).Inc()
}

func (m *Metrics) ObserveAttempt(network, result string) {
	if m == nil {
		return
	}
	m.SubmitAttempts.WithLabelValues(network, result).Inc()
}

func (m *Metrics) ObserveReceiptWait(network string, d time.Duration) {
	if m == nil {
		return
	}
	m.ReceiptWait.WithLabelValues(network).Observe(d.Seconds())
}

func (m *Metrics) ObserveReadFailure(network, method string) {
	if m == nil {
		return
	}
	m.ReadFailures.WithLabelValues(network, method).Inc()
}

func (m *Metrics) ObserveVaultResolution(source string) {
	if m == nil {
		return
	}
	m.VaultResolutions.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveWorkflow(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Workflows.WithLabelValues(kind, status).Inc()
	m.WorkflowDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

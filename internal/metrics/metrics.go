// Package metrics exposes Prometheus instruments for ingestion and chat.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bull/repo-runner/internal/jobs"
)

// Chat outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeInvalid    = "invalid"
	OutcomeError      = "error"
	OutcomeEmptyIndex = "empty_index"
)

// Metrics holds the process's instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	jobsRunning   prometheus.Gauge
	jobsTotal     *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	documents     prometheus.Counter
	chunks        prometheus.Counter
	failedDocs    prometheus.Counter
	stageDuration *prometheus.HistogramVec
	chatTotal     *prometheus.CounterVec
	chatDuration  prometheus.Histogram
}

// New creates and registers all instruments, plus the Go runtime and
// process collectors.
func New() *Metrics {
	slow := []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800}
	fast := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repo_runner_jobs_running", Help: "Ingestion jobs currently running",
		}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repo_runner_jobs_total", Help: "Finished ingestion jobs by final state",
		}, []string{"state"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "repo_runner_job_duration_seconds", Help: "Ingestion job run time", Buckets: slow,
		}),
		documents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repo_runner_documents_indexed_total", Help: "Documents chunked and stored",
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repo_runner_chunks_indexed_total", Help: "Chunks embedded and stored",
		}),
		failedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repo_runner_documents_failed_total", Help: "Documents skipped because they could not be read or chunked",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "repo_runner_stage_duration_seconds", Help: "Ingestion stage run time", Buckets: slow,
		}, []string{"stage"}),
		chatTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repo_runner_chat_requests_total", Help: "Chat requests by outcome",
		}, []string{"outcome"}),
		chatDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "repo_runner_chat_duration_seconds", Help: "Chat request latency", Buckets: fast,
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsRunning, m.jobsTotal, m.jobDuration,
		m.documents, m.chunks, m.failedDocs,
		m.stageDuration,
		m.chatTotal, m.chatDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) JobStarted(job *jobs.Job) {
	m.jobsRunning.Inc()
}

func (m *Metrics) JobFinished(job *jobs.Job) {
	if job.StartedAt != nil {
		m.jobsRunning.Dec()
		m.jobDuration.Observe(job.Duration(time.Now()).Seconds())
	}
	m.jobsTotal.WithLabelValues(string(job.State)).Inc()
	m.documents.Add(float64(job.Documents))
	m.chunks.Add(float64(job.Chunks))
	m.failedDocs.Add(float64(job.FailedDocs))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveChat records one chat request.
func (m *Metrics) ObserveChat(outcome string, d time.Duration) {
	m.chatTotal.WithLabelValues(outcome).Inc()
	m.chatDuration.Observe(d.Seconds())
}

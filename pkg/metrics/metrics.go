// Package metrics exposes Prometheus collectors for the dialogue engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parley"

var (
	// sentencesEmitted counts sentences handed to sinks.
	sentencesEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentences_emitted_total",
			Help:      "Total number of sentences emitted",
		},
		[]string{"speaker"},
	)

	// utterances counts finished utterances by how they ended.
	utterances = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Total number of AI utterances by outcome",
		},
		[]string{"speaker", "outcome"}, // outcome: end_of_stream, stop_marker, cancelled, error
	)

	// utteranceDuration is the time from request to the last sentence.
	utteranceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_duration_seconds",
			Help:      "Duration of streamed AI utterances in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"speaker"},
	)

	// classifierAttempts counts gateway attempts.
	classifierAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_attempts_total",
			Help:      "Total number of classifier attempts",
		},
		[]string{"question", "status"}, // status: success, error
	)

	// classifierFallbacks counts decisions that used the fixed default.
	classifierFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_fallbacks_total",
			Help:      "Total number of turn decisions that fell back to the default",
		},
		[]string{"question"},
	)

	// fairnessOverrides counts advisory next speakers replaced by a hard rule.
	fairnessOverrides = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fairness_overrides_total",
			Help:      "Total number of next-speaker overrides by rule",
		},
		[]string{"filter"},
	)

	// decisionDuration is the time spent deciding a turn.
	decisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_decision_duration_seconds",
			Help:      "Duration of turn decisions in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// staleDropped counts asynchronous results discarded after an interrupt.
	staleDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_dropped_total",
			Help:      "Total number of stale results dropped",
		},
		[]string{"kind"}, // kind: sentence, decision
	)

	// speechDropped counts sentences the speech queue had no room for.
	speechDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_dropped_total",
			Help:      "Total number of sentences dropped by a full speech queue",
		},
	)

	// failovers counts requests a backend chain moved past a failing backend.
	failovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_failovers_total",
			Help:      "Total number of requests that failed over to the next backend",
		},
		[]string{"service", "from"},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		sentencesEmitted,
		utterances,
		utteranceDuration,
		classifierAttempts,
		classifierFallbacks,
		fairnessOverrides,
		decisionDuration,
		staleDropped,
		speechDropped,
		failovers,
	}
)

// NewRegistry returns a registry holding the engine collectors plus the Go
// runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordSentence records an emitted sentence.
func RecordSentence(speaker string) {
	sentencesEmitted.WithLabelValues(speaker).Inc()
}

// RecordUtterance records a finished utterance.
func RecordUtterance(speaker, outcome string, durationSeconds float64) {
	utterances.WithLabelValues(speaker, outcome).Inc()
	if outcome != "cancelled" {
		utteranceDuration.WithLabelValues(speaker).Observe(durationSeconds)
	}
}

// RecordClassifierAttempt records one gateway attempt.
func RecordClassifierAttempt(question string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	classifierAttempts.WithLabelValues(question, status).Inc()
}

// RecordFallback records a decision that used the fixed default.
func RecordFallback(question string) {
	classifierFallbacks.WithLabelValues(question).Inc()
}

// RecordFairnessOverride records a hard-rule override.
func RecordFairnessOverride(filter string) {
	if filter == "" {
		return
	}
	fairnessOverrides.WithLabelValues(filter).Inc()
}

// RecordDecision records how long a turn decision took.
func RecordDecision(durationSeconds float64) {
	decisionDuration.Observe(durationSeconds)
}

// RecordStale records a dropped stale result.
func RecordStale(kind string) {
	staleDropped.WithLabelValues(kind).Inc()
}

// RecordSpeechDropped records a sentence the speech queue rejected.
func RecordSpeechDropped() {
	speechDropped.Inc()
}

// RecordFailover records a request moving off the named backend.
func RecordFailover(service, from string) {
	failovers.WithLabelValues(service, from).Inc()
}

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inferenceAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbdetector_inference_attempts_total",
		Help: "Remote inference attempts by backend, payload shape and outcome",
	}, []string{"backend", "shape", "outcome"})

	loadingRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbdetector_inference_loading_retries_total",
		Help: "Waits caused by the remote model reporting that it is still loading",
	}, []string{"backend"})

	inferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tbdetector_inference_duration_seconds",
		Help:    "Wall time of one AnalyzeImage call including retries",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 480},
	}, []string{"backend", "result"})

	assessments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbdetector_assessments_total",
		Help: "TB risk assessments produced, by risk level",
	}, []string{"risk_level"})

	modelReady = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tbdetector_model_ready",
		Help: "1 when the inference endpoint passed its connectivity probe",
	})
)

// ObserveAttempt counts one request sent with the given payload shape.
func ObserveAttempt(backend string, shape int, outcome string) {
	inferenceAttempts.WithLabelValues(backend, strconv.Itoa(shape), outcome).Inc()
}

func ObserveLoadingRetry(backend string) {
	loadingRetries.WithLabelValues(backend).Inc()
}

// ObserveInference records the duration of a full inference call.
func ObserveInference(backend string, seconds float64, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	inferenceDuration.WithLabelValues(backend, result).Observe(seconds)
}

func ObserveAssessment(level string) {
	assessments.WithLabelValues(level).Inc()
}

func SetModelReady(ready bool) {
	if ready {
		modelReady.Set(1)
		return
	}
	modelReady.Set(0)
}

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TextsEmbedded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textembed_texts_total",
		Help: "The total number of texts embedded",
	})

	TokensProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textembed_tokens_total",
		Help: "The total number of non-padding tokens fed to the model",
	})

	TruncatedTexts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textembed_truncated_total",
		Help: "Texts cut to the maximum sequence length",
	})

	InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "textembed_inference_duration_seconds",
		Help:    "Duration of model forward passes",
		Buckets: prometheus.DefBuckets,
	})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "textembed_batch_size",
		Help:    "Number of sequences per forward pass",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	})

	SequenceLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "textembed_sequence_length_tokens",
		Help:    "Padded sequence length per forward pass",
		Buckets: []float64{8, 16, 32, 64, 128, 256, 512},
	})

	InferenceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textembed_inference_errors_total",
		Help: "Forward passes that returned an error",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "textembed_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})
)

// RecordInference records one successful forward pass.
func RecordInference(batch, seqLen, tokens int, duration time.Duration) {
	InferenceDuration.Observe(duration.Seconds())
	BatchSize.Observe(float64(batch))
	SequenceLength.Observe(float64(seqLen))
	TokensProcessed.Add(float64(tokens))
	TextsEmbedded.Add(float64(batch))
}

func RecordInferenceError() {
	InferenceErrors.Inc()
}

func RecordTruncation() {
	TruncatedTexts.Inc()
}

func RecordRequest(route string, code int) {
	HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordInference(t *testing.T) {
	texts := testutil.ToFloat64(TextsEmbedded)
	tokens := testutil.ToFloat64(TokensProcessed)

	RecordInference(4, 16, 50, 20*time.Millisecond)
	RecordInference(1, 8, 6, 5*time.Millisecond)

	if got := testutil.ToFloat64(TextsEmbedded) - texts; got != 5 {
		t.Errorf("texts delta = %v, want 5", got)
	}
	if got := testutil.ToFloat64(TokensProcessed) - tokens; got != 56 {
		t.Errorf("tokens delta = %v, want 56", got)
	}
}

func TestRecordErrorsAndTruncation(t *testing.T) {
	errs := testutil.ToFloat64(InferenceErrors)
	trunc := testutil.ToFloat64(TruncatedTexts)

	RecordInferenceError()
	RecordTruncation()
	RecordTruncation()

	if got := testutil.ToFloat64(InferenceErrors) - errs; got != 1 {
		t.Errorf("errors delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(TruncatedTexts) - trunc; got != 2 {
		t.Errorf("truncation delta = %v, want 2", got)
	}
}

func TestRecordRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("/v1/embed", "200"))

	RecordRequest("/v1/embed", 200)

	if got := testutil.ToFloat64(HTTPRequests.WithLabelValues("/v1/embed", "200")) - before; got != 1 {
		t.Errorf("requests delta = %v, want 1", got)
	}
}

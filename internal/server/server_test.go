package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gomithril/textembed"
	"github.com/gomithril/textembed/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeEmbedder struct {
	err error
}

func (f fakeEmbedder) EmbedAll(_ context.Context, texts []string) ([]textembed.Embedding, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]textembed.Embedding, len(texts))
	for i, t := range texts {
		out[i] = textembed.Embedding{float32(len(t)), 1}
	}
	return out, nil
}

func TestEmbedHandler(t *testing.T) {
	h := New(fakeEmbedder{}, "bert-base-uncased").Handler()
	before := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues(RouteEmbed, "200"))

	req := httptest.NewRequest(http.MethodPost, RouteEmbed, strings.NewReader(`{"input":["abc","hello"]}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp EmbedResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Model != "bert-base-uncased" || resp.Dim != 2 || len(resp.Data) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Data[1].Index != 1 || resp.Data[1].Embedding[0] != 5 {
		t.Errorf("data[1] = %+v", resp.Data[1])
	}
	if got := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues(RouteEmbed, "200")) - before; got != 1 {
		t.Errorf("request metric delta = %v, want 1", got)
	}
}

func TestEmbedHandlerErrors(t *testing.T) {
	tests := []struct {
		name     string
		embedder Embedder
		body     string
		want     int
	}{
		{"bad json", fakeEmbedder{}, `{"input":`, http.StatusBadRequest},
		{"empty input", fakeEmbedder{}, `{"input":[]}`, http.StatusBadRequest},
		{"too many", fakeEmbedder{}, `{"input":[` + strings.Repeat(`"a",`, maxInputs) + `"a"]}`, http.StatusRequestEntityTooLarge},
		{"embed failure", fakeEmbedder{err: errors.New("boom")}, `{"input":["a"]}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(tt.embedder, "m").Handler()
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, RouteEmbed, strings.NewReader(tt.body)))

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			var e ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&e); err != nil || e.Error == "" {
				t.Errorf("expected error body, got %q", w.Body.String())
			}
		})
	}
}

func TestEmbedRejectsGet(t *testing.T) {
	h := New(fakeEmbedder{}, "m").Handler()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, RouteEmbed, nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := New(fakeEmbedder{}, "m").Handler()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, RouteHealthz, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var hs HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&hs); err != nil {
		t.Fatal(err)
	}
	if hs.Status != "healthy" || hs.Version != textembed.Version || hs.Uptime == "" {
		t.Errorf("health = %+v", hs)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.RecordTruncation()

	h := New(fakeEmbedder{}, "m").Handler()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, RouteMetrics, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "textembed_truncated_total") {
		t.Error("metrics output missing textembed_truncated_total")
	}
}

func TestListenAndServeShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(fakeEmbedder{}, "m").ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("ListenAndServe() error = %v", err)
	}
}

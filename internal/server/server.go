package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gomithril/textembed"
	"github.com/gomithril/textembed/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	RouteEmbed   = "/v1/embed"
	RouteHealthz = "/healthz"
	RouteMetrics = "/metrics"

	maxBodyBytes = 4 << 20
	maxInputs    = 256
)

// Embedder is the part of the embedding pipeline the server needs.
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) ([]textembed.Embedding, error)
}

type EmbedRequest struct {
	Input []string `json:"input"`
}

type EmbedData struct {
	Index     int                 `json:"index"`
	Embedding textembed.Embedding `json:"embedding"`
}

type EmbedResponse struct {
	Model string      `json:"model"`
	Dim   int         `json:"dim"`
	Data  []EmbedData `json:"data"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

type Server struct {
	embedder Embedder
	model    string
	started  time.Time
}

func New(embedder Embedder, model string) *Server {
	return &Server{embedder: embedder, model: model, started: time.Now()}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST "+RouteEmbed, instrument(RouteEmbed, http.HandlerFunc(s.handleEmbed)))
	mux.Handle("GET "+RouteHealthz, instrument(RouteHealthz, http.HandlerFunc(s.handleHealthz)))
	mux.Handle("GET "+RouteMetrics, promhttp.Handler())
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req EmbedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if len(req.Input) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "input is empty"})
		return
	}
	if len(req.Input) > maxInputs {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "too many inputs"})
		return
	}

	embeddings, err := s.embedder.EmbedAll(r.Context(), req.Input)
	if err != nil {
		log.Error().Err(err).Int("inputs", len(req.Input)).Msg("embed request failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "embedding failed"})
		return
	}

	resp := EmbedResponse{Model: s.model, Data: make([]EmbedData, len(embeddings))}
	for i, e := range embeddings {
		resp.Data[i] = EmbedData{Index: i, Embedding: e}
	}
	if len(embeddings) > 0 {
		resp.Dim = len(embeddings[0])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{
		Status:  "healthy",
		Version: textembed.Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.RecordRequest(route, rec.code)
		log.Debug().Str("route", route).Int("code", rec.code).Dur("elapsed", time.Since(start)).Msg("request")
	})
}

// Package web serves the dashboard, the MJPEG stream and the JSON API.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"crowdwatch/internal/config"
	"crowdwatch/internal/logger"
	"crowdwatch/internal/metrics"
	"crowdwatch/internal/persist"
	"crowdwatch/internal/pipeline"
	"crowdwatch/internal/stats"
	"crowdwatch/internal/store"
)

// ConfidenceTuner exposes the runtime-adjustable detection threshold.
type ConfidenceTuner interface {
	Confidence() float64
	SetConfidence(v float64)
}

// Server wires the HTTP surface to the pipeline.
type Server struct {
	cfg        config.Config
	snapshots  *pipeline.SnapshotStore
	aggregator *stats.Aggregator
	records    *store.Records
	throttle   *persist.Throttle
	tuner      ConfidenceTuner
	metrics    *metrics.Metrics
	hub        *Hub
	upload     *uploadDetector
}

// NewServer creates the server. Run the returned hub via Serve.
func NewServer(cfg config.Config, snapshots *pipeline.SnapshotStore,
	aggregator *stats.Aggregator, records *store.Records,
	throttle *persist.Throttle, tuner ConfidenceTuner, m *metrics.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		snapshots:  snapshots,
		aggregator: aggregator,
		records:    records,
		throttle:   throttle,
		tuner:      tuner,
		metrics:    m,
		hub:        NewHub(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/history", s.handleHistoryPage).Methods(http.MethodGet)
	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/video_feed", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/get_image/{name}", s.handleUploadedImage).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/realtime", s.handleRealtime).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleConfigGet).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleConfigSet).Methods(http.MethodPost)
	api.HandleFunc("/save", s.handleSave).Methods(http.MethodPost)
	api.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)

	return r
}

// Serve runs the HTTP server and the websocket hub until the context is
// cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	go s.hub.Run(ctx)
	go s.pushStats(ctx)

	srv := &http.Server{
		Addr:    s.cfg.HTTP.Addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Web", "Listening on %s", s.cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// pushStats broadcasts the realtime payload to websocket clients on the
// configured cadence.
func (s *Server) pushStats(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HTTP.UpdateInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.ClientCount() == 0 {
				continue
			}
			s.hub.BroadcastJSON(s.realtimePayload())
		}
	}
}

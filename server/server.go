package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"strzcam.com/dashboard/broadcast"
	"strzcam.com/dashboard/media"
	"strzcam.com/dashboard/metrics"
	"strzcam.com/dashboard/stats"
	"strzcam.com/dashboard/stream"
)

// Camera is the part of the acquisition manager the HTTP layer reports on.
type Camera interface {
	IsLive() bool
}

type Options struct {
	StaticDir       string
	CapturesDir     string
	RecordingsDir   string
	TemplatePath    string
	MaxCaptureBytes int64
	MetricsEnabled  bool
}

type Server struct {
	opts     Options
	camera   Camera
	pipeline *stream.Pipeline
	hub      *broadcast.Hub
	cell     *stats.Cell
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
}

// New builds the HTTP layer and registers the viewer commands that need it on hub.
func New(opts Options, camera Camera, pipeline *stream.Pipeline, hub *broadcast.Hub, cell *stats.Cell, m *metrics.Metrics, logger *zap.SugaredLogger) *Server {
	s := &Server{
		opts:     opts,
		camera:   camera,
		pipeline: pipeline,
		hub:      hub,
		cell:     cell,
		metrics:  m,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	hub.RegisterStateCommands()
	hub.Handle("capture_photo", func(ctx context.Context, _ broadcast.Command) error {
		_, err := s.CapturePhoto(ctx)
		return err
	})
	return s
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (s *Server) mount(mux *http.ServeMux, prefix, dir string) {
	if dir == "" || !dirExists(dir) {
		s.logger.Infow("directory not found, not serving", "prefix", prefix, "dir", dir)
		return
	}
	mux.Handle("GET "+prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(dir))))
}

// Handler returns the complete route table wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.dashboard)
	mux.Handle("GET /video_feed", stream.Handler(s.pipeline, s.logger, s.metrics))
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.HandleFunc("GET /api/stats", s.getStats)
	mux.HandleFunc("GET /api/snapshot", s.getSnapshot)
	mux.HandleFunc("GET /api/captures", s.listMedia(s.opts.CapturesDir, media.CaptureExtensions))
	mux.HandleFunc("GET /api/recordings", s.listMedia(s.opts.RecordingsDir, media.RecordingExtensions))
	mux.HandleFunc("POST /api/delete_capture", s.deleteMedia(s.opts.CapturesDir, media.CaptureExtensions))
	mux.HandleFunc("POST /api/delete_recording", s.deleteMedia(s.opts.RecordingsDir, media.RecordingExtensions))
	mux.HandleFunc("GET /healthz", s.health)
	if s.opts.MetricsEnabled && s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.mount(mux, "/static/", s.opts.StaticDir)
	s.mount(mux, "/captures/", s.opts.CapturesDir)
	s.mount(mux, "/recordings/", s.opts.RecordingsDir)

	return loggingMiddleware(s.logger, corsMiddleware(mux))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warnw("failed to write json response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

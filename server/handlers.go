package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"strzcam.com/dashboard/broadcast"
	"strzcam.com/dashboard/media"
	"strzcam.com/dashboard/stream"
)

type deleteRequest struct {
	Filename string `json:"filename"`
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status      string `json:"status"`
	CameraLive  bool   `json:"camera_live"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.hub.Serve(context.WithoutCancel(r.Context()), conn)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cell.Load())
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	chunk, err := s.pipeline.Snapshot(r.Context())
	if err != nil {
		s.logger.Errorw("snapshot failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(stream.FrameKindHeader, chunk.Kind.String())
	w.Write(chunk.Data)
}

func (s *Server) listMedia(dir string, exts []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := media.List(dir, exts)
		if err != nil {
			s.logger.Errorw("failed to list media", "dir", dir, "error", err)
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, files)
	}
}

func (s *Server) deleteMedia(dir string, exts []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, deleteResponse{Message: "invalid request body"})
			return
		}
		err := media.Delete(dir, req.Filename, exts)
		switch {
		case errors.Is(err, media.ErrInvalidFilename):
			s.writeJSON(w, http.StatusBadRequest, deleteResponse{Message: err.Error()})
		case errors.Is(err, media.ErrNotFound):
			s.writeJSON(w, http.StatusNotFound, deleteResponse{Message: err.Error()})
		case err != nil:
			s.logger.Errorw("failed to delete media", "dir", dir, "filename", req.Filename, "error", err)
			s.writeJSON(w, http.StatusInternalServerError, deleteResponse{Message: err.Error()})
		default:
			s.logger.Infow("media deleted", "dir", dir, "filename", req.Filename)
			s.writeJSON(w, http.StatusOK, deleteResponse{Success: true, Message: fmt.Sprintf("%s deleted", req.Filename)})
		}
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		CameraLive:  s.camera.IsLive(),
		Subscribers: s.hub.Count(),
	})
}

// CapturePhoto saves the current frame into the captures directory and announces it.
func (s *Server) CapturePhoto(ctx context.Context) (string, error) {
	chunk, err := s.pipeline.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	name, err := media.SaveCapture(s.opts.CapturesDir, chunk.Data, chunk.At)
	if err != nil {
		return "", fmt.Errorf("save capture: %w", err)
	}
	s.logger.Infow("photo captured", "filename", name, "kind", chunk.Kind.String())

	removed, err := media.Prune(s.opts.CapturesDir, media.CaptureExtensions, s.opts.MaxCaptureBytes)
	if err != nil {
		s.logger.Warnw("failed to prune captures", "error", err)
	}
	if len(removed) > 0 {
		s.logger.Infow("pruned old captures", "removed", removed)
	}

	s.hub.Broadcast(broadcast.Message{Type: broadcast.TypePhotoCaptured, Filename: name})
	return name, nil
}

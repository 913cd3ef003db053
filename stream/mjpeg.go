package stream

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"go.uber.org/zap"
	"strzcam.com/dashboard/metrics"
)

const Boundary = "frame"

// MJPEGWriter writes frames as a multipart/x-mixed-replace response.
type MJPEGWriter struct {
	mw *multipart.Writer
	rc *http.ResponseController
}

func NewMJPEGWriter(w http.ResponseWriter) (*MJPEGWriter, error) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(Boundary); err != nil {
		return nil, err
	}
	return &MJPEGWriter{mw: mw, rc: http.NewResponseController(w)}, nil
}

// FrameKindHeader tells a client whether a part came from the device.
const FrameKindHeader = "X-Frame-Kind"

func (m *MJPEGWriter) WriteFrame(c Chunk) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", fmt.Sprintf("%d", len(c.Data)))
	header.Set(FrameKindHeader, c.Kind.String())

	part, err := m.mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := part.Write(c.Data); err != nil {
		return err
	}
	if err := m.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// Handler serves the live MJPEG stream; each viewer runs its own pipeline loop.
func Handler(p *Pipeline, logger *zap.SugaredLogger, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mjpeg, err := NewMJPEGWriter(w)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		m.ViewerConnected()
		defer m.ViewerDisconnected()
		logger.Debugw("stream viewer connected", "remote", r.RemoteAddr)

		err = p.Run(r.Context(), mjpeg.WriteFrame)
		logger.Debugw("stream viewer disconnected", "remote", r.RemoteAddr, "reason", err)
	}
}

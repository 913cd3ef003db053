//go:build !gocv

package capture

import (
	"time"

	"go.uber.org/zap"
)

// DeviceOptions locates the frame files written by the external grabber.
type DeviceOptions struct {
	ShmDir     string
	ShmPrefix  string
	StaleAfter time.Duration
}

// NewDeviceOpener maps device identifiers to shared memory frame files.
// Build with -tags gocv to read V4L/OpenCV devices directly.
func NewDeviceOpener(opts DeviceOptions, logger *zap.SugaredLogger) Opener {
	return func(id int) Source {
		return NewShmSource(opts.ShmDir, opts.ShmPrefix, id, opts.StaleAfter, logger)
	}
}

package capture

import (
	"context"
	"errors"
	"image"
)

var (
	ErrNotLive            = errors.New("no live capture source")
	ErrAlreadyInitialized = errors.New("acquisition manager already initialized")
	ErrNoFrameFile        = errors.New("no valid shared memory file found")
	ErrShortFrame         = errors.New("invalid frame data: too short")
)

// Source is one physical (or physically backed) image-capturing device.
type Source interface {
	// Initialize acquires the device. An error means the device is unusable.
	Initialize(ctx context.Context) error
	// StartMonitoring starts the source's background reader. It is stopped by Release.
	StartMonitoring()
	// Capture returns the most recent frame, or nil when the device has none yet.
	Capture(ctx context.Context) (image.Image, error)
	// Release stops monitoring and frees the device.
	Release() error
}

// Opener builds the source for one device identifier.
type Opener func(id int) Source

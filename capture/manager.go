package capture

import (
	"context"
	"fmt"
	"image"
	"slices"
	"sync/atomic"

	"go.uber.org/zap"
)

// Manager probes candidate devices and owns the one that initialized first.
// Every capture goes through Manager so the device is never used by two tasks at once.
type Manager struct {
	candidates []int
	open       Opener
	logger     *zap.SugaredLogger

	// sem guards source; a channel so that waiting for it honours a context.
	sem         chan struct{}
	source      Source
	activeID    int
	initialized atomic.Bool
	live        atomic.Bool
}

func NewManager(candidates []int, open Opener, logger *zap.SugaredLogger) *Manager {
	ids := slices.Clone(candidates)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	return &Manager{
		candidates: ids,
		open:       open,
		logger:     logger,
		sem:        make(chan struct{}, 1),
		activeID:   -1,
	}
}

// Initialize tries every candidate in ascending order and keeps the first that works.
// When none works the manager stays in fallback mode; that is not an error.
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.initialized.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	for _, id := range m.candidates {
		if err := ctx.Err(); err != nil {
			m.logger.Warnw("device probing interrupted", "error", err)
			break
		}
		src := m.open(id)
		if err := src.Initialize(ctx); err != nil {
			m.logger.Warnw("camera probe failed", "device", id, "error", err)
			continue
		}
		src.StartMonitoring()
		m.source = src
		m.activeID = id
		m.live.Store(true)
		m.logger.Infow("camera initialized", "device", id)
		return nil
	}
	m.logger.Warnw("no camera available, serving synthesized frames", "candidates", m.candidates)
	return nil
}

func (m *Manager) Initialized() bool { return m.initialized.Load() }

func (m *Manager) IsLive() bool { return m.live.Load() }

// ActiveID returns the identifier of the live device.
func (m *Manager) ActiveID() (int, bool) {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()
	return m.activeID, m.source != nil
}

// Capture asks the active source for a frame. Waiting for a concurrent capture is bounded by ctx.
func (m *Manager) Capture(ctx context.Context) (image.Image, error) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-m.sem }()

	if m.source == nil {
		return nil, ErrNotLive
	}
	return m.source.Capture(ctx)
}

// Shutdown releases the active source. Calling it again, or without a source, is a no-op.
func (m *Manager) Shutdown() error {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	if m.source == nil {
		return nil
	}
	src, id := m.source, m.activeID
	m.source = nil
	m.activeID = -1
	m.live.Store(false)

	if err := src.Release(); err != nil {
		m.logger.Errorw("camera release failed", "device", id, "error", err)
		return fmt.Errorf("release device %d: %w", id, err)
	}
	m.logger.Infow("camera released", "device", id)
	return nil
}

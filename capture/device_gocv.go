//go:build gocv

package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const readRetryDelay = 50 * time.Millisecond

type DeviceOptions struct {
	ShmDir     string
	ShmPrefix  string
	StaleAfter time.Duration
}

// NewDeviceOpener maps device identifiers to OpenCV video capture devices.
func NewDeviceOpener(opts DeviceOptions, logger *zap.SugaredLogger) Opener {
	return func(id int) Source {
		return NewDeviceSource(id, opts.StaleAfter, logger)
	}
}

type DeviceSource struct {
	id         int
	staleAfter time.Duration
	logger     *zap.SugaredLogger
	vc         *gocv.VideoCapture

	mu      sync.RWMutex
	latest  image.Image
	updated time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDeviceSource builds the source for device id. Once reads have failed for longer
// than staleAfter, Capture reports no data.
func NewDeviceSource(id int, staleAfter time.Duration, logger *zap.SugaredLogger) *DeviceSource {
	return &DeviceSource{id: id, staleAfter: staleAfter, logger: logger.With("device", id), stop: make(chan struct{})}
}

func (d *DeviceSource) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vc, err := gocv.OpenVideoCapture(d.id)
	if err != nil {
		return fmt.Errorf("open device %d: %w", d.id, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("device %d is not opened", d.id)
	}
	mat := gocv.NewMat()
	defer mat.Close()
	if ok := vc.Read(&mat); !ok || mat.Empty() {
		vc.Close()
		return fmt.Errorf("device %d returned no frame", d.id)
	}
	if img, err := mat.ToImage(); err == nil {
		d.latest = img
		d.updated = time.Now()
	}
	d.vc = vc
	return nil
}

func (d *DeviceSource) StartMonitoring() {
	if d.vc == nil {
		return
	}
	d.wg.Add(1)
	go d.read()
}

func (d *DeviceSource) read() {
	defer d.wg.Done()
	mat := gocv.NewMat()
	defer mat.Close()
	for {
		select {
		case <-d.stop:
			return
		default:
		}
		if ok := d.vc.Read(&mat); !ok || mat.Empty() {
			time.Sleep(readRetryDelay)
			continue
		}
		img, err := mat.ToImage()
		if err != nil {
			d.logger.Debugw("cannot convert device frame", "error", err)
			continue
		}
		d.mu.Lock()
		d.latest = img
		d.updated = time.Now()
		d.mu.Unlock()
	}
}

func (d *DeviceSource) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.latest == nil || (d.staleAfter > 0 && time.Since(d.updated) > d.staleAfter) {
		return nil, nil
	}
	return d.latest, nil
}

func (d *DeviceSource) Release() error {
	var err error
	d.stopOnce.Do(func() {
		close(d.stop)
		d.wg.Wait()
		if d.vc != nil {
			err = d.vc.Close()
		}
	})
	return err
}

package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const frameHeaderSize = 5

// ShmSource reads frames that an external grabber writes into a shared memory file.
// File layout: 1 byte detection flag, 4 byte little-endian payload length, encoded image.
type ShmSource struct {
	id         int
	dir        string
	path       string
	staleAfter time.Duration
	logger     *zap.SugaredLogger
	now        func() time.Time

	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	latest   image.Image
	lastRaw  []byte
	detected int
	updated  time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewShmSource builds the source for device id. A frame older than staleAfter is not
// served; zero keeps the latest frame until the file goes away.
func NewShmSource(dir, prefix string, id int, staleAfter time.Duration, logger *zap.SugaredLogger) *ShmSource {
	return &ShmSource{
		id:         id,
		dir:        dir,
		path:       filepath.Join(dir, fmt.Sprintf("%s%d", prefix, id)),
		staleAfter: staleAfter,
		logger:     logger.With("device", id),
		now:        time.Now,
		detected:   -1,
		stop:       make(chan struct{}),
	}
}

func (s *ShmSource) Path() string { return s.path }

func (s *ShmSource) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, detected, err := ReadFrameFile(s.path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.watcher = watcher
	s.store(raw, detected)
	return nil
}

func (s *ShmSource) StartMonitoring() {
	if s.watcher == nil {
		return
	}
	s.wg.Add(1)
	go s.watch()
}

func (s *ShmSource) watch() {
	defer s.wg.Done()
	s.logger.Debugw("starting shared memory watcher", "path", s.path)
	for {
		select {
		case <-s.stop:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				s.logger.Infow("shared memory frame file gone", "path", s.path)
				s.clear()
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			raw, detected, err := ReadFrameFile(s.path)
			if err != nil {
				s.logger.Debugw("error reading frame from shared memory", "error", err)
				continue
			}
			s.store(raw, detected)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warnw("watcher error", "error", err)
		}
	}
}

func (s *ShmSource) store(raw []byte, detected int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// the same write is often reported twice
	if bytes.Equal(raw, s.lastRaw) {
		s.updated = s.now()
		return
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		s.logger.Debugw("error decoding shared memory frame", "error", err, "bytes", len(raw))
		return
	}
	s.lastRaw = raw
	s.latest = img
	s.detected = detected
	s.updated = s.now()
}

func (s *ShmSource) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = nil
	s.lastRaw = nil
	s.detected = -1
}

func (s *ShmSource) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil || (s.staleAfter > 0 && s.now().Sub(s.updated) > s.staleAfter) {
		return nil, nil
	}
	return s.latest, nil
}

// Detected returns the detection flag of the latest frame, -1 when none was set.
func (s *ShmSource) Detected() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detected
}

func (s *ShmSource) Release() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
		s.wg.Wait()
	})
	return err
}

// ReadFrameFile parses one frame file and returns its payload and detection flag.
func ReadFrameFile(path string) ([]byte, int, error) {
	detected := -1
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, detected, fmt.Errorf("%w: %s", ErrNoFrameFile, path)
	}
	if err != nil {
		return nil, detected, err
	}
	if len(data) < frameHeaderSize {
		return nil, detected, ErrShortFrame
	}
	detected = int(int8(data[0]))
	length := binary.LittleEndian.Uint32(data[1:frameHeaderSize])
	if uint64(len(data)-frameHeaderSize) < uint64(length) {
		return nil, detected, fmt.Errorf("%w: header says %d bytes, have %d", ErrShortFrame, length, len(data)-frameHeaderSize)
	}
	return data[frameHeaderSize : frameHeaderSize+int(length)], detected, nil
}

// EncodeFrameFile builds a frame file body, the inverse of ReadFrameFile.
func EncodeFrameFile(payload []byte, detected int8) []byte {
	out := make([]byte, frameHeaderSize+len(payload))
	out[0] = byte(detected)
	binary.LittleEndian.PutUint32(out[1:frameHeaderSize], uint32(len(payload)))
	copy(out[frameHeaderSize:], payload)
	return out
}

package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func pngBytes(t *testing.T, width int, fill color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeFrame(t *testing.T, path string, payload []byte, detected int8) {
	t.Helper()
	if err := os.WriteFile(path, EncodeFrameFile(payload, detected), 0644); err != nil {
		t.Fatalf("Failed to create shared memory file: %v", err)
	}
}

func TestNoSharedMemoryFileToRead(t *testing.T) {
	dir := t.TempDir()
	src := NewShmSource(dir, "video_frame", 0, 0, zaptest.NewLogger(t).Sugar())
	err := src.Initialize(context.Background())
	if !errors.Is(err, ErrNoFrameFile) {
		t.Fatalf("expected ErrNoFrameFile, got %v", err)
	}
	if err := src.Release(); err != nil {
		t.Errorf("release after failed initialize: %v", err)
	}
}

func TestReadFrameFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid frame", func(t *testing.T) {
		path := filepath.Join(dir, "ok")
		writeFrame(t, path, []byte("test data"), 1)
		payload, detected, err := ReadFrameFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(payload) != "test data" || detected != 1 {
			t.Errorf("got %q detected %d", payload, detected)
		}
	})

	t.Run("truncated payload", func(t *testing.T) {
		path := filepath.Join(dir, "short")
		body := EncodeFrameFile([]byte("test data"), -1)
		if err := os.WriteFile(path, body[:8], 0644); err != nil {
			t.Fatal(err)
		}
		if _, _, err := ReadFrameFile(path); !errors.Is(err, ErrShortFrame) {
			t.Fatalf("expected ErrShortFrame, got %v", err)
		}
	})

	t.Run("header only", func(t *testing.T) {
		path := filepath.Join(dir, "tiny")
		if err := os.WriteFile(path, []byte{0, 1}, 0644); err != nil {
			t.Fatal(err)
		}
		if _, _, err := ReadFrameFile(path); !errors.Is(err, ErrShortFrame) {
			t.Fatalf("expected ErrShortFrame, got %v", err)
		}
	})
}

func TestShmSourceFollowsWrites(t *testing.T) {
	dir := t.TempDir()
	src := NewShmSource(dir, "video_frame", 1, 0, zaptest.NewLogger(t).Sugar())
	writeFrame(t, src.Path(), pngBytes(t, 8, color.White), -1)

	if err := src.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.StartMonitoring()
	defer src.Release()

	img, err := src.Capture(context.Background())
	if err != nil || img == nil {
		t.Fatalf("expected initial frame, got %v, %v", img, err)
	}
	if img.Bounds().Dx() != 8 {
		t.Fatalf("expected width 8, got %d", img.Bounds().Dx())
	}

	writeFrame(t, src.Path(), pngBytes(t, 16, color.Black), 2)
	deadline := time.After(2 * time.Second)
	for {
		img, _ := src.Capture(context.Background())
		if img != nil && img.Bounds().Dx() == 16 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Timeout waiting for frame")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if src.Detected() != 2 {
		t.Errorf("expected detection flag 2, got %d", src.Detected())
	}
}

func TestShmSourceReleaseStopsMonitoring(t *testing.T) {
	dir := t.TempDir()
	src := NewShmSource(dir, "video_frame", 0, 0, zaptest.NewLogger(t).Sugar())
	writeFrame(t, src.Path(), pngBytes(t, 8, color.White), -1)
	if err := src.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.StartMonitoring()

	done := make(chan struct{})
	go func() {
		_ = src.Release()
		_ = src.Release()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("release did not join the monitoring goroutine")
	}
}

func TestShmSourceDropsFrameWhenFileRemoved(t *testing.T) {
	dir := t.TempDir()
	src := NewShmSource(dir, "video_frame", 0, 0, zaptest.NewLogger(t).Sugar())
	writeFrame(t, src.Path(), pngBytes(t, 8, color.White), -1)
	if err := src.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.StartMonitoring()
	defer src.Release()

	if err := os.Remove(src.Path()); err != nil {
		t.Fatal(err)
	}
	waitForCapture(t, src, func(img image.Image) bool { return img == nil })

	writeFrame(t, src.Path(), pngBytes(t, 16, color.Black), -1)
	waitForCapture(t, src, func(img image.Image) bool { return img != nil && img.Bounds().Dx() == 16 })
}

func TestShmSourceStaleFrame(t *testing.T) {
	dir := t.TempDir()
	src := NewShmSource(dir, "video_frame", 0, time.Second, zaptest.NewLogger(t).Sugar())
	var mu sync.Mutex
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	src.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(d)
	}

	writeFrame(t, src.Path(), pngBytes(t, 8, color.White), -1)
	if err := src.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer src.Release()

	advance(500 * time.Millisecond)
	if img, _ := src.Capture(context.Background()); img == nil {
		t.Fatal("expected a fresh frame")
	}
	advance(time.Second)
	if img, err := src.Capture(context.Background()); img != nil || err != nil {
		t.Fatalf("expected no data for a stale frame, got %v, %v", img != nil, err)
	}
}

func waitForCapture(t *testing.T, src *ShmSource, ok func(image.Image) bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		img, err := src.Capture(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if ok(img) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("Timeout waiting for frame")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

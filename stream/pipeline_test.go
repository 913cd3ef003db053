package stream

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"strzcam.com/dashboard/frame"
)

var errStop = errors.New("viewer gone")

type scriptedCapturer struct {
	initialized bool
	live        bool

	mu     sync.Mutex
	calls  int
	script func(call int) (image.Image, error)
}

func (s *scriptedCapturer) Initialized() bool { return s.initialized }
func (s *scriptedCapturer) IsLive() bool      { return s.live }

func (s *scriptedCapturer) Capture(context.Context) (image.Image, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.script(call)
}

func liveImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 320, 240))
}

func testOptions() Options {
	return Options{
		Interval:       time.Millisecond,
		ErrorBackoff:   5 * time.Millisecond,
		CaptureTimeout: 50 * time.Millisecond,
		Flags:          frame.DefaultFlags(),
	}
}

func newTestPipeline(t *testing.T, c Capturer, enc Encoder) *Pipeline {
	t.Helper()
	synth := frame.NewSynthesizer(640, 480, 3, rand.New(rand.NewPCG(1, 1)))
	if enc == nil {
		enc = JPEGEncoder(80)
	}
	return NewPipeline(c, synth, enc, testOptions(), zaptest.NewLogger(t).Sugar(), nil)
}

func collect(t *testing.T, p *Pipeline, n int) []Chunk {
	t.Helper()
	var chunks []Chunk
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.Run(ctx, func(c Chunk) error {
		chunks = append(chunks, c)
		if len(chunks) == n {
			return errStop
		}
		return nil
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("expected run to end with the emit error, got %v", err)
	}
	return chunks
}

func TestFallbackAlwaysSynthesizes(t *testing.T) {
	c := &scriptedCapturer{initialized: true, live: false}
	p := newTestPipeline(t, c, nil)
	for _, chunk := range collect(t, p, 5) {
		if chunk.Kind != frame.Synthetic {
			t.Fatalf("expected synthetic chunk, got %s", chunk.Kind)
		}
		if _, err := jpeg.Decode(bytes.NewReader(chunk.Data)); err != nil {
			t.Fatalf("chunk is not a jpeg: %v", err)
		}
	}
	if c.calls != 0 {
		t.Errorf("fallback must not touch the capture source, got %d calls", c.calls)
	}
}

func TestFallbackMotionOverlayFollowsClock(t *testing.T) {
	c := &scriptedCapturer{initialized: true}
	p := newTestPipeline(t, c, nil)

	p.now = func() time.Time { return time.Date(2025, 1, 1, 8, 30, 5, 0, time.UTC) }
	f := p.Next(context.Background())
	if f.Kind != frame.Synthetic || !f.HasOverlay(frame.MotionLabel) {
		t.Errorf("second 5: expected synthetic frame with motion overlay, got %s %v", f.Kind, f.Overlays)
	}

	p.now = func() time.Time { return time.Date(2025, 1, 1, 8, 30, 6, 0, time.UTC) }
	f = p.Next(context.Background())
	if f.Kind != frame.Synthetic || f.HasOverlay(frame.MotionLabel) {
		t.Errorf("second 6: expected synthetic frame without motion overlay, got %s %v", f.Kind, f.Overlays)
	}
}

func TestNotInitializedServesErrorFrame(t *testing.T) {
	p := newTestPipeline(t, &scriptedCapturer{}, nil)
	f := p.Next(context.Background())
	if f.Kind != frame.Error {
		t.Fatalf("expected error frame, got %s", f.Kind)
	}
	if !f.HasOverlay(frame.ErrorLabel + NotInitializedMessage) {
		t.Errorf("expected diagnostic overlay, got %v", f.Overlays)
	}
}

func TestLiveNullFrameDegradesOneTick(t *testing.T) {
	c := &scriptedCapturer{initialized: true, live: true, script: func(call int) (image.Image, error) {
		if call == 10 {
			return nil, nil
		}
		return liveImage(), nil
	}}
	p := newTestPipeline(t, c, nil)
	chunks := collect(t, p, 12)
	for i, chunk := range chunks {
		want := frame.Live
		if i == 9 {
			want = frame.Synthetic
		}
		if chunk.Kind != want {
			t.Errorf("tick %d: expected %s, got %s", i+1, want, chunk.Kind)
		}
	}
}

func TestLiveCaptureFaultDegradesOneTick(t *testing.T) {
	c := &scriptedCapturer{initialized: true, live: true, script: func(call int) (image.Image, error) {
		switch call {
		case 2:
			return nil, errors.New("device read failed")
		case 3:
			panic("driver crashed")
		}
		return liveImage(), nil
	}}
	p := newTestPipeline(t, c, nil)
	kinds := []frame.Kind{}
	for _, chunk := range collect(t, p, 4) {
		kinds = append(kinds, chunk.Kind)
	}
	want := []frame.Kind{frame.Live, frame.Synthetic, frame.Synthetic, frame.Live}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
	if !c.IsLive() {
		t.Error("live state must not change on a failed capture")
	}
}

func TestEncodeFailureSkipsTick(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	enc := func(w io.Writer, img image.Image) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n%2 == 1 {
			return errors.New("encoder out of memory")
		}
		return jpeg.Encode(w, img, nil)
	}
	p := newTestPipeline(t, &scriptedCapturer{initialized: true}, enc)
	chunks := collect(t, p, 3)
	for _, chunk := range chunks {
		if len(chunk.Data) == 0 {
			t.Fatal("a failed encode must not emit a chunk")
		}
	}
	if calls != 6 {
		t.Errorf("expected 6 encode attempts for 3 chunks, got %d", calls)
	}
}

func TestTickFaultBacksOffAndContinues(t *testing.T) {
	calls := 0
	enc := func(w io.Writer, img image.Image) error {
		calls++
		if calls == 1 {
			panic("encoder bug")
		}
		return jpeg.Encode(w, img, nil)
	}
	p := newTestPipeline(t, &scriptedCapturer{initialized: true}, enc)
	p.opts.ErrorBackoff = 30 * time.Millisecond

	start := time.Now()
	chunks := collect(t, p, 1)
	if len(chunks) != 1 {
		t.Fatalf("expected the stream to continue after a fault")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("expected backoff before the next tick, took %s", elapsed)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	p := newTestPipeline(t, &scriptedCapturer{initialized: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, func(Chunk) error { return nil })
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

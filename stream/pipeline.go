package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"time"

	"go.uber.org/zap"
	"strzcam.com/dashboard/frame"
	"strzcam.com/dashboard/metrics"
)

const NotInitializedMessage = "camera not initialized"

var errTickFault = errors.New("pipeline tick fault")

// Capturer is the view of the acquisition manager the pipeline needs.
type Capturer interface {
	Initialized() bool
	IsLive() bool
	Capture(ctx context.Context) (image.Image, error)
}

type Encoder func(w io.Writer, img image.Image) error

func JPEGEncoder(quality int) Encoder {
	return func(w io.Writer, img image.Image) error {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	}
}

type Options struct {
	Interval       time.Duration
	ErrorBackoff   time.Duration
	CaptureTimeout time.Duration
	Flags          frame.Flags
}

// Chunk is one encoded frame ready for a viewer.
type Chunk struct {
	Data []byte
	Kind frame.Kind
	At   time.Time
}

// Pipeline turns live captures, or synthesized frames when there are none, into encoded chunks.
type Pipeline struct {
	source  Capturer
	synth   *frame.Synthesizer
	encode  Encoder
	opts    Options
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewPipeline(source Capturer, synth *frame.Synthesizer, encode Encoder, opts Options, logger *zap.SugaredLogger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		source:  source,
		synth:   synth,
		encode:  encode,
		opts:    opts,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Next produces the frame for one tick. It never returns nil.
func (p *Pipeline) Next(ctx context.Context) *frame.Frame {
	now := p.now()
	if !p.source.Initialized() {
		return p.synth.ErrorFrame(now, NotInitializedMessage)
	}
	if p.source.IsLive() {
		img, err := p.capture(ctx)
		if err == nil && img != nil {
			return frame.Stamp(img, now)
		}
		p.metrics.CaptureFailed()
		if err != nil {
			p.logger.Debugw("capture failed, synthesizing frame", "error", err)
		} else {
			p.logger.Debugw("capture returned no data, synthesizing frame")
		}
	}
	return p.synth.Synthesize(now, p.opts.Flags)
}

func (p *Pipeline) capture(ctx context.Context) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("capture panicked: %v", r)
		}
	}()
	if p.opts.CaptureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.CaptureTimeout)
		defer cancel()
	}
	return p.source.Capture(ctx)
}

func (p *Pipeline) Encode(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.encode(&buf, f.Image); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Snapshot produces and encodes a single frame.
func (p *Pipeline) Snapshot(ctx context.Context) (Chunk, error) {
	return p.tick(ctx)
}

func (p *Pipeline) tick(ctx context.Context) (chunk Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errTickFault, r)
		}
	}()
	f := p.Next(ctx)
	data, err := p.Encode(f)
	if err != nil {
		return Chunk{Kind: f.Kind, At: f.At}, fmt.Errorf("encode %s frame: %w", f.Kind, err)
	}
	return Chunk{Data: data, Kind: f.Kind, At: f.At}, nil
}

// Run emits one chunk per interval until ctx ends or emit fails. An encode failure skips
// the tick; a faulting tick is followed by the error backoff instead of the interval.
func (p *Pipeline) Run(ctx context.Context, emit func(Chunk) error) error {
	timer := time.NewTimer(p.opts.Interval)
	timer.Stop()
	defer timer.Stop()

	for {
		delay := p.opts.Interval
		chunk, err := p.tick(ctx)
		switch {
		case errors.Is(err, errTickFault):
			p.logger.Errorw("pipeline tick failed", "error", err, "backoff", p.opts.ErrorBackoff)
			p.metrics.TickFault()
			delay = p.opts.ErrorBackoff
		case err != nil:
			// an encode failure is per frame, so the next tick keeps the normal pace
			p.logger.Warnw("skipping frame", "error", err)
			p.metrics.FrameSkipped()
		default:
			if err := emit(chunk); err != nil {
				return err
			}
			p.metrics.FrameEmitted(chunk.Kind.String())
		}

		timer.Reset(delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

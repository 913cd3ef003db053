package frame

import (
	"image"
	"image/color"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	CameraLabel     = "CAMERA SIMULATION"
	MotionLabel     = "MOTION DETECTED"
	ErrorLabel      = "ERROR: "
	motionCadence   = 5
	defaultMaxRects = 5
)

var (
	background      = color.RGBA{R: 30, G: 30, B: 30, A: 255}
	errorBackground = color.RGBA{R: 60, G: 0, B: 0, A: 255}
	textColor       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	alertColor      = color.RGBA{R: 255, G: 40, B: 40, A: 255}
)

type Flags struct {
	CameraLabel     bool
	MotionIndicator bool
	Decorations     bool
}

func DefaultFlags() Flags {
	return Flags{CameraLabel: true, MotionIndicator: true, Decorations: true}
}

// Synthesizer renders placeholder frames used when no live device can supply one.
type Synthesizer struct {
	width    int
	height   int
	maxRects int

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSynthesizer builds a synthesizer. A nil rnd seeds one from the runtime source.
func NewSynthesizer(width, height, maxRects int, rnd *rand.Rand) *Synthesizer {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if maxRects < 0 {
		maxRects = defaultMaxRects
	}
	return &Synthesizer{width: width, height: height, maxRects: maxRects, rnd: rnd}
}

func (s *Synthesizer) Size() (int, int) { return s.width, s.height }

// MotionDue reports whether the motion indicator is shown at now.
func MotionDue(now time.Time) bool {
	return now.Second()%motionCadence == 0
}

func (s *Synthesizer) Synthesize(now time.Time, flags Flags) *Frame {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	fillRect(img, img.Bounds(), background)
	f := &Frame{Image: img, Kind: Synthetic, At: now}

	if flags.Decorations {
		s.decorate(img)
	}
	if flags.CameraLabel {
		drawText(img, 10, 20, CameraLabel, textColor)
		f.Overlays = append(f.Overlays, CameraLabel)
	}
	if flags.MotionIndicator && MotionDue(now) {
		strokeRect(img, img.Bounds().Inset(4), 4, alertColor)
		drawText(img, s.width/2-len(MotionLabel)*7/2, s.height/2, MotionLabel, alertColor)
		f.Overlays = append(f.Overlays, MotionLabel)
	}
	stamp(f)
	return f
}

// ErrorFrame renders a diagnostic frame carrying msg instead of the normal overlays.
func (s *Synthesizer) ErrorFrame(now time.Time, msg string) *Frame {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	fillRect(img, img.Bounds(), errorBackground)
	text := ErrorLabel + msg
	drawText(img, 10, s.height/2, text, textColor)
	f := &Frame{Image: img, Kind: Error, At: now, Overlays: []string{text}}
	stamp(f)
	return f
}

// Stamp wraps a captured image as a live frame carrying the time overlay.
func Stamp(img image.Image, now time.Time) *Frame {
	f := &Frame{Image: ToRGBA(img), Kind: Live, At: now}
	stamp(f)
	return f
}

func stamp(f *Frame) {
	text := TimeText(f.At)
	drawText(f.Image, 10, f.Image.Bounds().Dy()-10, text, textColor)
	f.Overlays = append(f.Overlays, text)
}

func (s *Synthesizer) decorate(img *image.RGBA) {
	if s.maxRects == 0 || s.width < 2 || s.height < 2 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.rnd.IntN(s.maxRects) + 1
	for i := 0; i < n; i++ {
		x := s.rnd.IntN(s.width)
		y := s.rnd.IntN(s.height)
		w := 20 + s.rnd.IntN(80)
		h := 20 + s.rnd.IntN(80)
		col := color.RGBA{
			R: uint8(s.rnd.IntN(256)),
			G: uint8(s.rnd.IntN(256)),
			B: uint8(s.rnd.IntN(256)),
			A: 255,
		}
		fillRect(img, image.Rect(x, y, x+w, y+h), col)
	}
}

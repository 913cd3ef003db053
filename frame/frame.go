package frame

import (
	"image"
	"time"
)

type Kind int8

const (
	Live Kind = iota
	Synthetic
	Error
)

func (k Kind) String() string {
	switch k {
	case Live:
		return "live"
	case Synthetic:
		return "synthetic"
	case Error:
		return "error"
	}
	return "unknown"
}

// Frame is one raster produced within a single pipeline tick.
type Frame struct {
	Image    *image.RGBA
	Kind     Kind
	Overlays []string
	At       time.Time
}

func (f *Frame) HasOverlay(text string) bool {
	for _, o := range f.Overlays {
		if o == text {
			return true
		}
	}
	return false
}

func (f *Frame) Width() int  { return f.Image.Bounds().Dx() }
func (f *Frame) Height() int { return f.Image.Bounds().Dy() }

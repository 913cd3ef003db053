package stats

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidState = errors.New("invalid aggregate state")

type MotionStats struct {
	RecentCount int `json:"recent_count"`
	TotalCount  int `json:"total_count"`
}

type AudioStats struct {
	CurrentVolume float64 `json:"current_volume"`
	CurrentDB     float64 `json:"current_db"`
	AlertsCount   int     `json:"alerts_count"`
}

// State is the aggregate sensor snapshot pushed to dashboard viewers.
type State struct {
	MotionCount  int         `json:"motion_count"`
	SoundAlerts  int         `json:"sound_alerts"`
	LastMotion   *time.Time  `json:"last_motion"`
	CameraActive bool        `json:"camera_active"`
	AudioActive  bool        `json:"audio_active"`
	Uptime       time.Time   `json:"uptime"`
	MotionStats  MotionStats `json:"motion_stats"`
	AudioStats   AudioStats  `json:"audio_stats"`
}

// NewState returns the initial snapshot for a process started at start.
func NewState(start time.Time) State {
	return State{
		CameraActive: true,
		AudioActive:  true,
		Uptime:       start,
	}
}

// Validate checks that counters are non-negative and last_motion is not ahead of now.
func (s State) Validate(now time.Time) error {
	switch {
	case s.MotionCount < 0:
		return fmt.Errorf("%w: motion_count %d", ErrInvalidState, s.MotionCount)
	case s.SoundAlerts < 0:
		return fmt.Errorf("%w: sound_alerts %d", ErrInvalidState, s.SoundAlerts)
	case s.MotionStats.RecentCount < 0 || s.MotionStats.TotalCount < 0:
		return fmt.Errorf("%w: motion_stats %+v", ErrInvalidState, s.MotionStats)
	case !finite(s.AudioStats.CurrentVolume) || !finite(s.AudioStats.CurrentDB):
		return fmt.Errorf("%w: audio_stats %+v is not finite", ErrInvalidState, s.AudioStats)
	case s.AudioStats.CurrentVolume < 0 || s.AudioStats.CurrentDB < 0 || s.AudioStats.AlertsCount < 0:
		return fmt.Errorf("%w: audio_stats %+v", ErrInvalidState, s.AudioStats)
	case s.LastMotion != nil && s.LastMotion.After(now):
		return fmt.Errorf("%w: last_motion %s is in the future", ErrInvalidState, s.LastMotion.Format(time.RFC3339))
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (s State) clone() State {
	if s.LastMotion != nil {
		t := *s.LastMotion
		s.LastMotion = &t
	}
	return s
}

package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cell publishes State snapshots. Readers never lock; writers are serialized so a
// read-modify-write through Update cannot lose a concurrent update.
type Cell struct {
	current atomic.Pointer[State]
	writeMu sync.Mutex
	now     func() time.Time
}

func NewCell(initial State) *Cell {
	c := &Cell{now: time.Now}
	s := initial.clone()
	c.current.Store(&s)
	return c
}

// Load returns a copy of the current snapshot.
func (c *Cell) Load() State {
	return c.current.Load().clone()
}

// Store replaces the snapshot. An invalid state is rejected and the previous one kept.
func (c *Cell) Store(s State) error {
	if err := s.Validate(c.now()); err != nil {
		return err
	}
	s = s.clone()
	c.writeMu.Lock()
	c.current.Store(&s)
	c.writeMu.Unlock()
	return nil
}

// Update applies fn to a copy of the current snapshot and publishes the result.
func (c *Cell) Update(fn func(*State)) (State, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next := c.current.Load().clone()
	fn(&next)
	if err := next.Validate(c.now()); err != nil {
		return c.current.Load().clone(), err
	}
	c.current.Store(&next)
	return next.clone(), nil
}

// RecordMotion is the producer-side helper for one motion event at t.
func (c *Cell) RecordMotion(t time.Time) error {
	_, err := c.Update(func(s *State) {
		s.MotionCount++
		s.MotionStats.RecentCount++
		s.MotionStats.TotalCount++
		s.LastMotion = &t
	})
	return err
}

func (c *Cell) RecordSoundAlert(volume, db float64) error {
	_, err := c.Update(func(s *State) {
		s.SoundAlerts++
		s.AudioStats.AlertsCount++
		s.AudioStats.CurrentVolume = volume
		s.AudioStats.CurrentDB = db
	})
	return err
}

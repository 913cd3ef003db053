package stats

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func TestStateRoundTrip(t *testing.T) {
	start := time.Date(2025, 3, 4, 10, 20, 30, 123456789, time.UTC)
	last := start.Add(5 * time.Minute)
	s := State{
		MotionCount:  7,
		SoundAlerts:  2,
		LastMotion:   &last,
		CameraActive: true,
		AudioActive:  false,
		Uptime:       start,
		MotionStats:  MotionStats{RecentCount: 1, TotalCount: 7},
		AudioStats:   AudioStats{CurrentVolume: 0.1, CurrentDB: 30.0, AlertsCount: 2},
	}
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal generic: %v", err)
	}
	if _, ok := generic["last_motion"].(string); !ok {
		t.Errorf("expected last_motion to be a string, got %T", generic["last_motion"])
	}
	if _, ok := generic["uptime"].(string); !ok {
		t.Errorf("expected uptime to be a string, got %T", generic["uptime"])
	}

	var back State
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Uptime.Equal(s.Uptime) {
		t.Errorf("uptime: expected %s, got %s", s.Uptime, back.Uptime)
	}
	if back.LastMotion == nil || !back.LastMotion.Equal(last) {
		t.Errorf("last_motion: expected %s, got %v", last, back.LastMotion)
	}
	back.Uptime, back.LastMotion = s.Uptime, s.LastMotion
	if back != s {
		t.Errorf("expected %+v, got %+v", s, back)
	}
}

func TestNullLastMotion(t *testing.T) {
	raw, err := json.Marshal(NewState(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatal(err)
	}
	if v, ok := generic["last_motion"]; !ok || v != nil {
		t.Errorf("expected last_motion to be null, got %v", v)
	}
}

func TestCellRejectsInvalidState(t *testing.T) {
	now := time.Now()
	cell := NewCell(NewState(now))

	t.Run("negative counter", func(t *testing.T) {
		s := cell.Load()
		s.MotionCount = -1
		if err := cell.Store(s); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
		if cell.Load().MotionCount != 0 {
			t.Error("previous snapshot should be kept")
		}
	})

	t.Run("last motion in the future", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		_, err := cell.Update(func(s *State) { s.LastMotion = &future })
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
		if cell.Load().LastMotion != nil {
			t.Error("previous snapshot should be kept")
		}
	})

	for name, vals := range map[string][2]float64{
		"nan volume":      {math.NaN(), 30},
		"infinite db":     {0.5, math.Inf(1)},
		"negative inf db": {0.5, math.Inf(-1)},
	} {
		t.Run(name, func(t *testing.T) {
			if err := cell.RecordSoundAlert(vals[0], vals[1]); !errors.Is(err, ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState, got %v", err)
			}
			if _, err := json.Marshal(cell.Load()); err != nil {
				t.Fatalf("kept snapshot must stay serializable: %v", err)
			}
			if cell.Load().SoundAlerts != 0 {
				t.Error("previous snapshot should be kept")
			}
		})
	}
}

func TestCellLoadReturnsCopy(t *testing.T) {
	cell := NewCell(NewState(time.Now()))
	if err := cell.RecordMotion(time.Now().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}
	s := cell.Load()
	*s.LastMotion = s.LastMotion.Add(time.Hour)
	s.MotionCount = 100

	again := cell.Load()
	if again.MotionCount != 1 {
		t.Errorf("expected motion count 1, got %d", again.MotionCount)
	}
	if again.LastMotion.After(time.Now()) {
		t.Error("mutating a loaded snapshot must not leak into the cell")
	}
}

func TestCellConcurrentUpdates(t *testing.T) {
	cell := NewCell(NewState(time.Now()))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = cell.RecordSoundAlert(0.5, 60)
		}()
		go func() {
			defer wg.Done()
			_ = cell.Load()
		}()
	}
	wg.Wait()
	s := cell.Load()
	if s.SoundAlerts != 50 || s.AudioStats.AlertsCount != 50 {
		t.Errorf("expected 50 alerts, got %d/%d", s.SoundAlerts, s.AudioStats.AlertsCount)
	}
}

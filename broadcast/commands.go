package broadcast

import (
	"context"
	"errors"
	"fmt"

	"strzcam.com/dashboard/stats"
)

var errMissingField = errors.New("missing field")

type toggle struct {
	Enabled *bool `json:"enabled"`
}

// RegisterStateCommands wires the dashboard controls that only touch the aggregate state.
func (h *Hub) RegisterStateCommands() {
	h.Handle("toggle_camera", h.toggleCommand(func(s *stats.State, on bool) { s.CameraActive = on }))
	h.Handle("toggle_audio", h.toggleCommand(func(s *stats.State, on bool) { s.AudioActive = on }))
	h.Handle("change_sensitivity", h.changeSensitivity)
}

func (h *Hub) toggleCommand(apply func(*stats.State, bool)) CommandFunc {
	return func(_ context.Context, cmd Command) error {
		var body toggle
		if err := cmd.Decode(&body); err != nil {
			return err
		}
		if body.Enabled == nil {
			return fmt.Errorf("%s: %w enabled", cmd.Type, errMissingField)
		}
		state, err := h.cell.Update(func(s *stats.State) { apply(s, *body.Enabled) })
		if err != nil {
			return err
		}
		h.logger.Infow("control toggled", "type", cmd.Type, "enabled", *body.Enabled, "subscriber", cmd.Subscriber)
		h.Broadcast(Message{Type: TypeStatsUpdate, Data: state})
		return nil
	}
}

func (h *Hub) changeSensitivity(_ context.Context, cmd Command) error {
	var body struct {
		Level any `json:"level"`
	}
	if err := cmd.Decode(&body); err != nil {
		return err
	}
	if body.Level == nil {
		return fmt.Errorf("%s: %w level", cmd.Type, errMissingField)
	}
	h.logger.Infow("sensitivity changed", "level", body.Level, "subscriber", cmd.Subscriber)
	h.Broadcast(Message{Type: TypeSensitivityChanged, Level: body.Level})
	return nil
}

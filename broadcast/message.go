package broadcast

import "encoding/json"

const (
	TypeConnectionEstablished = "connection_established"
	TypeStatsUpdate           = "stats_update"
	TypePhotoCaptured         = "photo_captured"
	TypeSensitivityChanged    = "sensitivity_changed"
)

const welcomeText = "Connected to Enhanced Security Dashboard"

// Message is the envelope of everything the server pushes to a subscriber.
type Message struct {
	Type     string `json:"type"`
	Message  string `json:"message,omitempty"`
	Level    any    `json:"level,omitempty"`
	Filename string `json:"filename,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// Command is one inbound message from a subscriber, e.g. {"type":"toggle_camera","enabled":false}.
type Command struct {
	Type       string
	Subscriber string
	Payload    json.RawMessage
}

// Decode unmarshals the command body into v.
func (c Command) Decode(v any) error {
	return json.Unmarshal(c.Payload, v)
}

func parseCommand(subscriber string, data []byte) (Command, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Command{}, err
	}
	return Command{Type: head.Type, Subscriber: subscriber, Payload: data}, nil
}

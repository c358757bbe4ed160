package domain

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Frame is the envelope of every message on a live connection.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func EncodeFrame(event string, data any) ([]byte, error) {
	payload, err := sonic.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return sonic.Marshal(Frame{Event: event, Data: payload})
}

func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := sonic.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("frame has no event name")
	}
	return f, nil
}

// StringData decodes a frame payload that is expected to be a single
// identifier. Numbers are accepted and rendered in decimal.
func (f Frame) StringData() (string, error) {
	return scalarString(f.Data)
}

// ChangeEvent decodes the payload of a player_updated or debug_update frame.
func (f Frame) ChangeEvent() (ChangeEvent, error) {
	var ev ChangeEvent
	if err := sonic.Unmarshal(f.Data, &ev); err != nil {
		return ChangeEvent{}, err
	}
	return ev, nil
}

package wire

import (
	"encoding/json"
	"fmt"
)

// Encode frames an event with its payload. A nil payload produces an
// envelope with no P field.
func Encode(event string, id uint64, payload any) ([]byte, error) {
	env := Envelope{T: event, ID: id}
	if payload != nil {
		p, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		env.P = p
	}
	return json.Marshal(env)
}

// Decode parses a framed message. The payload stays raw so the dispatcher
// can route on T before committing to a shape.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.T == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event type")
	}
	return env, nil
}

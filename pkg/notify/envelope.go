package notify

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Envelope is the wire form of a notification: {"type": ..., "payload": {...}}.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var emptyObject = json.RawMessage("{}")

// EncodeEnvelope wraps payload into the canonical JSON envelope for t.
// A nil payload is encoded as an empty object.
func EncodeEnvelope(t Type, payload any) ([]byte, error) {
	raw := emptyObject
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Join(ErrInvalidPayload, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// DecodeEnvelope parses a broker message body. A missing or null payload
// decodes to an empty object so handlers always see a JSON object.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, errors.Join(ErrMalformedEnvelope, err)
	}
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		env.Payload = emptyObject
	}
	return env, nil
}

// Package queue provides the durable message transport between pipeline
// stages and the shared worker loop that every stage binary runs.
package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EnvelopeVersion is the current framing version.
const EnvelopeVersion = 1

// Envelope is the single framing type used on every queue. Stage handlers
// only ever see the decoded payload; the framing layer owns versioning, the
// per-message tracing id and the base64 transport encoding.
type Envelope struct {
	Version   int             `json:"version"`
	MessageID string          `json:"message_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Encode marshals payload into a versioned envelope and base64-encodes it.
// Base64 keeps the JSON intact across transports that mangle raw bytes.
func Encode(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	env := Envelope{Version: EnvelopeVersion, MessageID: uuid.NewString(), Payload: raw}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(body)))
	base64.StdEncoding.Encode(encoded, body)
	return encoded, nil
}

// Decode reverses Encode and returns the payload. Messages from older
// producers that sent a bare base64 JSON object without the envelope wrapper
// are still accepted: if no version field is present the whole document is
// treated as the payload.
func Decode(body []byte) (json.RawMessage, error) {
	env, err := DecodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	return env.Payload, nil
}

// DecodeEnvelope reverses Encode keeping the framing fields. Legacy messages
// decode with an empty MessageID.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty message body")
	}
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(body)))
	n, err := base64.StdEncoding.Decode(decoded, body)
	if err != nil {
		return nil, fmt.Errorf("message body is not valid base64: %w", err)
	}
	decoded = decoded[:n]

	var env Envelope
	if err := json.Unmarshal(decoded, &env); err != nil {
		return nil, fmt.Errorf("message body is not valid JSON: %w", err)
	}
	if env.Version == 0 || env.Payload == nil {
		// Legacy framing: the document itself is the payload.
		if !json.Valid(decoded) {
			return nil, fmt.Errorf("message payload is not valid JSON")
		}
		return &Envelope{Payload: decoded}, nil
	}
	return &env, nil
}

// statusProbe extracts the status tag from a decoded payload without binding
// to any particular message type. Producers use either current_status or
// status depending on the stage.
type statusProbe struct {
	CurrentStatus string `json:"current_status"`
	Status        string `json:"status"`
}

// PayloadStatus returns the status tag of a decoded payload, preferring
// current_status over status. Empty when neither field is present.
func PayloadStatus(payload json.RawMessage) string {
	var probe statusProbe
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	if probe.CurrentStatus != "" {
		return probe.CurrentStatus
	}
	return probe.Status
}

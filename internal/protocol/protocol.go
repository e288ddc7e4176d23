package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atelierhq/collabd"
)

const maxFrameSize = 1 * 1024 * 1024 // 1MB max inbound frame

// ErrMissingType is returned by Decode when the frame parses as JSON but
// carries no "type" field. Callers distinguish it from a parse failure
// because the two produce different error replies.
var ErrMissingType = errors.New("missing message type")

// Decode parses a text frame into an envelope. A frame that is not a JSON
// object is a protocol error; one that parses but carries no usable "type"
// returns ErrMissingType alongside the decoded envelope. A "type" that is
// present but not a string (say a number) is not missing; the dispatcher
// reports it as an unknown type instead.
func Decode(data []byte) (collabd.Envelope, error) {
	if len(data) > maxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds maximum %d bytes", len(data), maxFrameSize)
	}

	var env collabd.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch v := env["type"].(type) {
	case nil:
		return env, ErrMissingType
	case string:
		if v == "" {
			return env, ErrMissingType
		}
	case bool:
		if !v {
			return env, ErrMissingType
		}
	case float64:
		if v == 0 {
			return env, ErrMissingType
		}
	}
	return env, nil
}

// Encode serializes an envelope for the wire. Envelopes are plain maps of
// JSON-representable values, so failures indicate a programming error in the
// sender rather than bad input.
func Encode(env collabd.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// Timestamp returns the current server time in the wire format used by
// server-originated envelopes.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Error builds the standard error envelope.
func Error(msg string) collabd.Envelope {
	return collabd.Envelope{
		"type":      collabd.MsgError,
		"error":     msg,
		"timestamp": Timestamp(),
	}
}

package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/groover/pkg/audio"
)

// ErrMalformed is returned by [Decode] for payloads that are not a valid
// control message.
var ErrMalformed = errors.New("dispatch: malformed message")

// Message is a control message. The variants are [Join] and [PausePlay].
type Message interface {
	// Type returns the wire name of the variant.
	Type() string

	isMessage()
}

// Join asks the bot to join the call described by Info, replacing any
// active call.
type Join struct {
	Info audio.ConnectionInfo
}

// Type implements [Message].
func (Join) Type() string { return "Join" }
func (Join) isMessage()   {}

// PausePlay toggles playback of the streaming session.
type PausePlay struct{}

// Type implements [Message].
func (PausePlay) Type() string { return "PausePlay" }
func (PausePlay) isMessage()   {}

// envelope is the wire form: {"type":"Join","info":{...}} or
// {"type":"PausePlay"}.
type envelope struct {
	Type string                `json:"type"`
	Info *audio.ConnectionInfo `json:"info,omitempty"`
}

// Decode parses a JSON control message. Unknown types and Join messages
// without usable connection info yield [ErrMalformed].
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	switch env.Type {
	case "Join":
		if env.Info == nil {
			return nil, fmt.Errorf("%w: join without info", ErrMalformed)
		}
		if err := env.Info.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return Join{Info: *env.Info}, nil
	case "PausePlay":
		return PausePlay{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
}

// Encode returns the wire form of m.
func Encode(m Message) ([]byte, error) {
	env := envelope{Type: m.Type()}
	if j, ok := m.(Join); ok {
		env.Info = &j.Info
	}
	return json.Marshal(env)
}

// Package channel defines the duplex live session with the hosted model.
//
// A Channel carries realtime media upstream and delivers model output as a
// stream of Events. Implementations live in the gemini (SDK) and wire (raw
// websocket protocol) subpackages.
package channel

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned by Send after the channel has been closed.
var ErrClosed = errors.New("channel closed")

// Kind tags a realtime input.
type Kind string

const (
	KindAudio Kind = "audio"
	KindImage Kind = "image"
)

// RealtimeInput is one upstream media chunk. Payload is the transport
// (base64) encoding of the raw bytes.
type RealtimeInput struct {
	Kind     Kind
	Payload  string
	MIMEType string
}

// Event is one inbound server message reduced to the fields the client acts
// on. Any combination of fields may be set.
type Event struct {
	// Audio holds decoded PCM16 24 kHz segments in arrival order.
	Audio [][]byte
	// Dropped counts audio segments that failed to decode.
	Dropped int

	Interrupted      bool
	InputTranscript  string
	OutputTranscript string
	TurnComplete     bool
}

// Empty reports whether the event carries nothing actionable.
func (e Event) Empty() bool {
	return len(e.Audio) == 0 && e.Dropped == 0 && !e.Interrupted &&
		e.InputTranscript == "" && e.OutputTranscript == "" && !e.TurnComplete
}

// Config describes the session requested from the model.
type Config struct {
	Model             string
	SystemInstruction string
	Voice             string

	InputTranscription  bool
	OutputTranscription bool
}

// Channel is a live duplex session.
//
// Events is closed when the session ends. Err then reports why: nil for a
// clean close (including a local Close), otherwise the remote or transport
// failure.
type Channel interface {
	Send(ctx context.Context, in RealtimeInput) error
	Events() <-chan Event
	Err() error
	Close() error
}

// Connector opens channels.
type Connector interface {
	Connect(ctx context.Context, cfg Config) (Channel, error)
}

// KeyFunc resolves the API credential when a session starts.
type KeyFunc func() (string, error)

// StaticKey returns a KeyFunc that always yields key.
func StaticKey(key string) KeyFunc {
	return func() (string, error) {
		if strings.TrimSpace(key) == "" {
			return "", errors.New("api key is empty")
		}
		return key, nil
	}
}

// ModelName strips an optional "models/" prefix.
func ModelName(model string) string {
	return strings.TrimPrefix(strings.TrimSpace(model), "models/")
}

// Package protocol defines the frames exchanged with the assistant backend.
//
// Server frames are JSON objects whose "type" field selects the payload.
// Client frames are raw UTF-8 text, one per user utterance, with no envelope.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame types sent by the server
const (
	TypeState = "assistant_state"
	TypeChunk = "assistant_chunk"
	TypeAudio = "assistant_audio"
	TypeEnd   = "assistant_end"
)

var (
	// ErrUnknownType is returned for frames whose type this client does not handle.
	// Callers should ignore such frames.
	ErrUnknownType = errors.New("unknown frame type")
	// ErrMalformed is returned for frames that are not a JSON object
	ErrMalformed = errors.New("malformed frame")
)

// Event is a decoded server frame. It is one of StateEvent, ChunkEvent,
// AudioEvent or EndEvent.
type Event interface {
	// Type returns the wire type of the event
	Type() string
}

// StateEvent reports that the conversational phase changed
type StateEvent struct {
	State string
}

// ChunkEvent carries incremental response text
type ChunkEvent struct {
	Text string
}

// AudioEvent announces a playable audio resource
type AudioEvent struct {
	URL string
}

// EndEvent completes a response. FinalText is authoritative and replaces
// whatever chunks were streamed.
type EndEvent struct {
	FinalText string
}

func (StateEvent) Type() string { return TypeState }
func (ChunkEvent) Type() string { return TypeChunk }
func (AudioEvent) Type() string { return TypeAudio }
func (EndEvent) Type() string   { return TypeEnd }

// Frame is the JSON shape of every server frame
type Frame struct {
	Type    string `json:"type"`
	State   string `json:"state,omitempty"`
	Content string `json:"content,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Decode parses one server frame
func Decode(data []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch f.Type {
	case TypeState:
		return StateEvent{State: f.State}, nil
	case TypeChunk:
		return ChunkEvent{Text: f.Content}, nil
	case TypeAudio:
		return AudioEvent{URL: f.URL}, nil
	case TypeEnd:
		return EndEvent{FinalText: f.Content}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
}

// Encode renders an event as the server would send it
func Encode(ev Event) ([]byte, error) {
	var f Frame
	switch e := ev.(type) {
	case StateEvent:
		f = Frame{Type: TypeState, State: e.State}
	case ChunkEvent:
		f = Frame{Type: TypeChunk, Content: e.Text}
	case AudioEvent:
		f = Frame{Type: TypeAudio, URL: e.URL}
	case EndEvent:
		f = Frame{Type: TypeEnd, Content: e.FinalText}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, ev)
	}
	return json.Marshal(f)
}

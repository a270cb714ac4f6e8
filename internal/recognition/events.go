package recognition

import (
	"encoding/json"
	"fmt"
)

// EventKind enumerates the server event shapes the client understands.
// Anything else is a ProtocolError.
type EventKind int

const (
	KindSessionBegins EventKind = iota
	KindPartial
	KindFinal
	KindSessionTerminated
	KindServerError
)

// Event is the decoded form of one server message.
type Event struct {
	Kind       EventKind
	AudioStart int
	Text       string
	Message    string
}

type wireEvent struct {
	MessageType string  `json:"message_type"`
	AudioStart  int     `json:"audio_start"`
	Text        string  `json:"text"`
	Error       string  `json:"error"`
	Confidence  float64 `json:"confidence"`
}

// parseEvent decodes a server JSON message into the closed event union.
func parseEvent(data []byte) (Event, error) {
	var raw wireEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, &ProtocolError{Payload: data, Err: err}
	}
	switch raw.MessageType {
	case "SessionBegins":
		return Event{Kind: KindSessionBegins}, nil
	case "PartialTranscript":
		return Event{Kind: KindPartial, AudioStart: raw.AudioStart, Text: raw.Text}, nil
	case "FinalTranscript":
		return Event{Kind: KindFinal, AudioStart: raw.AudioStart, Text: raw.Text}, nil
	case "SessionTerminated":
		return Event{Kind: KindSessionTerminated}, nil
	default:
		if raw.Error != "" {
			return Event{Kind: KindServerError, Message: raw.Error}, nil
		}
		return Event{}, &ProtocolError{Payload: data, Err: fmt.Errorf("unknown message type %q", raw.MessageType)}
	}
}

// terminateMessage asks the backend to flush and close the session.
var terminateMessage = []byte(`{"terminate_session": true}`)

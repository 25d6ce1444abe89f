package hub

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event is an inbound client event after decoding. The set of
// implementations is closed; Hub.Dispatch switches over all of them.
type Event interface {
	Name() string
	isEvent()
}

// DirectedEvent is an Event addressed to exactly one other session.
type DirectedEvent interface {
	Event
	Target() string
}

type ShowConnections struct{}

type RequestPublicKey struct {
	TargetID string
}

type ResponsePublicKey struct {
	TargetID  string
	PublicKey string
}

type SendSecretSessionKey struct {
	TargetID string
	Key      string
}

type SendMessage struct {
	Message ChatMessage
}

func (ShowConnections) Name() string      { return EventShowConnections }
func (RequestPublicKey) Name() string     { return EventRequestPublicKey }
func (ResponsePublicKey) Name() string    { return EventResponsePublicKey }
func (SendSecretSessionKey) Name() string { return EventSendSecretSessionKey }
func (SendMessage) Name() string          { return EventSendMessage }

func (ShowConnections) isEvent()      {}
func (RequestPublicKey) isEvent()     {}
func (ResponsePublicKey) isEvent()    {}
func (SendSecretSessionKey) isEvent() {}
func (SendMessage) isEvent()          {}

func (e RequestPublicKey) Target() string     { return e.TargetID }
func (e ResponsePublicKey) Target() string    { return e.TargetID }
func (e SendSecretSessionKey) Target() string { return e.TargetID }
func (e SendMessage) Target() string          { return e.Message.Receiver }

// Decode turns a raw frame into a typed Event. Directed events with an empty
// target id are rejected with ErrMalformedEnvelope.
func Decode(f Frame) (Event, error) {
	switch f.Event {
	case EventShowConnections:
		return ShowConnections{}, nil

	case EventRequestPublicKey:
		var target string
		if err := decodeData(f, &target); err != nil {
			return nil, err
		}
		return checkTarget(RequestPublicKey{TargetID: strings.TrimSpace(target)})

	case EventResponsePublicKey:
		var msg PublicKeyMessage
		if err := decodeData(f, &msg); err != nil {
			return nil, err
		}
		return checkTarget(ResponsePublicKey{TargetID: strings.TrimSpace(msg.SessionID), PublicKey: msg.PublicKey})

	case EventSendSecretSessionKey:
		var msg SecretSessionKey
		if err := decodeData(f, &msg); err != nil {
			return nil, err
		}
		return checkTarget(SendSecretSessionKey{TargetID: strings.TrimSpace(msg.SessionID), Key: msg.Key})

	case EventSendMessage:
		var msg ChatMessage
		if err := decodeData(f, &msg); err != nil {
			return nil, err
		}
		msg.Receiver = strings.TrimSpace(msg.Receiver)
		return checkTarget(SendMessage{Message: msg})

	case "":
		return nil, fmt.Errorf("frame without event name: %w", ErrMalformedEnvelope)
	default:
		return nil, fmt.Errorf("%q: %w", f.Event, ErrUnknownEvent)
	}
}

func decodeData(f Frame, v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s: missing data: %w", f.Event, ErrMalformedEnvelope)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%s: %v: %w", f.Event, err, ErrMalformedEnvelope)
	}
	return nil
}

func checkTarget(e DirectedEvent) (Event, error) {
	if e.Target() == "" {
		return nil, fmt.Errorf("%s: empty target session id: %w", e.Name(), ErrMalformedEnvelope)
	}
	return e, nil
}

package hub

import "encoding/json"

// Wire event names. Client-facing names are kept verbatim for compatibility
// with existing chat clients.
const (
	EventShowConnections         = "show_connections"
	EventRequestPublicKey        = "request_public_key"
	EventResponsePublicKey       = "response_public_key"
	EventSendSecretSessionKey    = "send_secret_session_key"
	EventReceiveSecretSessionKey = "receive_secret_session_key"
	EventSendMessage             = "send_message"
	EventReceiveMessage          = "receive_message"
	EventAddUser                 = "add_user"
	EventRemoveUser              = "remove_user"
	EventAck                     = "ack"
	EventDeliveryFailed          = "delivery_failed"
	EventError                   = "error"
	EventSession                 = "session"
)

// Frame is the JSON envelope carried by every websocket text message.
// Ack is set by clients that expect a reply to this specific frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *uint64         `json:"ack,omitempty"`
}

type PublicKeyMessage struct {
	SessionID string `json:"sessionId"`
	PublicKey string `json:"publicKey"`
}

type SecretSessionKey struct {
	Key       string `json:"key"`
	SessionID string `json:"sessionId"`
}

type ChatMessage struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Date     string `json:"date"`
	Content  string `json:"content"`
}

// ConnectedUser is one entry of the directory and the payload of add_user.
type ConnectedUser struct {
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
}

type UserLeft struct {
	SessionID string `json:"sessionId"`
}

// DeliveryFailure tells a sender that a directed event could not be delivered.
type DeliveryFailure struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId,omitempty"`
	Reason    string `json:"reason"`
}

type RelayAck struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type ErrorPayload struct {
	Reason string `json:"reason"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

func encodeAck(id uint64, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: EventAck, Data: raw, Ack: &id})
}

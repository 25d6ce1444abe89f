package hub

import "errors"

var (
	// ErrNotFound is returned when a session id is not in the registry.
	ErrNotFound = errors.New("session not found")
	// ErrMalformedEnvelope is returned when a frame is missing a required
	// field or a field cannot be decoded.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrConnClosed        = errors.New("connection closed")
	ErrSendQueueFull     = errors.New("send queue full")
)

// reason maps an error onto the short code sent back to clients and used as
// a metrics label.
func reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "recipient_gone"
	case errors.Is(err, ErrMalformedEnvelope):
		return "malformed_envelope"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrConnClosed), errors.Is(err, ErrSendQueueFull):
		return "send_failed"
	default:
		return "internal"
	}
}

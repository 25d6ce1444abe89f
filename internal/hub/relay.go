package hub

import (
	"fmt"
	"log/slog"
)

// Outcome classifies the result of a single directed relay.
type Outcome int

const (
	Delivered Outcome = iota
	RecipientGone
	Malformed
	SendFailed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case RecipientGone:
		return "recipient_gone"
	case Malformed:
		return "malformed"
	case SendFailed:
		return "send_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// DeliveryResult is returned by Relay instead of dropping failures silently.
type DeliveryResult struct {
	Event   string
	Target  string
	Outcome Outcome
	Err     error
}

// Relay forwards a directed event from senderID to the session named by the
// event's target. The recipient always learns the sender from senderID,
// never from anything the sender put in the payload. Delivery is
// at-most-once: nothing is queued or retried for absent recipients.
func (h *Hub) Relay(senderID string, e DirectedEvent) DeliveryResult {
	res := h.relay(senderID, e)
	h.metrics.relays.WithLabelValues(res.Event, res.Outcome.String()).Inc()

	if res.Err != nil {
		slog.Warn("relay failed",
			"event", res.Event,
			"sender_id", senderID,
			"target_id", res.Target,
			"outcome", res.Outcome.String(),
			"error", res.Err,
		)
	} else {
		slog.Debug("relayed", "event", res.Event, "sender_id", senderID, "target_id", res.Target)
	}
	return res
}

func (h *Hub) relay(senderID string, e DirectedEvent) DeliveryResult {
	res := DeliveryResult{Event: e.Name(), Target: e.Target()}

	if res.Target == "" {
		res.Outcome = Malformed
		res.Err = fmt.Errorf("%s: empty target session id: %w", res.Event, ErrMalformedEnvelope)
		return res
	}

	target, err := h.registry.Get(res.Target)
	if err != nil {
		res.Outcome = RecipientGone
		res.Err = err
		return res
	}

	event, payload, err := outbound(senderID, e)
	if err != nil {
		res.Outcome = Malformed
		res.Err = err
		return res
	}

	frame, err := encodeFrame(event, payload)
	if err != nil {
		res.Outcome = Malformed
		res.Err = fmt.Errorf("%s: %v: %w", res.Event, err, ErrMalformedEnvelope)
		return res
	}

	if err := target.Conn.Send(frame); err != nil {
		res.Outcome = SendFailed
		res.Err = fmt.Errorf("send %s to %q: %w", event, res.Target, err)
		return res
	}

	res.Outcome = Delivered
	return res
}

// outbound builds the event name and payload the recipient receives, with
// senderID substituted as the origin.
func outbound(senderID string, e DirectedEvent) (string, any, error) {
	switch e := e.(type) {
	case RequestPublicKey:
		return EventRequestPublicKey, senderID, nil
	case ResponsePublicKey:
		return EventResponsePublicKey, PublicKeyMessage{SessionID: senderID, PublicKey: e.PublicKey}, nil
	case SendSecretSessionKey:
		return EventReceiveSecretSessionKey, SecretSessionKey{Key: e.Key, SessionID: senderID}, nil
	case SendMessage:
		msg := e.Message
		msg.Sender = senderID
		return EventReceiveMessage, msg, nil
	default:
		return "", nil, fmt.Errorf("%T: %w", e, ErrUnknownEvent)
	}
}

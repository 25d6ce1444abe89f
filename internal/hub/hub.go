package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PresenceJournal records join/leave metadata. It never sees message content.
type PresenceJournal interface {
	RecordJoin(ctx context.Context, sessionID, username string) error
	RecordLeave(ctx context.Context, sessionID, username string) error
}

// SessionInfo is sent to a freshly connected client so it learns the id the
// hub assigned to it.
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	Username  string `json:"username"`
}

type Hub struct {
	registry *Registry
	journal  PresenceJournal
	metrics  *hubMetrics

	mu      sync.Mutex
	closing bool
	live    sync.WaitGroup
}

// NewHub builds a hub whose metrics are registered on reg. journal may be nil.
func NewHub(reg prometheus.Registerer, journal PresenceJournal) *Hub {
	return &Hub{
		registry: NewRegistry(),
		journal:  journal,
		metrics:  newHubMetrics(reg),
	}
}

func (h *Hub) Len() int {
	return h.registry.Len()
}

// Run blocks until ctx is cancelled, closes every live connection and then
// waits until each of them has been disconnected. Connects that arrive after
// cancellation are refused.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	slog.Info("Hub shutting down", "total_clients", h.registry.Len())
	for _, s := range h.registry.List() {
		closeConn(s.Conn)
	}

	h.live.Wait()
	slog.Info("Hub stopped")
}

// Connect registers a new session and announces it to every other session.
// The new client receives its session event before it becomes addressable.
func (h *Hub) Connect(ctx context.Context, id, username string, conn Conn) Session {
	s := NewSession(id, username, conn)

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		slog.Warn("refusing connect during shutdown", "session_id", id, "username", username)
		closeConn(conn)
		return s
	}
	h.live.Add(1)
	h.mu.Unlock()

	h.send(s, EventSession, SessionInfo{SessionID: id, Username: username})
	if h.registry.Put(s) {
		// The replaced session will never be disconnected under this id.
		h.live.Done()
		slog.Warn("session id reused, replacing previous session", "session_id", id)
	}

	// Run may have listed the registry between the closing check and Put.
	h.mu.Lock()
	closing := h.closing
	h.mu.Unlock()
	if closing {
		closeConn(conn)
	}

	h.metrics.sessionTotal.Inc()
	h.metrics.activeSessions.Set(float64(h.registry.Len()))
	slog.Info("Client connected", "session_id", id, "username", username, "total_clients", h.registry.Len())

	h.broadcast(id, EventAddUser, s.User())

	if h.journal != nil {
		if err := h.journal.RecordJoin(ctx, id, username); err != nil {
			slog.Error("failed to journal join", "session_id", id, "error", err)
		}
	}
	return s
}

// Disconnect removes the session and announces its departure. It reports
// whether the session was registered; a second disconnect is a no-op.
func (h *Hub) Disconnect(ctx context.Context, id string) bool {
	s, ok := h.registry.Remove(id)
	if !ok {
		return false
	}
	defer h.live.Done()

	connected := time.Since(s.ConnectedAt)
	h.metrics.activeSessions.Set(float64(h.registry.Len()))
	h.metrics.sessionDuration.Observe(connected.Seconds())
	slog.Info("Client disconnected",
		"session_id", id,
		"username", s.Username,
		"connected_for", connected.Round(time.Millisecond),
		"total_clients", h.registry.Len(),
	)

	h.broadcast(id, EventRemoveUser, UserLeft{SessionID: id})

	if h.journal != nil {
		if err := h.journal.RecordLeave(ctx, id, s.Username); err != nil {
			slog.Error("failed to journal leave", "session_id", id, "error", err)
		}
	}
	return true
}

func closeConn(conn Conn) {
	if c, ok := conn.(interface{ Close() }); ok {
		c.Close()
	}
}

// Directory lists every registered session except selfID.
func (h *Hub) Directory(selfID string) []ConnectedUser {
	sessions := h.registry.List()
	users := make([]ConnectedUser, 0, len(sessions))
	for _, s := range sessions {
		if s.ID == selfID {
			continue
		}
		users = append(users, s.User())
	}
	return users
}

// HandleMessage decodes one raw websocket message from senderID and
// dispatches it.
func (h *Hub) HandleMessage(senderID string, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		h.reject(senderID, Frame{}, fmt.Errorf("%v: %w", err, ErrMalformedEnvelope))
		return
	}
	h.Dispatch(senderID, f)
}

// Dispatch routes a frame from senderID to the handler for its event and
// answers the sender when the frame asked for an ack or delivery failed.
func (h *Hub) Dispatch(senderID string, f Frame) {
	ev, err := Decode(f)
	if err != nil {
		h.reject(senderID, f, err)
		return
	}

	switch e := ev.(type) {
	case ShowConnections:
		h.reply(senderID, f, EventShowConnections, h.Directory(senderID))
	case RequestPublicKey:
		h.report(senderID, f, h.Relay(senderID, e))
	case ResponsePublicKey:
		h.report(senderID, f, h.Relay(senderID, e))
	case SendSecretSessionKey:
		h.report(senderID, f, h.Relay(senderID, e))
	case SendMessage:
		h.report(senderID, f, h.Relay(senderID, e))
	default:
		h.reject(senderID, f, fmt.Errorf("%T: %w", ev, ErrUnknownEvent))
	}
}

func (h *Hub) reject(senderID string, f Frame, err error) {
	code := reason(err)
	h.metrics.frameErrors.WithLabelValues(code).Inc()
	slog.Warn("rejecting frame", "session_id", senderID, "event", f.Event, "error", err)

	h.reply(senderID, f, EventError, ErrorPayload{Reason: code})
}

// report tells the sender how a relay went: as the ack when one was
// requested, otherwise only when delivery failed.
func (h *Hub) report(senderID string, f Frame, res DeliveryResult) {
	if f.Ack != nil {
		h.reply(senderID, f, "", RelayAck{
			Status:    res.Outcome.String(),
			SessionID: res.Target,
			Reason:    reason(res.Err),
		})
		return
	}
	if res.Outcome == Delivered {
		return
	}
	h.reply(senderID, f, EventDeliveryFailed, DeliveryFailure{
		Event:     res.Event,
		SessionID: res.Target,
		Reason:    reason(res.Err),
	})
}

// reply answers the sender of f, as an ack when f carried an ack id and as a
// plain event otherwise.
func (h *Hub) reply(senderID string, f Frame, event string, payload any) {
	sender, err := h.registry.Get(senderID)
	if err != nil {
		slog.Debug("sender gone before reply", "session_id", senderID)
		return
	}

	var frame []byte
	if f.Ack != nil {
		frame, err = encodeAck(*f.Ack, payload)
	} else {
		frame, err = encodeFrame(event, payload)
	}
	if err != nil {
		slog.Error("failed to marshal reply", "session_id", senderID, "error", err)
		return
	}
	if err := sender.Conn.Send(frame); err != nil {
		slog.Warn("failed to reply", "session_id", senderID, "error", err)
	}
}

func (h *Hub) send(s Session, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		slog.Error("failed to marshal event", "event", event, "error", err)
		return
	}
	if err := s.Conn.Send(frame); err != nil {
		slog.Warn("failed to send event", "event", event, "session_id", s.ID, "error", err)
	}
}

// broadcast sends one event to every session except exceptID. Send failures
// are logged and skipped.
func (h *Hub) broadcast(exceptID, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		slog.Error("failed to marshal broadcast", "event", event, "error", err)
		return
	}

	for _, s := range h.registry.List() {
		if s.ID == exceptID {
			continue
		}
		if err := s.Conn.Send(frame); err != nil {
			slog.Warn("broadcast skipped session", "event", event, "session_id", s.ID, "error", err)
			continue
		}
		h.metrics.broadcasts.WithLabelValues(event).Inc()
	}
}

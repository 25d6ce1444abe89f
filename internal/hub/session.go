package hub

import "time"

// Conn is the send side of one live client connection. Send must not block;
// it returns ErrConnClosed or ErrSendQueueFull when the frame cannot be
// queued.
type Conn interface {
	Send(frame []byte) error
}

// Session binds a transport-assigned session id to its connection and the
// username declared at connect time. It is never mutated after creation.
type Session struct {
	ID          string
	Username    string
	Conn        Conn
	ConnectedAt time.Time
}

func NewSession(id, username string, conn Conn) Session {
	return Session{
		ID:          id,
		Username:    username,
		Conn:        conn,
		ConnectedAt: time.Now(),
	}
}

func (s Session) User() ConnectedUser {
	return ConnectedUser{Username: s.Username, SessionID: s.ID}
}

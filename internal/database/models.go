package database

import "time"

const (
	KindJoin  = "join"
	KindLeave = "leave"
)

// PresenceEvent is one join or leave of a session. Only presence metadata is
// stored; message content and key material never reach the database.
type PresenceEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"index;not null" json:"sessionId"`
	Username  string    `gorm:"not null" json:"username"`
	Kind      string    `gorm:"size:8;not null" json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

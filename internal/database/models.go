package database

import "time"

// Setting is a persisted key/value pair, used for generated secrets such as
// the cookie key.
type Setting struct {
	Key       string `gorm:"primaryKey;size:100"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// SessionAuditLog is one audited session event. SessionID holds the masked
// id only; the full id is a bearer token.
type SessionAuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"index;size:32" json:"session_id"`
	EventType  string    `gorm:"index;size:50;not null" json:"event_type"`
	Username   string    `gorm:"index;size:255" json:"username"`
	SourceIP   string    `gorm:"size:45" json:"source_ip"`
	Operation  string    `gorm:"size:50" json:"operation,omitempty"`
	Result     string    `gorm:"size:50" json:"result,omitempty"`
	Details    string    `gorm:"type:text" json:"details,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

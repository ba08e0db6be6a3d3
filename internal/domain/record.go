package domain

import "time"

// CallRecord is the persisted outline of one tab session.
type CallRecord struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TabID     string     `json:"session_id"`
	RoomName  string     `json:"room_name"`
	Role      Role       `json:"role"`
	JoinedAt  time.Time  `json:"joined_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
}

// SummaryRecord is a persisted call summary.
type SummaryRecord struct {
	CallID           string        `json:"call_id"`
	RoomName         string        `json:"room_name"`
	Role             Role          `json:"role"`
	Text             string        `json:"text"`
	Origin           SummaryOrigin `json:"origin"`
	TranscriptLength int           `json:"transcript_length"`
	CreatedAt        time.Time     `json:"created_at"`
}

package domain

import (
	"strings"
	"time"
)

// Role is the participant label a tab joins a room with.
type Role string

const (
	RoleCaller         Role = "caller"
	RoleInitialAgent   Role = "agent_a"
	RoleReceivingAgent Role = "agent_b"
)

// ParseRole maps a wire label onto a known role.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.TrimSpace(value)) {
	case RoleCaller:
		return RoleCaller, true
	case RoleInitialAgent:
		return RoleInitialAgent, true
	case RoleReceivingAgent:
		return RoleReceivingAgent, true
	default:
		return "", false
	}
}

// CanTransfer reports whether the role may drive the warm-transfer workflow.
func (r Role) CanTransfer() bool {
	return r == RoleInitialAgent
}

// ConnectionState models the transport connection of a session.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
)

// TransferState models the warm-transfer workflow of the initial agent.
type TransferState string

const (
	TransferIdle            TransferState = "idle"
	TransferSummarizing     TransferState = "summarizing"
	TransferAwaitingHandoff TransferState = "awaiting-handoff"
	TransferCompleted       TransferState = "completed"
)

// TrackKind identifies a media track type.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// ParticipantRecord is the roster view of one remote participant.
type ParticipantRecord struct {
	Identity     string `json:"identity"`
	Kind         string `json:"kind"`
	Muted        bool   `json:"muted"`
	VideoEnabled bool   `json:"video_enabled"`
}

// ParticipantKind derives the tile label from a remote identity prefix.
func ParticipantKind(identity string) string {
	switch {
	case strings.HasPrefix(identity, string(RoleInitialAgent)), strings.HasPrefix(identity, "agent-a"):
		return string(RoleInitialAgent)
	case strings.HasPrefix(identity, string(RoleReceivingAgent)), strings.HasPrefix(identity, "agent-b"):
		return string(RoleReceivingAgent)
	case strings.HasPrefix(identity, string(RoleCaller)):
		return string(RoleCaller)
	default:
		return "unknown"
	}
}

// TranscriptEntry is one utterance captured during a session.
type TranscriptEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	SpeakerRole string    `json:"speaker_role"`
	Text        string    `json:"text"`
}

// Line renders the entry in the "role: utterance" form the summarizer expects.
func (e TranscriptEntry) Line() string {
	return e.SpeakerRole + ": " + e.Text
}

// SummaryOrigin tells whether a summary came from the summarizer or was synthesized locally.
type SummaryOrigin string

const (
	SummaryGenerated SummaryOrigin = "generated"
	SummaryFallback  SummaryOrigin = "fallback"
)

// CallSummary is produced once per transfer attempt.
type CallSummary struct {
	Text   string        `json:"text"`
	Origin SummaryOrigin `json:"origin"`
}

// Snapshot is the UI-facing state of a tab session.
type Snapshot struct {
	SessionID         string              `json:"session_id,omitempty"`
	RoomName          string              `json:"room_name"`
	Role              Role                `json:"role"`
	ConnectionState   ConnectionState     `json:"connection_state"`
	Participants      []ParticipantRecord `json:"participants"`
	PeopleCount       int                 `json:"people_count"`
	RoomCapacity      int                 `json:"room_capacity,omitempty"`
	LocalMuted        bool                `json:"local_muted"`
	LocalVideoEnabled bool                `json:"local_video_enabled"`
	TransferState     TransferState       `json:"transfer_state"`
	TransferStatus    string              `json:"transfer_status,omitempty"`
	Summary           *CallSummary        `json:"summary,omitempty"`
	TranscriptLength  int                 `json:"transcript_length"`
}

// ErrorCode identifies errors pushed to the tab.
type ErrorCode string

const (
	ErrorCodeJoin         ErrorCode = "join"
	ErrorCodeTransfer     ErrorCode = "transfer"
	ErrorCodePermission   ErrorCode = "permission"
	ErrorCodeMedia        ErrorCode = "media"
	ErrorCodeDisconnected ErrorCode = "disconnected"
)

// Package ports declares the collaborators the call session controller talks to.
package ports

import (
	"context"
	"time"

	"github.com/ashureev/warmtransfer/internal/domain"
)

// RoomGrant is the room/token service's answer to a join request.
type RoomGrant struct {
	RoomName        string
	Token           string
	URL             string
	MaxParticipants int
}

// Backend is the warm-transfer backend: room/token, summarization and leave notification.
type Backend interface {
	CreateRoom(ctx context.Context, roomName string, role domain.Role) (RoomGrant, error)
	GenerateSummary(ctx context.Context, roomName string, history []string) (string, error)
	NotifyLeave(ctx context.Context, roomName string, role domain.Role) error
}

// TransportOptions configures a new transport client.
type TransportOptions struct {
	AdaptiveStream bool
}

// ParticipantState is the transport's view of one remote participant.
type ParticipantState struct {
	Identity     string
	AudioMuted   bool
	VideoEnabled bool
}

// MediaSink is an attached consumer of a subscribed remote track.
type MediaSink interface {
	Close() error
}

// TransportHandlers receive transport events in emission order.
type TransportHandlers struct {
	OnConnected               func()
	OnDisconnected            func(reason string)
	OnParticipantConnected    func(p ParticipantState)
	OnParticipantDisconnected func(identity string)
	OnTrackSubscribed         func(identity string, kind domain.TrackKind, sink MediaSink)
	OnTrackUnsubscribed       func(identity string, kind domain.TrackKind)
	OnTrackMuted              func(identity string, kind domain.TrackKind, muted bool)
}

// Transport is a connection to one real-time room.
type Transport interface {
	// Connect joins the room and returns once OnConnected has been delivered.
	Connect(ctx context.Context, url, token string, handlers TransportHandlers) error
	Disconnect()
	RemoteParticipants() []ParticipantState
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	SetCameraEnabled(ctx context.Context, enabled bool) error
}

// TransportFactory builds transport clients.
type TransportFactory interface {
	NewTransport(opts TransportOptions) Transport
}

// Recorder persists call activity. All writes are best-effort from the controller's view.
type Recorder interface {
	StartCall(ctx context.Context, rec domain.CallRecord) error
	AppendTranscript(ctx context.Context, callID string, seq int, entry domain.TranscriptEntry) error
	SaveSummary(ctx context.Context, rec domain.SummaryRecord) error
	EndCall(ctx context.Context, callID string, endedAt time.Time, reason string) error
}

// EventSink pushes controller state to the tab.
type EventSink interface {
	SessionChanged(snapshot domain.Snapshot)
	Navigate(path string)
	SessionError(code domain.ErrorCode, detail string)
}

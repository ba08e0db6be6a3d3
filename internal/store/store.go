// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/warmtransfer/internal/domain"
	"github.com/ashureev/warmtransfer/internal/ports"
)

// Repository defines the interface for persisting users and call activity.
type Repository interface {
	ports.Recorder

	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetCall retrieves a call record by ID.
	GetCall(ctx context.Context, callID string) (*domain.CallRecord, error)

	// ListTranscript returns a call's transcript in arrival order.
	ListTranscript(ctx context.Context, callID string) ([]domain.TranscriptEntry, error)

	// ListRoomSummaries returns the newest summaries recorded for a room.
	ListRoomSummaries(ctx context.Context, roomName string, limit int) ([]domain.SummaryRecord, error)

	// CleanupExpiredCalls removes calls, with their transcripts and summaries, older than retention.
	CleanupExpiredCalls(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

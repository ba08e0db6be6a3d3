package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/warmtransfer/internal/domain"
	"github.com/ashureev/warmtransfer/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	defaultSummaryLimit = 20
	writeAttempts       = 3
	writeRetryDelay     = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes multi-statement writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while the recorder writes; immediate transactions
	// take the write lock up front so busy_timeout applies to them.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS call_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		tab_id TEXT NOT NULL,
		room_name TEXT NOT NULL,
		role TEXT NOT NULL,
		joined_at INTEGER NOT NULL,
		ended_at INTEGER,
		end_reason TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_call_sessions_room ON call_sessions(room_name);
	CREATE INDEX IF NOT EXISTS idx_call_sessions_joined ON call_sessions(joined_at);

	CREATE TABLE IF NOT EXISTS transcript_entries (
		call_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		speaker_role TEXT NOT NULL,
		text TEXT NOT NULL,
		spoken_at INTEGER NOT NULL,
		PRIMARY KEY (call_id, seq)
	);

	CREATE TABLE IF NOT EXISTS call_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		call_id TEXT NOT NULL,
		room_name TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		origin TEXT NOT NULL,
		transcript_length INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_call_summaries_room ON call_summaries(room_name, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// exec runs a single write statement, retrying sqlite lock conflicts.
func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := shared.RetryOnConflict(ctx, writeAttempts, writeRetryDelay, func() error {
		var err error
		result, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return result, err
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.exec(ctx, query,
		user.UserID, user.Username, user.LastSeenAt.Unix(),
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.exec(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// StartCall records a joined call session.
func (s *SQLiteStore) StartCall(ctx context.Context, rec domain.CallRecord) error {
	query := `
	INSERT INTO call_sessions (id, user_id, tab_id, room_name, role, joined_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, query,
		rec.ID, rec.UserID, rec.TabID, rec.RoomName, string(rec.Role), rec.JoinedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert call session: %w", err)
	}
	return nil
}

// AppendTranscript stores one transcript entry. seq is the entry's 1-based position.
func (s *SQLiteStore) AppendTranscript(ctx context.Context, callID string, seq int, entry domain.TranscriptEntry) error {
	query := `
	INSERT INTO transcript_entries (call_id, seq, speaker_role, text, spoken_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(call_id, seq) DO NOTHING`

	_, err := s.exec(ctx, query, callID, seq, entry.SpeakerRole, entry.Text, entry.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert transcript entry: %w", err)
	}
	return nil
}

// SaveSummary stores a transfer summary.
func (s *SQLiteStore) SaveSummary(ctx context.Context, rec domain.SummaryRecord) error {
	query := `
	INSERT INTO call_summaries (call_id, room_name, role, text, origin, transcript_length, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, query,
		rec.CallID, rec.RoomName, string(rec.Role), rec.Text, string(rec.Origin),
		rec.TranscriptLength, rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert call summary: %w", err)
	}
	return nil
}

// EndCall stamps a call as ended. A call that already ended keeps its first outcome.
func (s *SQLiteStore) EndCall(ctx context.Context, callID string, endedAt time.Time, reason string) error {
	query := `UPDATE call_sessions SET ended_at = ?, end_reason = ? WHERE id = ? AND ended_at IS NULL`
	result, err := s.exec(ctx, query, endedAt.Unix(), reason, callID)
	if err != nil {
		return fmt.Errorf("end call session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Debug("EndCall affected 0 rows", "call_id", callID)
	}
	return nil
}

// GetCall retrieves a call record by ID.
func (s *SQLiteStore) GetCall(ctx context.Context, callID string) (*domain.CallRecord, error) {
	query := `
		SELECT id, user_id, tab_id, room_name, role, joined_at, ended_at, end_reason
		FROM call_sessions WHERE id = ?`

	var rec domain.CallRecord
	var role string
	var joinedAt int64
	var endedAt sql.NullInt64
	var endReason sql.NullString

	err := s.db.QueryRowContext(ctx, query, callID).Scan(
		&rec.ID, &rec.UserID, &rec.TabID, &rec.RoomName, &role, &joinedAt, &endedAt, &endReason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan call session: %w", err)
	}

	rec.Role = domain.Role(role)
	rec.JoinedAt = time.Unix(joinedAt, 0)
	if endedAt.Valid {
		ts := time.Unix(endedAt.Int64, 0)
		rec.EndedAt = &ts
	}
	rec.EndReason = endReason.String
	return &rec, nil
}

// ListTranscript returns a call's transcript in arrival order.
func (s *SQLiteStore) ListTranscript(ctx context.Context, callID string) ([]domain.TranscriptEntry, error) {
	query := `
		SELECT speaker_role, text, spoken_at
		FROM transcript_entries WHERE call_id = ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close transcript rows", "error", closeErr)
		}
	}()

	var entries []domain.TranscriptEntry
	for rows.Next() {
		var entry domain.TranscriptEntry
		var spokenAt int64
		if err := rows.Scan(&entry.SpeakerRole, &entry.Text, &spokenAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		entry.Timestamp = time.UnixMilli(spokenAt).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}
	return entries, nil
}

// ListRoomSummaries returns the newest summaries recorded for a room, newest first.
func (s *SQLiteStore) ListRoomSummaries(ctx context.Context, roomName string, limit int) ([]domain.SummaryRecord, error) {
	if limit <= 0 {
		limit = defaultSummaryLimit
	}
	query := `
		SELECT call_id, room_name, role, text, origin, transcript_length, created_at
		FROM call_summaries WHERE room_name = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, roomName, limit)
	if err != nil {
		return nil, fmt.Errorf("query room summaries: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close room summary rows", "error", closeErr)
		}
	}()

	summaries := []domain.SummaryRecord{}
	for rows.Next() {
		var rec domain.SummaryRecord
		var role, origin string
		var createdAt int64
		if err := rows.Scan(&rec.CallID, &rec.RoomName, &role, &rec.Text, &origin, &rec.TranscriptLength, &createdAt); err != nil {
			return nil, fmt.Errorf("scan room summary row: %w", err)
		}
		rec.Role = domain.Role(role)
		rec.Origin = domain.SummaryOrigin(origin)
		rec.CreatedAt = time.Unix(createdAt, 0)
		summaries = append(summaries, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room summaries: %w", err)
	}
	return summaries, nil
}

// CleanupExpiredCalls removes calls that ended, or started without ending, before the
// retention window, along with their transcripts and summaries.
func (s *SQLiteStore) CleanupExpiredCalls(ctx context.Context, retention time.Duration) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	threshold := time.Now().Add(-retention).Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	expired := `SELECT id FROM call_sessions WHERE COALESCE(ended_at, joined_at) < ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_entries WHERE call_id IN (`+expired+`)`, threshold); err != nil {
		return 0, fmt.Errorf("cleanup transcripts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM call_summaries WHERE call_id IN (`+expired+`)`, threshold); err != nil {
		return 0, fmt.Errorf("cleanup summaries: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM call_sessions WHERE COALESCE(ended_at, joined_at) < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup call sessions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cleanup: %w", err)
	}
	return deleted, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

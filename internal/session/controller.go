// Package session implements the per-tab call session controller: connection
// lifecycle, remote roster, local media flags and the warm-transfer workflow.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/warmtransfer/internal/domain"
	"github.com/ashureev/warmtransfer/internal/ports"
)

const recordTimeout = 5 * time.Second

// Owner identifies the tab a controller belongs to.
type Owner struct {
	UserID string
	TabID  string
}

// Config controls controller behavior.
type Config struct {
	Owner                 Owner
	AdaptiveStream        bool
	PublishLocalMedia     bool
	ResyncInterval        time.Duration
	RedirectDelay         time.Duration
	RedirectPath          string
	NotifyTimeout         time.Duration
	PlaceholderTranscript []string
}

// Controller owns one tab's call session. At most one session is current at a time.
type Controller struct {
	backend    ports.Backend
	transports ports.TransportFactory
	recorder   ports.Recorder
	events     ports.EventSink
	cfg        Config

	mediaMu sync.Mutex // serializes local media toggles

	mu      sync.Mutex
	current *callSession
}

type callSession struct {
	id        string
	roomName  string
	role      domain.Role
	joinedAt  time.Time
	transport ports.Transport
	state     domain.ConnectionState
	ended     bool

	roster     *roster
	sinks      *sinkTable
	transcript []domain.TranscriptEntry

	transfer       domain.TransferState
	transferStatus string
	summary        *domain.CallSummary

	localMuted        bool
	localVideoEnabled bool
	roomCapacity      int

	stopResync context.CancelFunc
}

// NewController builds a controller. recorder may be nil.
func NewController(
	backend ports.Backend,
	transports ports.TransportFactory,
	recorder ports.Recorder,
	events ports.EventSink,
	cfg Config,
) *Controller {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if cfg.RedirectPath == "" {
		cfg.RedirectPath = "/"
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	if len(cfg.PlaceholderTranscript) == 0 {
		cfg.PlaceholderTranscript = DefaultPlaceholderTranscript
	}
	return &Controller{
		backend:    backend,
		transports: transports,
		recorder:   recorder,
		events:     events,
		cfg:        cfg,
	}
}

func newCallSession(roomName string, role domain.Role) *callSession {
	return &callSession{
		id:                uuid.NewString(),
		roomName:          roomName,
		role:              role,
		joinedAt:          time.Now().UTC(),
		state:             domain.ConnectionDisconnected,
		roster:            newRoster(),
		sinks:             newSinkTable(),
		transfer:          domain.TransferIdle,
		localVideoEnabled: true,
	}
}

// JoinRoom fetches a room grant, connects the transport and seeds the roster.
// A session already current in this tab is torn down first.
func (c *Controller) JoinRoom(ctx context.Context, roomName string, role domain.Role) (domain.Snapshot, error) {
	roomName = strings.TrimSpace(roomName)
	if roomName == "" {
		return domain.Snapshot{}, ErrEmptyRoomName
	}
	if _, ok := domain.ParseRole(string(role)); !ok {
		return domain.Snapshot{}, ErrInvalidRole
	}

	sess := newCallSession(roomName, role)

	c.mu.Lock()
	previous := c.current
	c.current = sess
	sess.state = domain.ConnectionConnecting
	snap := c.snapshotLocked(sess)
	c.mu.Unlock()

	if previous != nil {
		slog.Info("Replacing call session", "room_name", previous.roomName, "session_id", previous.id)
		c.endSession(previous, "replaced")
	}
	c.events.SessionChanged(snap)

	slog.Info("Joining room", "room_name", roomName, "role", role, "session_id", sess.id)

	grant, err := c.backend.CreateRoom(ctx, roomName, role)
	if !c.isLive(sess) {
		return domain.Snapshot{}, ErrStaleSession
	}
	if err != nil {
		return c.failJoin(sess, "could not obtain room access", err)
	}

	if grant.RoomName != "" && grant.RoomName != roomName {
		slog.Warn("Room grant names a different room", "room_name", roomName, "granted_room", grant.RoomName)
	}

	transport := c.transports.NewTransport(ports.TransportOptions{AdaptiveStream: c.cfg.AdaptiveStream})
	c.mu.Lock()
	sess.transport = transport
	sess.roomCapacity = grant.MaxParticipants
	c.mu.Unlock()

	if err := transport.Connect(ctx, grant.URL, grant.Token, c.handlersFor(sess)); err != nil {
		transport.Disconnect()
		if !c.isLive(sess) {
			return domain.Snapshot{}, ErrStaleSession
		}
		return c.failJoin(sess, "could not connect to room", err)
	}
	if !c.isLive(sess) {
		transport.Disconnect()
		return domain.Snapshot{}, ErrStaleSession
	}

	if c.cfg.PublishLocalMedia {
		if err := acquireLocalMedia(ctx, transport); err != nil {
			transport.Disconnect()
			if !c.isLive(sess) {
				return domain.Snapshot{}, ErrStaleSession
			}
			return c.failJoin(sess, "camera or microphone unavailable", err)
		}
	}

	c.mu.Lock()
	connecting := c.isLiveLocked(sess) && sess.state == domain.ConnectionConnecting
	c.mu.Unlock()
	if connecting {
		c.onConnected(sess)
	}

	resyncCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if !c.isLiveLocked(sess) {
		c.mu.Unlock()
		cancel()
		transport.Disconnect()
		return domain.Snapshot{}, ErrStaleSession
	}
	sess.stopResync = cancel
	snap = c.snapshotLocked(sess)
	c.mu.Unlock()

	if c.cfg.ResyncInterval > 0 {
		go c.resyncLoop(resyncCtx, sess, transport)
	}

	c.record("start_call", func(ctx context.Context) error {
		return c.recorder.StartCall(ctx, domain.CallRecord{
			ID:       sess.id,
			UserID:   c.cfg.Owner.UserID,
			TabID:    c.cfg.Owner.TabID,
			RoomName: sess.roomName,
			Role:     sess.role,
			JoinedAt: sess.joinedAt,
		})
	})

	slog.Info("Joined room", "room_name", roomName, "role", role, "participants", len(snap.Participants))
	return snap, nil
}

func acquireLocalMedia(ctx context.Context, transport ports.Transport) error {
	if err := transport.SetMicrophoneEnabled(ctx, true); err != nil {
		return err
	}
	return transport.SetCameraEnabled(ctx, true)
}

func (c *Controller) failJoin(sess *callSession, cause string, err error) (domain.Snapshot, error) {
	initErr := &SessionInitError{Cause: cause, Err: err}

	c.mu.Lock()
	if c.current == sess {
		c.current = nil
	}
	sess.ended = true
	sess.state = domain.ConnectionDisconnected
	sess.roster.clear()
	sess.sinks.closeAll()
	snap := c.snapshotLocked(sess)
	c.mu.Unlock()

	slog.Error("Failed to join room", "room_name", sess.roomName, "role", sess.role, "error", initErr)
	c.events.SessionError(domain.ErrorCodeJoin, initErr.Error())
	c.events.SessionChanged(snap)
	return snap, initErr
}

// LeaveCall disconnects, notifies the backend and navigates away. Available to every role.
func (c *Controller) LeaveCall(ctx context.Context) (domain.Snapshot, error) {
	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()
	if sess == nil {
		return domain.Snapshot{}, ErrNoActiveSession
	}

	if c.endSession(sess, "left") {
		c.notifyLeave(ctx, sess)
	}

	c.mu.Lock()
	snap := c.snapshotLocked(sess)
	c.mu.Unlock()

	slog.Info("Left call", "room_name", sess.roomName, "role", sess.role)
	c.events.SessionChanged(snap)
	c.scheduleNavigate(sess, 0)
	return snap, nil
}

// Close tears down the current session without notifying the backend, as when the tab goes away.
func (c *Controller) Close() {
	c.mu.Lock()
	sess := c.current
	c.current = nil
	c.mu.Unlock()
	if sess != nil {
		c.endSession(sess, "closed")
	}
}

// Snapshot returns the UI state of the current session.
func (c *Controller) Snapshot() (domain.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.Snapshot{}, ErrNoActiveSession
	}
	return c.snapshotLocked(c.current), nil
}

// AppendTranscript records an utterance for the next transfer summary.
// An empty speaker defaults to the session's own role.
func (c *Controller) AppendTranscript(ctx context.Context, speaker, text string) (domain.Snapshot, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Snapshot{}, ErrEmptyUtterance
	}

	c.mu.Lock()
	sess := c.current
	if sess == nil || sess.ended {
		c.mu.Unlock()
		return domain.Snapshot{}, ErrNoActiveSession
	}
	speaker = strings.TrimSpace(speaker)
	if speaker == "" {
		speaker = string(sess.role)
	}
	entry := domain.TranscriptEntry{Timestamp: time.Now().UTC(), SpeakerRole: speaker, Text: text}
	sess.transcript = append(sess.transcript, entry)
	seq := len(sess.transcript)
	snap := c.snapshotLocked(sess)
	c.mu.Unlock()

	c.record("append_transcript", func(rctx context.Context) error {
		return c.recorder.AppendTranscript(rctx, sess.id, seq, entry)
	})
	c.events.SessionChanged(snap)
	return snap, nil
}

// endSession marks sess ended and releases its transport, roster, sinks and resync loop.
// It reports whether this call performed the teardown.
func (c *Controller) endSession(sess *callSession, reason string) bool {
	c.mu.Lock()
	if sess.ended {
		c.mu.Unlock()
		return false
	}
	sess.ended = true
	sess.state = domain.ConnectionDisconnected
	sess.roster.clear()
	sess.sinks.closeAll()
	if sess.stopResync != nil {
		sess.stopResync()
	}
	transport := sess.transport
	c.mu.Unlock()

	if transport != nil {
		transport.Disconnect()
	}

	c.record("end_call", func(ctx context.Context) error {
		return c.recorder.EndCall(ctx, sess.id, time.Now().UTC(), reason)
	})
	return true
}

func (c *Controller) notifyLeave(ctx context.Context, sess *callSession) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.NotifyTimeout)
	defer cancel()
	if err := c.backend.NotifyLeave(nctx, sess.roomName, sess.role); err != nil {
		slog.Warn("Leave notification failed", "error", &NotificationError{RoomName: sess.roomName, Err: err})
	}
}

// scheduleNavigate redirects the tab after delay, unless another session became current meanwhile.
func (c *Controller) scheduleNavigate(sess *callSession, delay time.Duration) {
	navigate := func() {
		c.mu.Lock()
		if c.current != sess {
			c.mu.Unlock()
			return
		}
		c.current = nil
		c.mu.Unlock()
		c.events.Navigate(c.cfg.RedirectPath)
	}
	if delay <= 0 {
		navigate()
		return
	}
	time.AfterFunc(delay, navigate)
}

func (c *Controller) isLive(sess *callSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLiveLocked(sess)
}

func (c *Controller) isLiveLocked(sess *callSession) bool {
	return c.current == sess && !sess.ended
}

// liveSession returns the current session if it has not ended.
func (c *Controller) liveSession() (*callSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.ended {
		return nil, ErrNoActiveSession
	}
	return c.current, nil
}

func (c *Controller) snapshotLocked(sess *callSession) domain.Snapshot {
	participants := sess.roster.list()
	snap := domain.Snapshot{
		SessionID:         sess.id,
		RoomName:          sess.roomName,
		Role:              sess.role,
		ConnectionState:   sess.state,
		Participants:      participants,
		PeopleCount:       len(participants) + 1,
		RoomCapacity:      sess.roomCapacity,
		LocalMuted:        sess.localMuted,
		LocalVideoEnabled: sess.localVideoEnabled,
		TransferState:     sess.transfer,
		TransferStatus:    sess.transferStatus,
		TranscriptLength:  len(sess.transcript),
	}
	if sess.summary != nil {
		summary := *sess.summary
		snap.Summary = &summary
	}
	return snap
}

func (c *Controller) record(op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.Warn("Failed to record call activity", "op", op, "error", err)
	}
}

type noopRecorder struct{}

func (noopRecorder) StartCall(context.Context, domain.CallRecord) error { return nil }
func (noopRecorder) AppendTranscript(context.Context, string, int, domain.TranscriptEntry) error {
	return nil
}
func (noopRecorder) SaveSummary(context.Context, domain.SummaryRecord) error  { return nil }
func (noopRecorder) EndCall(context.Context, string, time.Time, string) error { return nil }

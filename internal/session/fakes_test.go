package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ashureev/warmtransfer/internal/domain"
	"github.com/ashureev/warmtransfer/internal/ports"
)

type fakeBackend struct {
	mu sync.Mutex

	createErr  error
	createGate chan struct{}
	creates    int
	capacity   int

	summary     string
	summaryErr  error
	summaryGate chan struct{}
	histories   [][]string
	leaveErr    error
	leaves      []domain.Role
	leaveRooms  []string
}

func (b *fakeBackend) CreateRoom(ctx context.Context, roomName string, role domain.Role) (ports.RoomGrant, error) {
	b.mu.Lock()
	b.creates++
	gate := b.createGate
	err := b.createErr
	capacity := b.capacity
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return ports.RoomGrant{}, err
	}
	return ports.RoomGrant{RoomName: roomName, Token: "token-" + string(role), URL: "wss://rtc.test", MaxParticipants: capacity}, nil
}

func (b *fakeBackend) GenerateSummary(ctx context.Context, roomName string, history []string) (string, error) {
	b.mu.Lock()
	b.histories = append(b.histories, history)
	gate := b.summaryGate
	summary, err := b.summary, b.summaryErr
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return summary, err
}

func (b *fakeBackend) NotifyLeave(ctx context.Context, roomName string, role domain.Role) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaves = append(b.leaves, role)
	b.leaveRooms = append(b.leaveRooms, roomName)
	return b.leaveErr
}

func (b *fakeBackend) createCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creates
}

func (b *fakeBackend) leaveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.leaves)
}

type fakeTransport struct {
	mu sync.Mutex

	opts       ports.TransportOptions
	handlers   ports.TransportHandlers
	remote     []ports.ParticipantState
	connectErr error
	micErr     error
	camErr     error

	url, token  string
	micCalls    []bool
	camCalls    []bool
	disconnects int
}

func (t *fakeTransport) Connect(ctx context.Context, url, token string, handlers ports.TransportHandlers) error {
	t.mu.Lock()
	t.url, t.token = url, token
	t.handlers = handlers
	err := t.connectErr
	t.mu.Unlock()

	if err != nil {
		return err
	}
	handlers.OnConnected()
	return nil
}

func (t *fakeTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
}

func (t *fakeTransport) RemoteParticipants() []ports.ParticipantState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ports.ParticipantState, len(t.remote))
	copy(out, t.remote)
	return out
}

func (t *fakeTransport) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.micCalls = append(t.micCalls, enabled)
	return t.micErr
}

func (t *fakeTransport) SetCameraEnabled(ctx context.Context, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.camCalls = append(t.camCalls, enabled)
	return t.camErr
}

func (t *fakeTransport) setRemote(states ...ports.ParticipantState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote = states
}

func (t *fakeTransport) getHandlers() ports.TransportHandlers {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers
}

func (t *fakeTransport) disconnectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnects
}

type fakeFactory struct {
	mu         sync.Mutex
	next       []*fakeTransport
	transports []*fakeTransport
}

func (f *fakeFactory) NewTransport(opts ports.TransportOptions) ports.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	var t *fakeTransport
	if len(f.next) > 0 {
		t, f.next = f.next[0], f.next[1:]
	} else {
		t = &fakeTransport{}
	}
	t.opts = opts
	f.transports = append(f.transports, t)
	return t
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

type fakeRecorder struct {
	mu        sync.Mutex
	started   []domain.CallRecord
	entries   []domain.TranscriptEntry
	summaries []domain.SummaryRecord
	ended     map[string]string
	err       error
}

func (r *fakeRecorder) StartCall(ctx context.Context, rec domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, rec)
	return r.err
}

func (r *fakeRecorder) AppendTranscript(ctx context.Context, callID string, seq int, entry domain.TranscriptEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return r.err
}

func (r *fakeRecorder) SaveSummary(ctx context.Context, rec domain.SummaryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, rec)
	return r.err
}

func (r *fakeRecorder) EndCall(ctx context.Context, callID string, endedAt time.Time, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended == nil {
		r.ended = make(map[string]string)
	}
	r.ended[callID] = reason
	return r.err
}

type sessionError struct {
	code   domain.ErrorCode
	detail string
}

type fakeEvents struct {
	mu        sync.Mutex
	snapshots []domain.Snapshot
	navigated []string
	errs      []sessionError
}

func (e *fakeEvents) SessionChanged(snapshot domain.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshots = append(e.snapshots, snapshot)
}

func (e *fakeEvents) Navigate(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.navigated = append(e.navigated, path)
}

func (e *fakeEvents) SessionError(code domain.ErrorCode, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, sessionError{code: code, detail: detail})
}

func (e *fakeEvents) navigations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.navigated...)
}

func (e *fakeEvents) errors() []sessionError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sessionError(nil), e.errs...)
}

func (e *fakeEvents) states() []domain.ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.ConnectionState, 0, len(e.snapshots))
	for _, s := range e.snapshots {
		out = append(out, s.ConnectionState)
	}
	return out
}

type fakeSink struct {
	mu     sync.Mutex
	closed int
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var errBoom = errors.New("boom")

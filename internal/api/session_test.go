package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/warmtransfer/internal/domain"
	"github.com/ashureev/warmtransfer/internal/identity"
	"github.com/ashureev/warmtransfer/internal/ports"
	"github.com/ashureev/warmtransfer/internal/session"
	"github.com/ashureev/warmtransfer/internal/store"
)

const testUserID = "anon_0123456789abcdef0123456789abcdef"

type stubRepo struct {
	store.Repository
	summaries   []domain.SummaryRecord
	calls       map[string]*domain.CallRecord
	transcripts map[string][]domain.TranscriptEntry
	pingErr     error
}

func (r *stubRepo) GetCall(ctx context.Context, callID string) (*domain.CallRecord, error) {
	return r.calls[callID], nil
}

func (r *stubRepo) ListTranscript(ctx context.Context, callID string) ([]domain.TranscriptEntry, error) {
	return r.transcripts[callID], nil
}

func (r *stubRepo) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return &domain.User{UserID: userID, LastSeenAt: time.Now()}, nil
}

func (r *stubRepo) ListRoomSummaries(ctx context.Context, roomName string, limit int) ([]domain.SummaryRecord, error) {
	var out []domain.SummaryRecord
	for _, s := range r.summaries {
		if s.RoomName == roomName {
			out = append(out, s)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *stubRepo) Ping(ctx context.Context) error { return r.pingErr }

type stubBackend struct {
	createErr error
}

func (b *stubBackend) CreateRoom(ctx context.Context, roomName string, role domain.Role) (ports.RoomGrant, error) {
	if b.createErr != nil {
		return ports.RoomGrant{}, b.createErr
	}
	return ports.RoomGrant{RoomName: roomName, Token: "t", URL: "wss://rtc.test"}, nil
}

func (b *stubBackend) GenerateSummary(ctx context.Context, roomName string, history []string) (string, error) {
	return "Caller needs a refund.", nil
}

func (b *stubBackend) NotifyLeave(ctx context.Context, roomName string, role domain.Role) error {
	return nil
}

type stubTransport struct{}

func (stubTransport) Connect(ctx context.Context, url, token string, h ports.TransportHandlers) error {
	h.OnConnected()
	return nil
}
func (stubTransport) Disconnect()                                         {}
func (stubTransport) RemoteParticipants() []ports.ParticipantState        { return nil }
func (stubTransport) SetMicrophoneEnabled(context.Context, bool) error    { return nil }
func (stubTransport) SetCameraEnabled(context.Context, bool) error        { return nil }
func (stubTransport) NewTransport(ports.TransportOptions) ports.Transport { return stubTransport{} }

type discardEvents struct{}

func (discardEvents) SessionChanged(domain.Snapshot)        {}
func (discardEvents) Navigate(string)                       {}
func (discardEvents) SessionError(domain.ErrorCode, string) {}

type apiFixture struct {
	router  http.Handler
	backend *stubBackend
	repo    *stubRepo
}

func newAPIFixture() *apiFixture {
	f := &apiFixture{backend: &stubBackend{}, repo: &stubRepo{}}
	registry := session.NewRegistry(func(owner session.Owner) *session.Controller {
		return session.NewController(f.backend, stubTransport{}, nil, discardEvents{}, session.Config{Owner: owner})
	})

	r := chi.NewRouter()
	r.Use(identity.Middleware(f.repo, true))
	NewSessionHandler(NewHandler(f.repo, registry), time.Second).RegisterRoutes(r)
	NewHealthHandler(f.repo, time.Second).RegisterHealth(r)
	f.router = r
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, tab string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.AddCookie(&http.Cookie{Name: identity.DeviceCookieName, Value: testUserID})
	if tab != "" {
		req.Header.Set(identity.TabHeaderName, tab)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) domain.Snapshot {
	t.Helper()
	var snap domain.Snapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	return snap
}

func TestTransferFlow(t *testing.T) {
	f := newAPIFixture()

	w := f.do(t, http.MethodPost, "/api/session/join", "tab-a", joinRequest{RoomName: "support", ParticipantType: "agent_a"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snap := decodeSnapshot(t, w)
	assert.Equal(t, domain.ConnectionConnected, snap.ConnectionState)
	assert.Equal(t, domain.RoleInitialAgent, snap.Role)

	w = f.do(t, http.MethodPost, "/api/session/transfer/complete", "tab-a", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/session/transcript", "tab-a", transcriptRequest{Speaker: "caller", Text: "I was charged twice"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeSnapshot(t, w).TranscriptLength)

	w = f.do(t, http.MethodPost, "/api/session/transfer", "tab-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap = decodeSnapshot(t, w)
	assert.Equal(t, domain.TransferAwaitingHandoff, snap.TransferState)
	require.NotNil(t, snap.Summary)
	assert.Equal(t, "Caller needs a refund.", snap.Summary.Text)

	w = f.do(t, http.MethodPost, "/api/session/transfer/complete", "tab-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.TransferCompleted, decodeSnapshot(t, w).TransferState)
}

func TestTransferForbiddenForCaller(t *testing.T) {
	f := newAPIFixture()

	w := f.do(t, http.MethodPost, "/api/session/join", "tab-c", joinRequest{RoomName: "support", ParticipantType: "caller"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/session/transfer", "tab-c", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/api/session", "tab-c", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.TransferIdle, decodeSnapshot(t, w).TransferState)
}

func TestTabsAreIsolated(t *testing.T) {
	f := newAPIFixture()

	w := f.do(t, http.MethodPost, "/api/session/join", "tab-1", joinRequest{RoomName: "support", ParticipantType: "caller"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/session", "tab-2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/session/audio/toggle", "tab-2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/session/audio/toggle", "tab-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeSnapshot(t, w).LocalMuted)
}

func TestJoinValidation(t *testing.T) {
	f := newAPIFixture()

	w := f.do(t, http.MethodPost, "/api/session/join", "", joinRequest{RoomName: "support", ParticipantType: "supervisor"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/session/join", "", joinRequest{RoomName: " ", ParticipantType: "caller"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/session/join", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJoinBackendFailure(t *testing.T) {
	f := newAPIFixture()
	f.backend.createErr = errors.New("backend returned 500: LiveKit credentials missing")

	w := f.do(t, http.MethodPost, "/api/session/join", "", joinRequest{RoomName: "support", ParticipantType: "caller"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "LiveKit credentials missing")
}

func TestLeave(t *testing.T) {
	f := newAPIFixture()

	w := f.do(t, http.MethodPost, "/api/session/join", "", joinRequest{RoomName: "support", ParticipantType: "agent_b"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/session/leave", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ConnectionDisconnected, decodeSnapshot(t, w).ConnectionState)

	w = f.do(t, http.MethodGet, "/api/session", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoomHistory(t *testing.T) {
	f := newAPIFixture()
	f.repo.calls = map[string]*domain.CallRecord{
		"call-0": {ID: "call-0", RoomName: "support", Role: domain.RoleInitialAgent, EndReason: "transferred"},
	}
	f.repo.transcripts = map[string][]domain.TranscriptEntry{
		"call-0": {{SpeakerRole: "caller", Text: "I was charged twice"}},
	}
	for i := 0; i < 3; i++ {
		f.repo.summaries = append(f.repo.summaries, domain.SummaryRecord{
			CallID: fmt.Sprintf("call-%d", i), RoomName: "support", Text: fmt.Sprintf("summary %d", i), Origin: domain.SummaryGenerated,
		})
	}

	w := f.do(t, http.MethodGet, "/api/rooms/support/history?limit=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		RoomName  string `json:"room_name"`
		Summaries []struct {
			CallID     string                   `json:"call_id"`
			Text       string                   `json:"text"`
			Call       *domain.CallRecord       `json:"call"`
			Transcript []domain.TranscriptEntry `json:"transcript"`
		} `json:"summaries"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "support", body.RoomName)
	require.Len(t, body.Summaries, 2)

	first := body.Summaries[0]
	assert.Equal(t, "summary 0", first.Text)
	require.NotNil(t, first.Call)
	assert.Equal(t, "transferred", first.Call.EndReason)
	require.Len(t, first.Transcript, 1)
	assert.Equal(t, "I was charged twice", first.Transcript[0].Text)

	assert.Nil(t, body.Summaries[1].Call)
	assert.NotNil(t, body.Summaries[1].Transcript)
	assert.Empty(t, body.Summaries[1].Transcript)

	w = f.do(t, http.MethodGet, "/api/rooms/support/history?limit=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCloseTabForgetsSession(t *testing.T) {
	f := newAPIFixture()

	w := f.do(t, http.MethodPost, "/api/session/join", "tab-x", joinRequest{RoomName: "support", ParticipantType: "caller"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/session/close?session_id=tab-x", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/api/session", "tab-x", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetMe(t *testing.T) {
	f := newAPIFixture()
	w := f.do(t, http.MethodGet, "/api/me", "tab-9", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, testUserID, body["user_id"])
	assert.Equal(t, "tab-9", body["session_id"])
	assert.Equal(t, "anon-89abcdef", body["username"])
}

func TestHealth(t *testing.T) {
	f := newAPIFixture()
	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	f.repo.pingErr = errors.New("disk gone")
	w = f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unreachable")
}

func TestWriteSessionErrorStatus(t *testing.T) {
	cases := map[error]int{
		&session.SessionInitError{Cause: "could not connect to room"}:         http.StatusBadGateway,
		&session.PermissionError{Role: domain.RoleCaller, Action: "transfer"}: http.StatusForbidden,
		session.ErrInvalidRole:                                 http.StatusBadRequest,
		session.ErrEmptyUtterance:                              http.StatusBadRequest,
		session.ErrNoActiveSession:                             http.StatusNotFound,
		fmt.Errorf("wrapped: %w", session.ErrTransferNotReady): http.StatusConflict,
		errors.New("surprise"):                                 http.StatusInternalServerError,
	}
	for err, want := range cases {
		w := httptest.NewRecorder()
		writeSessionError(w, err)
		assert.Equal(t, want, w.Code, err.Error())
	}
}

package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/warmtransfer/internal/domain"
	"github.com/ashureev/warmtransfer/internal/session"
)

type memoryUsers struct {
	users    map[string]*domain.User
	touched  int
	upserted int
	touchErr error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: make(map[string]*domain.User)}
}

func (m *memoryUsers) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return m.users[userID], nil
}

func (m *memoryUsers) UpsertUser(ctx context.Context, user *domain.User) error {
	m.upserted++
	m.users[user.UserID] = user
	return nil
}

func (m *memoryUsers) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	m.touched++
	if m.touchErr != nil {
		return m.touchErr
	}
	m.users[userID].LastSeenAt = lastSeen
	return nil
}

func serve(t *testing.T, users UserStore, req *http.Request) (*httptest.ResponseRecorder, Caller, bool) {
	t.Helper()
	var caller Caller
	var ok bool
	h := Middleware(users, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok = FromContext(r.Context())
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, caller, ok
}

func TestMiddlewareIssuesCookie(t *testing.T) {
	users := newMemoryUsers()

	w, caller, ok := serve(t, users, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	require.True(t, ok)

	assert.Regexp(t, deviceIDPattern, caller.UserID)
	assert.Equal(t, DefaultTabID, caller.TabID)
	assert.Equal(t, usernameFor(caller.UserID), caller.Username)
	assert.Equal(t, 1, users.upserted)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DeviceCookieName, cookies[0].Name)
	assert.Equal(t, caller.UserID, cookies[0].Value)
}

func TestMiddlewareReusesCookieAndTab(t *testing.T) {
	users := newMemoryUsers()
	userID := "anon_" + "0123456789abcdef0123456789abcdef"
	users.users[userID] = &domain.User{UserID: userID, LastSeenAt: time.Now()}

	req := httptest.NewRequest(http.MethodGet, "/ws/session?session_id=tab-7", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: userID})
	_, caller, _ := serve(t, users, req)

	assert.Equal(t, session.Owner{UserID: userID, TabID: "tab-7"}, caller.Owner())
	assert.Zero(t, users.upserted)
	assert.Zero(t, users.touched)

	req = httptest.NewRequest(http.MethodGet, "/api/session?session_id=ignored", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: userID})
	req.Header.Set(TabHeaderName, "tab-8")
	_, caller, _ = serve(t, users, req)
	assert.Equal(t, "tab-8", caller.TabID)
}

func TestMiddlewareRefreshesStaleLastSeen(t *testing.T) {
	users := newMemoryUsers()
	userID := "anon_" + "fedcba9876543210fedcba9876543210"
	users.users[userID] = &domain.User{UserID: userID, LastSeenAt: time.Now().Add(-time.Hour)}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: userID})
	serve(t, users, req)

	assert.Equal(t, 1, users.touched)
}

func TestMiddlewareToleratesLastSeenFailure(t *testing.T) {
	users := newMemoryUsers()
	users.touchErr = errors.New("update last_seen: database is locked (5) (SQLITE_BUSY)")
	userID := "anon_" + "fedcba9876543210fedcba9876543210"
	users.users[userID] = &domain.User{UserID: userID, LastSeenAt: time.Now().Add(-time.Hour)}

	req := httptest.NewRequest(http.MethodPost, "/api/session/transfer", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: userID})
	w, caller, ok := serve(t, users, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.True(t, ok)
	assert.Equal(t, userID, caller.UserID)
	assert.Equal(t, 1, users.touched)
}

func TestTabIDFallsBackToDefault(t *testing.T) {
	cases := map[string]string{
		"":                  DefaultTabID,
		"tab id with space": DefaultTabID,
		" tab-1.a:b ":       "tab-1.a:b",
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(TabHeaderName, header)
		assert.Equal(t, want, tabID(req), header)
	}
}

// Package identity resolves which browser tab a request comes from: an anonymous
// device cookie plus the tab id the page sends with every call.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/warmtransfer/internal/domain"
	"github.com/ashureev/warmtransfer/internal/session"
)

const (
	DeviceCookieName = "wt_anon_id"
	TabHeaderName    = "X-WT-Session-ID"
	DefaultTabID     = "default"

	// Websocket upgrades cannot carry custom headers, so the tab id may also come as a query param.
	tabQueryParam      = "session_id"
	deviceCookieMaxAge = 30 * 24 * time.Hour
	lastSeenResolution = 5 * time.Minute
)

var (
	deviceIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	tabIDPattern    = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// UserStore is the part of the repository the middleware needs.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// Caller is the device and tab a request was made from.
type Caller struct {
	UserID   string
	Username string
	TabID    string
}

// Owner keys the tab's call session.
func (c Caller) Owner() session.Owner {
	return session.Owner{UserID: c.UserID, TabID: c.TabID}
}

type callerKey struct{}

// FromContext returns the caller stored by Middleware.
func FromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(Caller)
	return caller, ok
}

// Middleware resolves the caller of every request. The device row is created on first
// sight; refreshing its last-seen time is best-effort and never fails the request.
func Middleware(users UserStore, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := deviceID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			if err := registerDevice(r.Context(), users, userID); err != nil {
				slog.Error("Failed to register device", "user_id", userID, "error", err)
				http.Error(w, `{"error":"failed to initialize anonymous user"}`, http.StatusInternalServerError)
				return
			}

			caller := Caller{UserID: userID, Username: usernameFor(userID), TabID: tabID(r)}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
		})
	}
}

func registerDevice(ctx context.Context, users UserStore, userID string) error {
	user, err := users.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now()
	if user == nil {
		return users.UpsertUser(ctx, &domain.User{
			UserID:     userID,
			Username:   usernameFor(userID),
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if user.IdleFor(now) < lastSeenResolution {
		return nil
	}
	if err := users.UpdateLastSeen(ctx, userID, now); err != nil {
		slog.Warn("Failed to refresh last seen", "user_id", userID, "error", err)
	}
	return nil
}

// deviceID returns the device cookie's id, issuing a new one when it is missing or malformed.
// The cookie is rewritten on every request to slide its expiry.
func deviceID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(DeviceCookieName); err == nil && deviceIDPattern.MatchString(c.Value) {
		id = c.Value
	} else {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate device id: %w", err)
		}
		id = "anon_" + hex.EncodeToString(buf)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(deviceCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

func tabID(r *http.Request) string {
	id := r.Header.Get(TabHeaderName)
	if id == "" {
		id = r.URL.Query().Get(tabQueryParam)
	}
	id = strings.TrimSpace(id)
	if !tabIDPattern.MatchString(id) {
		return DefaultTabID
	}
	return id
}

func usernameFor(userID string) string {
	if len(userID) > 13 {
		return "anon-" + userID[len(userID)-8:]
	}
	return "anon-user"
}

// RemoteIP returns the request's peer address without its port.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/warmtransfer/internal/domain"
)

// ToggleLocalAudio mutes or unmutes the local microphone.
func (c *Controller) ToggleLocalAudio(ctx context.Context) (domain.Snapshot, error) {
	return c.toggleLocal(ctx, domain.TrackKindAudio)
}

// ToggleLocalVideo turns the local camera on or off.
func (c *Controller) ToggleLocalVideo(ctx context.Context) (domain.Snapshot, error) {
	return c.toggleLocal(ctx, domain.TrackKindVideo)
}

// toggleLocal flips a local media flag only when the transport applied the change.
// Transport failures are logged and leave the flag as it was.
func (c *Controller) toggleLocal(ctx context.Context, kind domain.TrackKind) (domain.Snapshot, error) {
	c.mediaMu.Lock()
	defer c.mediaMu.Unlock()

	c.mu.Lock()
	sess := c.current
	if sess == nil || sess.ended || sess.transport == nil {
		c.mu.Unlock()
		return domain.Snapshot{}, ErrNoActiveSession
	}
	transport := sess.transport
	enable := !sess.localVideoEnabled
	if kind == domain.TrackKindAudio {
		enable = sess.localMuted
	}
	c.mu.Unlock()

	var err error
	if kind == domain.TrackKindAudio {
		err = transport.SetMicrophoneEnabled(ctx, enable)
	} else {
		err = transport.SetCameraEnabled(ctx, enable)
	}

	c.mu.Lock()
	if !c.isLiveLocked(sess) {
		c.mu.Unlock()
		return domain.Snapshot{}, ErrStaleSession
	}
	if err == nil {
		if kind == domain.TrackKindAudio {
			sess.localMuted = !enable
		} else {
			sess.localVideoEnabled = enable
		}
	}
	snap := c.snapshotLocked(sess)
	c.mu.Unlock()

	if err != nil {
		slog.Warn("Failed to toggle local media", "kind", kind, "enable", enable, "room_name", sess.roomName, "error", err)
		c.events.SessionError(domain.ErrorCodeMedia, fmt.Sprintf("could not %s %s", toggleVerb(enable), kind))
		return snap, nil
	}
	c.events.SessionChanged(snap)
	return snap, nil
}

func toggleVerb(enable bool) string {
	if enable {
		return "enable"
	}
	return "disable"
}

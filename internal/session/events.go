package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/warmtransfer/internal/domain"
	"github.com/ashureev/warmtransfer/internal/ports"
)

// handlersFor binds transport callbacks to sess. Events arriving after sess
// stopped being current are dropped.
func (c *Controller) handlersFor(sess *callSession) ports.TransportHandlers {
	return ports.TransportHandlers{
		OnConnected: func() {
			c.onConnected(sess)
		},
		OnDisconnected: func(reason string) {
			c.onDisconnected(sess, reason)
		},
		OnParticipantConnected: func(p ports.ParticipantState) {
			c.apply(sess, func(s *callSession) bool {
				return s.roster.insert(p)
			})
		},
		OnParticipantDisconnected: func(identity string) {
			c.apply(sess, func(s *callSession) bool {
				s.sinks.detachParticipant(identity)
				return s.roster.remove(identity)
			})
		},
		OnTrackSubscribed: func(identity string, kind domain.TrackKind, sink ports.MediaSink) {
			c.onTrackSubscribed(sess, identity, kind, sink)
		},
		OnTrackUnsubscribed: func(identity string, kind domain.TrackKind) {
			c.apply(sess, func(s *callSession) bool {
				s.sinks.detach(identity, kind)
				return false
			})
		},
		OnTrackMuted: func(identity string, kind domain.TrackKind, muted bool) {
			c.apply(sess, func(s *callSession) bool {
				return s.roster.setTrackMuted(identity, kind, muted)
			})
		},
	}
}

// apply runs fn against a live sess and publishes a snapshot when fn reports a change.
func (c *Controller) apply(sess *callSession, fn func(s *callSession) bool) {
	c.mu.Lock()
	if !c.isLiveLocked(sess) {
		c.mu.Unlock()
		return
	}
	changed := fn(sess)
	var snap domain.Snapshot
	if changed {
		snap = c.snapshotLocked(sess)
	}
	c.mu.Unlock()

	if changed {
		c.events.SessionChanged(snap)
	}
}

func (c *Controller) onConnected(sess *callSession) {
	c.mu.Lock()
	if !c.isLiveLocked(sess) {
		c.mu.Unlock()
		return
	}
	transport := sess.transport
	c.mu.Unlock()

	var present []ports.ParticipantState
	if transport != nil {
		present = transport.RemoteParticipants()
	}

	c.mu.Lock()
	if !c.isLiveLocked(sess) {
		c.mu.Unlock()
		return
	}
	sess.state = domain.ConnectionConnected
	sess.roster.replace(present)
	sess.sinks.retain(sess.roster.has)
	snap := c.snapshotLocked(sess)
	c.mu.Unlock()

	slog.Info("Connected to room", "room_name", sess.roomName, "session_id", sess.id, "remote_participants", len(present))
	c.events.SessionChanged(snap)
}

func (c *Controller) onDisconnected(sess *callSession, reason string) {
	c.mu.Lock()
	if !c.isLiveLocked(sess) {
		c.mu.Unlock()
		return
	}
	sess.state = domain.ConnectionDisconnected
	sess.roster.clear()
	sess.sinks.closeAll()
	if sess.stopResync != nil {
		sess.stopResync()
	}
	snap := c.snapshotLocked(sess)
	c.mu.Unlock()

	slog.Warn("Disconnected from room", "room_name", sess.roomName, "session_id", sess.id, "reason", reason)
	c.events.SessionError(domain.ErrorCodeDisconnected, "disconnected from room")
	c.events.SessionChanged(snap)
}

func (c *Controller) onTrackSubscribed(sess *callSession, identity string, kind domain.TrackKind, sink ports.MediaSink) {
	c.mu.Lock()
	if !c.isLiveLocked(sess) {
		c.mu.Unlock()
		if sink != nil {
			closeSink(identity, kind, sink)
		}
		return
	}
	sess.sinks.attach(identity, kind, sink)
	changed := sess.roster.setTrackMuted(identity, kind, false)
	var snap domain.Snapshot
	if changed {
		snap = c.snapshotLocked(sess)
	}
	c.mu.Unlock()

	slog.Debug("Track subscribed", "identity", identity, "kind", kind)
	if changed {
		c.events.SessionChanged(snap)
	}
}

func (c *Controller) resyncLoop(ctx context.Context, sess *callSession, transport ports.Transport) {
	ticker := time.NewTicker(c.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.resync(sess, transport)
		}
	}
}

// resync overwrites the roster with the transport's current remote set.
func (c *Controller) resync(sess *callSession, transport ports.Transport) {
	present := transport.RemoteParticipants()
	c.apply(sess, func(s *callSession) bool {
		if s.state != domain.ConnectionConnected {
			return false
		}
		changed := s.roster.replace(present)
		s.sinks.retain(s.roster.has)
		return changed
	})
}

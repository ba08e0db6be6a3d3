// Package transport adapts the LiveKit Go SDK to the controller's transport port.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/ashureev/warmtransfer/internal/domain"
	"github.com/ashureev/warmtransfer/internal/ports"
)

var (
	ErrNotConnected     = errors.New("transport is not connected")
	ErrAlreadyConnected = errors.New("transport is already connected")
	ErrClosed           = errors.New("transport is closed")
)

type joinFunc func(url, token string, cb *lksdk.RoomCallback, opts ...lksdk.ConnectOption) (*lksdk.Room, error)

// Factory creates LiveKit room transports.
type Factory struct{}

// NewFactory returns a transport factory backed by the LiveKit SDK.
func NewFactory() *Factory {
	return &Factory{}
}

// NewTransport implements ports.TransportFactory.
func (f *Factory) NewTransport(opts ports.TransportOptions) ports.Transport {
	return NewRoomTransport(opts)
}

// RoomTransport is one LiveKit room connection. SDK callbacks are forwarded to the
// registered handlers from a single goroutine, preserving their order.
type RoomTransport struct {
	opts   ports.TransportOptions
	join   joinFunc
	events *dispatcher

	mu     sync.Mutex
	room   *lksdk.Room
	closed bool

	mediaMu sync.Mutex
	local   map[domain.TrackKind]*lksdk.LocalTrackPublication

	videoMu sync.Mutex
	videos  map[string]videoSubscription
}

// NewRoomTransport creates an unconnected transport.
func NewRoomTransport(opts ports.TransportOptions) *RoomTransport {
	return &RoomTransport{
		opts:   opts,
		join:   lksdk.ConnectToRoomWithToken,
		events: newDispatcher(),
		local:  make(map[domain.TrackKind]*lksdk.LocalTrackPublication),
		videos: make(map[string]videoSubscription),
	}
}

// Connect joins the room and returns once handlers.OnConnected has run.
func (t *RoomTransport) Connect(ctx context.Context, url, token string, handlers ports.TransportHandlers) error {
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return ErrClosed
	case t.room != nil:
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.mu.Unlock()

	cb := t.roomCallback(handlers)

	type joinResult struct {
		room *lksdk.Room
		err  error
	}
	joined := make(chan joinResult, 1)
	go func() {
		room, err := t.join(url, token, cb, lksdk.WithAutoSubscribe(true))
		joined <- joinResult{room: room, err: err}
	}()

	var res joinResult
	select {
	case res = <-joined:
	case <-ctx.Done():
		go func() {
			if late := <-joined; late.room != nil {
				late.room.Disconnect()
			}
		}()
		return ctx.Err()
	}
	if res.err != nil {
		return fmt.Errorf("connect to room: %w", res.err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		if res.room != nil {
			res.room.Disconnect()
		}
		return ErrClosed
	}
	t.room = res.room
	t.mu.Unlock()

	connected := make(chan struct{})
	if !t.events.post(func() {
		defer close(connected)
		if handlers.OnConnected != nil {
			handlers.OnConnected()
		}
	}) {
		return ErrClosed
	}

	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *RoomTransport) roomCallback(h ports.TransportHandlers) *lksdk.RoomCallback {
	cb := lksdk.NewRoomCallback()

	cb.OnDisconnected = func() {
		t.events.post(func() {
			if h.OnDisconnected != nil {
				h.OnDisconnected("room connection closed")
			}
		})
	}
	cb.OnParticipantConnected = func(rp *lksdk.RemoteParticipant) {
		state := participantState(rp)
		t.events.post(func() {
			if h.OnParticipantConnected != nil {
				h.OnParticipantConnected(state)
			}
		})
	}
	cb.OnParticipantDisconnected = func(rp *lksdk.RemoteParticipant) {
		identity := rp.Identity()
		t.events.post(func() {
			if h.OnParticipantDisconnected != nil {
				h.OnParticipantDisconnected(identity)
			}
		})
	}

	cb.ParticipantCallback.OnTrackSubscribed = func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
		kind, ok := trackKind(pub.Kind())
		if !ok {
			return
		}
		if kind == domain.TrackKindVideo {
			t.trackVideo(pub, true)
		}
		t.deliverTrack(h, rp.Identity(), kind, newTrackSink(track))
	}
	cb.ParticipantCallback.OnTrackUnsubscribed = func(_ *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
		kind, ok := trackKind(pub.Kind())
		if !ok {
			return
		}
		if kind == domain.TrackKindVideo {
			t.trackVideo(pub, false)
		}
		t.postTrackGone(h, rp.Identity(), kind)
	}
	cb.ParticipantCallback.OnTrackMuted = func(pub lksdk.TrackPublication, p lksdk.Participant) {
		t.postParticipantMuted(h, pub, p, true)
	}
	cb.ParticipantCallback.OnTrackUnmuted = func(pub lksdk.TrackPublication, p lksdk.Participant) {
		t.postParticipantMuted(h, pub, p, false)
	}
	return cb
}

// deliverTrack hands sink to the subscriber, closing it when nobody will take it.
func (t *RoomTransport) deliverTrack(h ports.TransportHandlers, identity string, kind domain.TrackKind, sink ports.MediaSink) {
	if !t.events.post(func() {
		if h.OnTrackSubscribed != nil {
			h.OnTrackSubscribed(identity, kind, sink)
			return
		}
		_ = sink.Close()
	}) {
		_ = sink.Close()
	}
}

func (t *RoomTransport) postTrackGone(h ports.TransportHandlers, identity string, kind domain.TrackKind) {
	t.events.post(func() {
		if h.OnTrackUnsubscribed != nil {
			h.OnTrackUnsubscribed(identity, kind)
		}
	})
}

func (t *RoomTransport) postParticipantMuted(h ports.TransportHandlers, pub lksdk.TrackPublication, p lksdk.Participant, muted bool) {
	_, remote := p.(*lksdk.RemoteParticipant)
	kind, ok := trackKind(pub.Kind())
	if !ok {
		return
	}
	t.postMuted(h, p.Identity(), kind, muted, remote)
}

// postMuted forwards mute changes of remote participants. The SDK also reports the
// local participant's own tracks, which the controller tracks itself.
func (t *RoomTransport) postMuted(h ports.TransportHandlers, identity string, kind domain.TrackKind, muted, remote bool) {
	if !remote {
		return
	}
	t.events.post(func() {
		if h.OnTrackMuted != nil {
			h.OnTrackMuted(identity, kind, muted)
		}
	})
}

// videoSubscription is the part of a remote video publication that adaptive stream adjusts.
type videoSubscription interface {
	SID() string
	SetVideoQuality(quality livekit.VideoQuality) error
}

// trackVideo records a remote video subscription and, with adaptive stream on, retunes
// every subscribed video to the quality its share of the layout needs.
func (t *RoomTransport) trackVideo(pub videoSubscription, subscribed bool) {
	t.videoMu.Lock()
	if subscribed {
		t.videos[pub.SID()] = pub
	} else {
		delete(t.videos, pub.SID())
	}
	if !t.opts.AdaptiveStream {
		t.videoMu.Unlock()
		return
	}
	quality := adaptiveQuality(len(t.videos))
	pubs := make([]videoSubscription, 0, len(t.videos))
	for _, v := range t.videos {
		pubs = append(pubs, v)
	}
	t.videoMu.Unlock()

	for _, v := range pubs {
		if err := v.SetVideoQuality(quality); err != nil {
			slog.Warn("Failed to set remote video quality", "track_sid", v.SID(), "error", err)
		}
	}
}

// adaptiveQuality picks the simulcast layer for one of tiles equally sized video tiles.
func adaptiveQuality(tiles int) livekit.VideoQuality {
	switch {
	case tiles <= 1:
		return livekit.VideoQuality_HIGH
	case tiles == 2:
		return livekit.VideoQuality_MEDIUM
	default:
		return livekit.VideoQuality_LOW
	}
}

// Disconnect leaves the room and drops undelivered events. Safe to call more than once.
func (t *RoomTransport) Disconnect() {
	t.mu.Lock()
	room := t.room
	t.room = nil
	t.closed = true
	t.mu.Unlock()

	t.events.stop()
	if room != nil {
		room.Disconnect()
		slog.Debug("Left LiveKit room")
	}

	t.mediaMu.Lock()
	t.local = make(map[domain.TrackKind]*lksdk.LocalTrackPublication)
	t.mediaMu.Unlock()

	t.videoMu.Lock()
	t.videos = make(map[string]videoSubscription)
	t.videoMu.Unlock()
}

// RemoteParticipants reports the room's remote participants as the SDK currently sees them.
func (t *RoomTransport) RemoteParticipants() []ports.ParticipantState {
	t.mu.Lock()
	room := t.room
	t.mu.Unlock()
	if room == nil {
		return nil
	}

	remotes := room.GetRemoteParticipants()
	out := make([]ports.ParticipantState, 0, len(remotes))
	for _, rp := range remotes {
		out = append(out, participantState(rp))
	}
	return out
}

// SetMicrophoneEnabled publishes or mutes the local audio track.
func (t *RoomTransport) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	return t.setLocalTrack(ctx, domain.TrackKindAudio, enabled)
}

// SetCameraEnabled publishes or mutes the local video track.
func (t *RoomTransport) SetCameraEnabled(ctx context.Context, enabled bool) error {
	return t.setLocalTrack(ctx, domain.TrackKindVideo, enabled)
}

func (t *RoomTransport) setLocalTrack(ctx context.Context, kind domain.TrackKind, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	room := t.room
	t.mu.Unlock()
	if room == nil {
		return ErrNotConnected
	}

	t.mediaMu.Lock()
	defer t.mediaMu.Unlock()

	if pub, ok := t.local[kind]; ok {
		pub.SetMuted(!enabled)
		return nil
	}
	if !enabled {
		return nil
	}

	track, err := newLocalTrack(kind)
	if err != nil {
		return err
	}
	pub, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   string(kind),
		Source: trackSource(kind),
	})
	if err != nil {
		return fmt.Errorf("publish %s track: %w", kind, err)
	}
	t.local[kind] = pub
	slog.Debug("Published local track", "kind", kind)
	return nil
}

// newLocalTrack creates a sample track for kind. It carries no media until a capture
// source writes samples to it.
func newLocalTrack(kind domain.TrackKind) (*webrtc.TrackLocalStaticSample, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == domain.TrackKindVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	track, err := webrtc.NewTrackLocalStaticSample(codec, string(kind), "warmtransfer")
	if err != nil {
		return nil, fmt.Errorf("create local %s track: %w", kind, err)
	}
	return track, nil
}

func trackSource(kind domain.TrackKind) livekit.TrackSource {
	if kind == domain.TrackKindVideo {
		return livekit.TrackSource_CAMERA
	}
	return livekit.TrackSource_MICROPHONE
}

func trackKind(kind lksdk.TrackKind) (domain.TrackKind, bool) {
	switch kind {
	case lksdk.TrackKindAudio:
		return domain.TrackKindAudio, true
	case lksdk.TrackKindVideo:
		return domain.TrackKindVideo, true
	default:
		return "", false
	}
}

// participantState treats a participant as muted unless it publishes an unmuted audio track,
// and as camera-on only while it publishes an unmuted video track.
func participantState(rp *lksdk.RemoteParticipant) ports.ParticipantState {
	state := ports.ParticipantState{Identity: rp.Identity(), AudioMuted: true}
	for _, pub := range rp.TrackPublications() {
		if pub.IsMuted() {
			continue
		}
		switch pub.Kind() {
		case lksdk.TrackKindAudio:
			state.AudioMuted = false
		case lksdk.TrackKindVideo:
			state.VideoEnabled = true
		}
	}
	return state
}

package transport

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// trackSink drains a subscribed remote track so the SDK's buffers keep flowing.
type trackSink struct {
	track     *webrtc.TrackRemote
	done      chan struct{}
	closeOnce sync.Once
}

func newTrackSink(track *webrtc.TrackRemote) *trackSink {
	s := &trackSink{track: track, done: make(chan struct{})}
	if track == nil {
		close(s.done)
		return s
	}
	go s.drain()
	return s
}

func (s *trackSink) drain() {
	defer close(s.done)
	packets := 0
	for {
		if _, _, err := s.track.ReadRTP(); err != nil {
			slog.Debug("Remote track drained", "track_id", s.track.ID(), "kind", s.track.Kind().String(), "packets", packets, "reason", err)
			return
		}
		packets++
	}
}

// Close stops draining. It does not wait for the reader to exit.
func (s *trackSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.track != nil {
			err = s.track.SetReadDeadline(time.Now())
		}
	})
	return err
}

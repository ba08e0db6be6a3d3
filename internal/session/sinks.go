package session

import (
	"log/slog"

	"github.com/ashureev/warmtransfer/internal/domain"
	"github.com/ashureev/warmtransfer/internal/ports"
)

// sinkTable owns the media sinks attached to subscribed remote tracks,
// keyed by participant identity and track kind.
type sinkTable struct {
	sinks map[string]map[domain.TrackKind]ports.MediaSink
}

func newSinkTable() *sinkTable {
	return &sinkTable{sinks: make(map[string]map[domain.TrackKind]ports.MediaSink)}
}

// attach stores sink, closing whatever was attached for the same track before.
func (t *sinkTable) attach(identity string, kind domain.TrackKind, sink ports.MediaSink) {
	if sink == nil {
		return
	}
	byKind, ok := t.sinks[identity]
	if !ok {
		byKind = make(map[domain.TrackKind]ports.MediaSink)
		t.sinks[identity] = byKind
	}
	if prev, ok := byKind[kind]; ok {
		closeSink(identity, kind, prev)
	}
	byKind[kind] = sink
}

func (t *sinkTable) detach(identity string, kind domain.TrackKind) {
	byKind, ok := t.sinks[identity]
	if !ok {
		return
	}
	if sink, ok := byKind[kind]; ok {
		closeSink(identity, kind, sink)
		delete(byKind, kind)
	}
	if len(byKind) == 0 {
		delete(t.sinks, identity)
	}
}

func (t *sinkTable) detachParticipant(identity string) {
	for kind, sink := range t.sinks[identity] {
		closeSink(identity, kind, sink)
	}
	delete(t.sinks, identity)
}

// retain closes the sinks of every identity keep does not report.
func (t *sinkTable) retain(keep func(identity string) bool) {
	for identity := range t.sinks {
		if !keep(identity) {
			t.detachParticipant(identity)
		}
	}
}

func (t *sinkTable) closeAll() {
	for identity := range t.sinks {
		t.detachParticipant(identity)
	}
}

func (t *sinkTable) count() int {
	n := 0
	for _, byKind := range t.sinks {
		n += len(byKind)
	}
	return n
}

func closeSink(identity string, kind domain.TrackKind, sink ports.MediaSink) {
	if err := sink.Close(); err != nil {
		slog.Debug("Failed to close media sink", "identity", identity, "kind", kind, "error", err)
	}
}

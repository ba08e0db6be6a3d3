package session

import (
	"testing"

	"github.com/ashureev/warmtransfer/internal/domain"
	"github.com/ashureev/warmtransfer/internal/ports"
)

func TestRosterReplaceReportsChanges(t *testing.T) {
	r := newRoster()
	states := []ports.ParticipantState{{Identity: "caller-1"}, {Identity: "agent_b-1", VideoEnabled: true}}

	if !r.replace(states) {
		t.Fatal("expected first replace to report a change")
	}
	if r.replace(states) {
		t.Error("identical replace must not report a change")
	}
	if !r.replace([]ports.ParticipantState{{Identity: "caller-1", AudioMuted: true}, {Identity: "agent_b-1", VideoEnabled: true}}) {
		t.Error("flag change must be reported")
	}
	if r.size() != 2 {
		t.Errorf("size = %d, want 2", r.size())
	}
}

func TestRosterIgnoresEmptyIdentity(t *testing.T) {
	r := newRoster()
	if r.insert(ports.ParticipantState{}) {
		t.Error("empty identity must not be inserted")
	}
	r.replace([]ports.ParticipantState{{Identity: ""}, {Identity: "caller-1"}})
	if r.size() != 1 {
		t.Errorf("size = %d, want 1", r.size())
	}
}

func TestRosterSetTrackMuted(t *testing.T) {
	r := newRoster()
	r.insert(ports.ParticipantState{Identity: "caller-1"})

	if r.setTrackMuted("caller-1", domain.TrackKindAudio, false) {
		t.Error("unchanged flag must not report a change")
	}
	if !r.setTrackMuted("caller-1", domain.TrackKindVideo, false) {
		t.Error("unmuting video must enable it")
	}
	if r.setTrackMuted("nobody", domain.TrackKindAudio, true) {
		t.Error("unknown identity must be ignored")
	}

	list := r.list()
	if !list[0].VideoEnabled || list[0].Muted {
		t.Errorf("unexpected record %+v", list[0])
	}
	if list[0].Kind != "caller" {
		t.Errorf("kind = %q, want caller", list[0].Kind)
	}
}

func TestSinkTableRetain(t *testing.T) {
	table := newSinkTable()
	keep, drop := &fakeSink{}, &fakeSink{}
	table.attach("caller-1", domain.TrackKindAudio, keep)
	table.attach("agent_b-1", domain.TrackKindVideo, drop)

	table.retain(func(identity string) bool { return identity == "caller-1" })

	if drop.closeCount() != 1 || keep.closeCount() != 0 {
		t.Fatalf("closed keep=%d drop=%d", keep.closeCount(), drop.closeCount())
	}
	if table.count() != 1 {
		t.Errorf("count = %d, want 1", table.count())
	}

	table.closeAll()
	if keep.closeCount() != 1 || table.count() != 0 {
		t.Errorf("closeAll left %d sinks", table.count())
	}
}

package session

import (
	"sort"

	"github.com/ashureev/warmtransfer/internal/domain"
	"github.com/ashureev/warmtransfer/internal/ports"
)

// roster mirrors the transport's remote participant set. Not safe for concurrent use;
// the controller guards it.
type roster struct {
	records map[string]*domain.ParticipantRecord
}

func newRoster() *roster {
	return &roster{records: make(map[string]*domain.ParticipantRecord)}
}

func recordFromState(p ports.ParticipantState) *domain.ParticipantRecord {
	return &domain.ParticipantRecord{
		Identity:     p.Identity,
		Kind:         domain.ParticipantKind(p.Identity),
		Muted:        p.AudioMuted,
		VideoEnabled: p.VideoEnabled,
	}
}

// insert adds p unless its identity is already present.
func (r *roster) insert(p ports.ParticipantState) bool {
	if p.Identity == "" {
		return false
	}
	if _, ok := r.records[p.Identity]; ok {
		return false
	}
	r.records[p.Identity] = recordFromState(p)
	return true
}

func (r *roster) remove(identity string) bool {
	if _, ok := r.records[identity]; !ok {
		return false
	}
	delete(r.records, identity)
	return true
}

// setTrackMuted updates one media flag. Unknown identities are ignored.
func (r *roster) setTrackMuted(identity string, kind domain.TrackKind, muted bool) bool {
	rec, ok := r.records[identity]
	if !ok {
		return false
	}
	switch kind {
	case domain.TrackKindAudio:
		if rec.Muted == muted {
			return false
		}
		rec.Muted = muted
	case domain.TrackKindVideo:
		if rec.VideoEnabled == !muted {
			return false
		}
		rec.VideoEnabled = !muted
	default:
		return false
	}
	return true
}

// replace overwrites the roster wholesale and reports whether anything changed.
func (r *roster) replace(states []ports.ParticipantState) bool {
	next := make(map[string]*domain.ParticipantRecord, len(states))
	for _, p := range states {
		if p.Identity == "" {
			continue
		}
		next[p.Identity] = recordFromState(p)
	}

	changed := len(next) != len(r.records)
	if !changed {
		for id, rec := range next {
			prev, ok := r.records[id]
			if !ok || *prev != *rec {
				changed = true
				break
			}
		}
	}
	r.records = next
	return changed
}

func (r *roster) has(identity string) bool {
	_, ok := r.records[identity]
	return ok
}

func (r *roster) clear() {
	r.records = make(map[string]*domain.ParticipantRecord)
}

func (r *roster) size() int {
	return len(r.records)
}

// list returns a copy of the records ordered by identity.
func (r *roster) list() []domain.ParticipantRecord {
	out := make([]domain.ParticipantRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

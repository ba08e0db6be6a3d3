package session

import (
	"log/slog"
	"sync"
	"time"
)

// Builder creates the controller for a newly seen tab.
type Builder func(owner Owner) *Controller

type tabEntry struct {
	controller *Controller
	attached   int
	lastActive time.Time
}

// Registry holds one controller per browser tab, keyed by user and tab session id.
type Registry struct {
	build Builder
	now   func() time.Time

	mu   sync.Mutex
	tabs map[string]map[string]*tabEntry
}

// NewRegistry creates a registry that builds controllers with build.
func NewRegistry(build Builder) *Registry {
	return &Registry{
		build: build,
		now:   time.Now,
		tabs:  make(map[string]map[string]*tabEntry),
	}
}

// Acquire returns the tab's controller, creating it on first use.
func (r *Registry) Acquire(owner Owner) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acquireLocked(owner).controller
}

func (r *Registry) acquireLocked(owner Owner) *tabEntry {
	entry := r.lookupLocked(owner)
	if entry == nil {
		entry = &tabEntry{controller: r.build(owner)}
		if _, ok := r.tabs[owner.UserID]; !ok {
			r.tabs[owner.UserID] = make(map[string]*tabEntry)
		}
		r.tabs[owner.UserID][owner.TabID] = entry
		slog.Info("Tab session created", "user_id", owner.UserID, "session_id", owner.TabID)
	}
	entry.lastActive = r.now()
	return entry
}

// Get returns the tab's controller if one exists.
func (r *Registry) Get(owner Owner) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.lookupLocked(owner)
	if entry == nil {
		return nil, false
	}
	entry.lastActive = r.now()
	return entry.controller, true
}

// Attach marks a push connection open for the tab.
func (r *Registry) Attach(owner Owner) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.acquireLocked(owner)
	entry.attached++
	return entry.controller
}

// Detach marks a push connection closed. The idle clock starts when none remain.
func (r *Registry) Detach(owner Owner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.lookupLocked(owner)
	if entry == nil {
		return
	}
	if entry.attached > 0 {
		entry.attached--
	}
	entry.lastActive = r.now()
}

// Remove closes the tab's controller and forgets the tab, as when the page unloads.
func (r *Registry) Remove(owner Owner) {
	r.mu.Lock()
	entry := r.lookupLocked(owner)
	if entry != nil {
		r.deleteLocked(owner)
	}
	r.mu.Unlock()

	if entry != nil {
		entry.controller.Close()
		slog.Info("Tab session removed", "user_id", owner.UserID, "session_id", owner.TabID)
	}
}

// ReapIdle closes tabs with no push connection that have been inactive longer than ttl.
func (r *Registry) ReapIdle(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)

	var idle []*tabEntry
	r.mu.Lock()
	for userID, tabs := range r.tabs {
		for tabID, entry := range tabs {
			if entry.attached == 0 && entry.lastActive.Before(cutoff) {
				idle = append(idle, entry)
				r.deleteLocked(Owner{UserID: userID, TabID: tabID})
			}
		}
	}
	r.mu.Unlock()

	for _, entry := range idle {
		entry.controller.Close()
	}
	return len(idle)
}

// CloseAll closes every controller. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	var all []*Controller
	for _, tabs := range r.tabs {
		for _, entry := range tabs {
			all = append(all, entry.controller)
		}
	}
	r.tabs = make(map[string]map[string]*tabEntry)
	r.mu.Unlock()

	for _, ctrl := range all {
		ctrl.Close()
	}
}

// Len returns the number of tracked tabs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, tabs := range r.tabs {
		n += len(tabs)
	}
	return n
}

func (r *Registry) lookupLocked(owner Owner) *tabEntry {
	if tabs, ok := r.tabs[owner.UserID]; ok {
		return tabs[owner.TabID]
	}
	return nil
}

func (r *Registry) deleteLocked(owner Owner) {
	tabs, ok := r.tabs[owner.UserID]
	if !ok {
		return
	}
	delete(tabs, owner.TabID)
	if len(tabs) == 0 {
		delete(r.tabs, owner.UserID)
	}
}

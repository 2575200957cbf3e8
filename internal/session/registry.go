package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Entry is a roster line for one open session.
type Entry struct {
	SessionID  string    `json:"session_id"`
	FlowID     string    `json:"flow_id,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	OpenedAt   time.Time `json:"opened_at"`
	LastActive time.Time `json:"last_active"`
	IdleSecs   float64   `json:"idle_secs"`
	Operations int64     `json:"operations"`
}

// ReaperConfig configures the background idle-session reaper.
type ReaperConfig struct {
	// IdleTimeout is how long a session may go without operations before
	// it is closed. Default: 30 minutes.
	IdleTimeout time.Duration

	// SweepInterval is how often the reaper scans for idle sessions.
	// Default: 60 seconds.
	SweepInterval time.Duration

	// OnIdle is called for each idle session, outside the lock.
	OnIdle func(sessionID string)
}

// Registry tracks open sessions and their activity.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entryState

	now func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type entryState struct {
	session  *Session
	opened   time.Time
	lastSeen time.Time
	ops      int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*entryState),
		now:      time.Now,
	}
}

// Add registers a session.
func (r *Registry) Add(s *Session) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = &entryState{session: s, opened: now, lastSeen: now}
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return st.session, true
}

// Touch records an operation on the session.
func (r *Registry) Touch(id string) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.sessions[id]; ok {
		st.lastSeen = now
		st.ops++
	}
}

// Remove unregisters a session and returns it.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	return st.session, true
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the ids of every open session.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Roster returns all open sessions, most recently active first.
func (r *Registry) Roster() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	entries := make([]Entry, 0, len(r.sessions))
	for id, st := range r.sessions {
		entries = append(entries, Entry{
			SessionID:  id,
			FlowID:     st.session.FlowID(),
			Actor:      st.session.Actor,
			OpenedAt:   st.opened,
			LastActive: st.lastSeen,
			IdleSecs:   now.Sub(st.lastSeen).Seconds(),
			Operations: st.ops,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastActive.After(entries[j].LastActive)
	})
	return entries
}

// StartReaper launches a background goroutine that closes idle sessions.
// Call Stop to shut it down.
func (r *Registry) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}

	r.reaperStop = make(chan struct{})
	r.reaperDone = make(chan struct{})

	go r.reapLoop(cfg)
	slog.Info("session: reaper started",
		"idle_timeout", cfg.IdleTimeout,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (r *Registry) Stop() {
	if r.reaperStop != nil {
		close(r.reaperStop)
		<-r.reaperDone
		r.reaperStop = nil
		r.reaperDone = nil
	}
}

func (r *Registry) reapLoop(cfg *ReaperConfig) {
	defer close(r.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.reaperStop:
			return
		case <-ticker.C:
			r.sweep(cfg)
		}
	}
}

// sweep returns the ids it reported idle.
func (r *Registry) sweep(cfg *ReaperConfig) []string {
	now := r.now()

	var idle []string
	r.mu.RLock()
	for id, st := range r.sessions {
		if now.Sub(st.lastSeen) > cfg.IdleTimeout {
			idle = append(idle, id)
		}
	}
	r.mu.RUnlock()
	sort.Strings(idle)

	for _, id := range idle {
		slog.Info("session: reaper closing idle session",
			"session_id", id,
			"threshold", cfg.IdleTimeout)
		if cfg.OnIdle != nil {
			cfg.OnIdle(id)
		}
	}
	return idle
}

package api

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dsc-hexbins/server/internal/appstore"
	"github.com/dsc-hexbins/server/internal/hexbin"
	"github.com/dsc-hexbins/server/internal/metrics"
)

// ErrTooManySessions is returned by Create when the session limit is reached.
var ErrTooManySessions = errors.New("api: too many sessions")

// InspectorFactory builds an unstarted inspector whose first graphics load
// uses predicate.
type InspectorFactory func(predicate string) *hexbin.Inspector

// SessionRegistryConfig contains configuration for the session registry.
type SessionRegistryConfig struct {
	Store            *appstore.Store
	WidgetID         string // widget whose filter drives the hexbins
	DefaultPredicate string
	NewInspector     InspectorFactory
	Metrics          *metrics.Collector

	MaxSessions   int           // default 100
	IdleTimeout   time.Duration // default 30m
	CleanupPeriod time.Duration // default 5m
}

// Session is one map view inspecting hexbins.
type Session struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`

	inspector   *hexbin.Inspector
	unsubscribe func()
	done        chan struct{}

	mu       sync.Mutex
	lastSeen time.Time
}

// Inspector returns the session's inspector.
func (s *Session) Inspector() *hexbin.Inspector { return s.inspector }

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// SessionRegistry owns the open sessions and forwards the shared store's
// filter changes to each session's inspector.
type SessionRegistry struct {
	cfg      SessionRegistryConfig
	mu       sync.Mutex
	sessions map[string]*Session
	reserved int // slots taken by Create calls still starting their session
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewSessionRegistry creates a new session registry.
func NewSessionRegistry(cfg SessionRegistryConfig) *SessionRegistry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 100
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 5 * time.Minute
	}
	if cfg.DefaultPredicate == "" {
		cfg.DefaultPredicate = hexbin.DefaultPredicate
	}
	return &SessionRegistry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
}

// Start starts the idle session cleaner.
func (r *SessionRegistry) Start() {
	r.wg.Add(1)
	go r.cleaner()
}

// Stop closes every session and stops the cleaner.
func (r *SessionRegistry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()

		r.mu.Lock()
		sessions := r.sessions
		r.sessions = make(map[string]*Session)
		r.mu.Unlock()

		for _, s := range sessions {
			r.close(s)
		}
		r.cfg.Metrics.SetActiveSessions(0)
	})
}

// Create opens a session. Its first graphics load uses the widget's current
// filter.
func (r *SessionRegistry) Create() (*Session, error) {
	r.mu.Lock()
	if len(r.sessions)+r.reserved >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return nil, ErrTooManySessions
	}
	r.reserved++
	r.mu.Unlock()

	filters, unsubscribe := r.cfg.Store.SubscribeFilter(r.cfg.WidgetID)
	predicate := r.cfg.Store.Filter(r.cfg.WidgetID)
	if predicate == "" {
		predicate = r.cfg.DefaultPredicate
	}

	in := r.cfg.NewInspector(predicate)
	in.Start()

	now := time.Now()
	s := &Session{
		ID:          uuid.NewString(),
		CreatedAt:   now,
		inspector:   in,
		unsubscribe: unsubscribe,
		done:        make(chan struct{}),
		lastSeen:    now,
	}
	go r.forward(s, filters)

	r.mu.Lock()
	r.reserved--
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()
	r.cfg.Metrics.SetActiveSessions(n)

	log.Printf("[Sessions] opened %s (predicate %q)", s.ID, predicate)
	return s, nil
}

// forward delivers filter snapshots until the subscription is closed.
func (r *SessionRegistry) forward(s *Session, filters <-chan string) {
	defer close(s.done)
	for where := range filters {
		if where == "" {
			where = r.cfg.DefaultPredicate
		}
		if err := s.inspector.FilterChanged(context.Background(), where); err != nil {
			if !errors.Is(err, hexbin.ErrClosed) {
				log.Printf("[Sessions] %s: filter change dropped: %v", s.ID, err)
			}
			return
		}
	}
}

// Get returns a session by ID, or nil if not found.
func (r *SessionRegistry) Get(id string) *Session {
	r.mu.Lock()
	s := r.sessions[id]
	r.mu.Unlock()
	if s != nil {
		s.touch()
	}
	return s
}

// Delete closes a session. It reports whether the session existed.
func (r *SessionRegistry) Delete(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.close(s)
	r.cfg.Metrics.SetActiveSessions(n)
	log.Printf("[Sessions] closed %s", id)
	return true
}

// IDs returns the open session IDs in sorted order.
func (r *SessionRegistry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *SessionRegistry) close(s *Session) {
	s.unsubscribe()
	s.inspector.Stop()
	<-s.done
}

func (r *SessionRegistry) cleaner() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

func (r *SessionRegistry) cleanup() {
	cutoff := time.Now().Add(-r.cfg.IdleTimeout)
	var expired []string
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.Delete(id)
	}
	if len(expired) > 0 {
		log.Printf("[Sessions] cleaned up %d idle sessions", len(expired))
	}
}

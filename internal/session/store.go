// Package session keeps bounded per-key conversation history in memory.
package session

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/feedback-ai/internal/domain"
)

const (
	DefaultWindow   = 3
	DefaultCapacity = 10000
	DefaultTTL      = 60 * time.Minute
)

// Session is a point-in-time copy of one conversation.
type Session struct {
	Key      string
	Turns    []domain.Turn
	LastUsed time.Time
}

type entry struct {
	key      string
	turns    []domain.Turn
	lastUsed time.Time
	refs     int
	gate     chan struct{}
	elem     *list.Element
}

// Store maps session keys to their retained turns.
// Least recently used sessions are evicted once capacity is exceeded and
// idle sessions are dropped by Sweep. Sessions with an outstanding Lease are
// never evicted.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	lru      *list.List // front = most recently used
	capacity int
	ttl      time.Duration
	window   int
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity bounds the number of live sessions.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithTTL sets how long an idle session survives a sweep.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithDefaultWindow sets the window used when a caller passes none.
func WithDefaultWindow(w int) Option {
	return func(s *Store) {
		if w > 0 {
			s.window = w
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		lru:      list.New(),
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		window:   DefaultWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultWindow returns the window applied when callers pass a non-positive one.
func (s *Store) DefaultWindow() int {
	return s.window
}

// GetOrCreate returns the session for key, registering an empty one if unseen.
func (s *Store) GetOrCreate(key string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreateLocked(key)
	return e.snapshot()
}

// Get returns the session for key without creating it.
func (s *Store) Get(key string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[key]
	if !ok {
		return Session{}, false
	}
	s.touchLocked(e)
	return e.snapshot(), true
}

// AppendTurn appends turns to the session and keeps only the newest window.
func (s *Store) AppendTurn(key string, window int, turns ...domain.Turn) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreateLocked(key)
	s.appendLocked(e, window, turns)
	return e.snapshot()
}

// Delete removes a session unless it is in use.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[key]
	if !ok || e.refs > 0 {
		return false
	}
	s.removeLocked(e)
	return true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Acquire takes the exclusive lease for key, waiting for any current holder.
// Leases on different keys never block each other.
func (s *Store) Acquire(ctx context.Context, key string) (*Lease, error) {
	s.mu.Lock()
	e := s.getOrCreateLocked(key)
	e.refs++
	s.mu.Unlock()

	select {
	case e.gate <- struct{}{}:
		return &Lease{store: s, e: e}, nil
	case <-ctx.Done():
		s.mu.Lock()
		e.refs--
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Sweep drops idle sessions older than the TTL and returns how many it removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for el := s.lru.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if e.refs == 0 && e.lastUsed.Before(cutoff) {
			s.removeLocked(e)
			removed++
		}
		el = prev
	}
	return removed
}

// Run sweeps expired sessions on every tick until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", s.ttl)

		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					slog.Info("Session sweeper removed idle sessions", "count", n, "remaining", s.Len())
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (s *Store) getOrCreateLocked(key string) *entry {
	if e, ok := s.sessions[key]; ok {
		s.touchLocked(e)
		return e
	}
	s.evictLocked(1)
	e := &entry{
		key:      key,
		lastUsed: s.now(),
		gate:     make(chan struct{}, 1),
	}
	e.elem = s.lru.PushFront(e)
	s.sessions[key] = e
	return e
}

func (s *Store) appendLocked(e *entry, window int, turns []domain.Turn) {
	if window <= 0 {
		window = s.window
	}
	e.turns = append(e.turns, turns...)
	if over := len(e.turns) - window; over > 0 {
		kept := make([]domain.Turn, window)
		copy(kept, e.turns[over:])
		e.turns = kept
	}
	s.touchLocked(e)
}

func (s *Store) touchLocked(e *entry) {
	e.lastUsed = s.now()
	s.lru.MoveToFront(e.elem)
}

// evictLocked removes least recently used idle sessions until reserve more
// sessions fit within capacity.
func (s *Store) evictLocked(reserve int) {
	for el := s.lru.Back(); el != nil && len(s.sessions)+reserve > s.capacity; {
		prev := el.Prev()
		if e := el.Value.(*entry); e.refs == 0 {
			s.removeLocked(e)
		}
		el = prev
	}
}

func (s *Store) removeLocked(e *entry) {
	s.lru.Remove(e.elem)
	delete(s.sessions, e.key)
}

func (e *entry) snapshot() Session {
	turns := make([]domain.Turn, len(e.turns))
	copy(turns, e.turns)
	return Session{Key: e.key, Turns: turns, LastUsed: e.lastUsed}
}

// Lease is exclusive access to one session's history.
type Lease struct {
	store *Store
	e     *entry
	once  sync.Once
}

// Key returns the leased session key.
func (l *Lease) Key() string {
	return l.e.key
}

// Turns returns a copy of the retained turns in chronological order.
func (l *Lease) Turns() []domain.Turn {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return l.e.snapshot().Turns
}

// Append adds turns and truncates to the newest window.
func (l *Lease) Append(window int, turns ...domain.Turn) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	l.store.appendLocked(l.e, window, turns)
}

// Release returns the lease. Calling it more than once is a no-op.
func (l *Lease) Release() {
	l.once.Do(func() {
		<-l.e.gate
		l.store.mu.Lock()
		l.e.refs--
		l.store.touchLocked(l.e)
		l.store.evictLocked(0)
		l.store.mu.Unlock()
	})
}

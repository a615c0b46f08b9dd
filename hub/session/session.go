// Package session issues and tracks the short-lived tokens web operators use
// after authenticating.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultIdleTimeout is how long a session may go without a successful command.
const DefaultIdleTimeout = 30 * time.Minute

// ErrTooManySessions is returned by Create when the configured cap is reached.
var ErrTooManySessions = errors.New("session: too many active sessions")

// Session is one authenticated web operator.
type Session struct {
	ID              string
	AuthenticatedAt time.Time
	LastActivityAt  time.Time
}

// Options configures a Store.
type Options struct {
	IdleTimeout time.Duration          // defaults to DefaultIdleTimeout
	MaxSessions int                    // 0 = unlimited
	Now         func() time.Time       // defaults to time.Now
	OnExpire    func(expired []string) // called after a sweep evicts sessions, outside the lock
	Logger      *slog.Logger
}

// Store is the in-memory session table.
type Store struct {
	ttl      time.Duration
	max      int
	now      func() time.Time
	onExpire func([]string)
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		ttl:      opts.IdleTimeout,
		max:      opts.MaxSessions,
		now:      opts.Now,
		onExpire: opts.OnExpire,
		logger:   opts.Logger.With("component", "sessions"),
		sessions: make(map[string]*Session),
	}
}

// Create issues a new random token.
func (s *Store) Create() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.max > 0 && len(s.sessions) >= s.max {
		return "", ErrTooManySessions
	}
	s.sessions[id.String()] = &Session{
		ID:              id.String(),
		AuthenticatedAt: now,
		LastActivityAt:  now,
	}
	return id.String(), nil
}

// Validate reports whether token names a live session. It never refreshes
// activity; a session idle past the timeout is invalid even before a sweep
// removes it.
func (s *Store) Validate(token string) bool {
	if token == "" {
		return false
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return false
	}
	return now.Sub(sess.LastActivityAt) <= s.ttl
}

// Touch records activity on a session.
func (s *Store) Touch(token string) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return false
	}
	sess.LastActivityAt = now
	return true
}

// Get returns a copy of the session.
func (s *Store) Get(token string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Sweep removes every session idle for longer than the timeout as of now and
// returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	var expired []string

	s.mu.Lock()
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivityAt) > s.ttl {
			delete(s.sessions, id)
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	if len(expired) > 0 && s.onExpire != nil {
		s.onExpire(expired)
	}
	return len(expired)
}

// StartSweeper runs Sweep every interval until ctx is done.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(s.now()); n > 0 {
					s.logger.Info("expired idle sessions", "count", n, "remaining", s.Len())
				}
			}
		}
	}()
}

// Len returns the number of stored sessions, including expired ones that have
// not been swept yet.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

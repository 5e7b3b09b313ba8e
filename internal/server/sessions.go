package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"quizzify/internal/helper"
	"quizzify/internal/models"
	"quizzify/internal/quiz"
)

const DefaultSessionTTL = time.Hour

// session owns one navigator; mu serializes the requests of that session
type session struct {
	mu       sync.Mutex
	nav      *quiz.Navigator
	answers  map[int]string
	lastUsed atomic.Int64
}

// Sessions is an in-memory registry of quiz sessions. Nothing survives a restart.
// A session idle for longer than ttl is dropped.
type Sessions struct {
	mu    sync.RWMutex
	items map[string]*session
	ttl   time.Duration
	now   func() time.Time
}

func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{items: make(map[string]*session), ttl: ttl, now: time.Now}
}

// Create registers a navigator over bank and returns the session id
func (s *Sessions) Create(bank *models.QuizBank) (string, error) {
	nav, err := quiz.NewNavigator(bank)
	if err != nil {
		return "", err
	}
	id, err := helper.NewName("session")
	if err != nil {
		return "", err
	}

	sess := &session{nav: nav, answers: make(map[int]string)}
	sess.lastUsed.Store(s.now().UnixNano())
	s.mu.Lock()
	s.items[id] = sess
	s.mu.Unlock()
	return id, nil
}

// With runs fn while holding the session lock. Expired sessions are not found.
func (s *Sessions) With(id string, fn func(*session)) bool {
	s.mu.RLock()
	sess, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	now := s.now()
	if s.expired(sess, now) {
		s.Delete(id)
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastUsed.Store(now.UnixNano())
	fn(sess)
	return true
}

func (s *Sessions) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Sessions) expired(sess *session, now time.Time) bool {
	return now.Sub(time.Unix(0, sess.lastUsed.Load())) > s.ttl
}

// Sweep drops every session idle longer than the ttl and returns how many it dropped
func (s *Sessions) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for id, sess := range s.items {
		if s.expired(sess, now) {
			delete(s.items, id)
			dropped++
		}
	}
	return dropped
}

// Expire sweeps on every interval until ctx is done
func (s *Sessions) Expire(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Info().Int("dropped", n).Int("open", s.Len()).Msg("Expired idle sessions")
			}
		}
	}
}

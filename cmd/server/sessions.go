package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lukeponga-dev/rotorwise/engine/controller"
)

const (
	sessionCookie = "rotorwise_session"

	// maxSessionAge is the idle time before a session is evicted. Evicting a
	// session releases its attachment previews; history and the credential
	// are shared and unaffected.
	maxSessionAge   = 30 * time.Minute
	janitorInterval = 5 * time.Minute
)

type sessionKey struct{}

// sessionMiddleware assigns each browser a session cookie so every request
// carries a stable session id.
func sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
			id = c.Value
		} else {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

type session struct {
	ctrl     *controller.Controller
	lastSeen time.Time
}

// sessionManager hands out one controller per browser session and evicts
// sessions that have gone idle.
type sessionManager struct {
	mu       sync.Mutex
	sessions map[string]*session
	create   func() *controller.Controller
}

func newSessionManager(create func() *controller.Controller) *sessionManager {
	return &sessionManager{
		sessions: make(map[string]*session),
		create:   create,
	}
}

// GetOrCreate returns the controller for the session, creating it on first use.
func (m *sessionManager) GetOrCreate(id string) *controller.Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = &session{ctrl: m.create()}
		m.sessions[id] = s
	}
	s.lastSeen = time.Now()
	return s.ctrl
}

// Len reports the number of live sessions.
func (m *sessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *sessionManager) purge(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for id, s := range m.sessions {
		if s.lastSeen.Before(cutoff) {
			s.ctrl.Attachments().Clear()
			delete(m.sessions, id)
		}
	}
}

// startJanitor evicts idle sessions until ctx is done.
func (m *sessionManager) startJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.purge(maxSessionAge)
			}
		}
	}()
}

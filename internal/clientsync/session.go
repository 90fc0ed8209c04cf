package clientsync

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
)

var ErrSessionClosed = errors.New("session is closed")

// Session is the signed-in viewer. It is opened after authentication and
// closed on logout; every mirror and backend call reads identity from it.
type Session struct {
	mu     sync.RWMutex
	actor  appointment.Actor
	token  string
	closed bool
}

func Open(actor appointment.Actor, token string) (*Session, error) {
	if !actor.Role.Valid() {
		return nil, fmt.Errorf("open session: unknown role %q", actor.Role)
	}
	if actor.ID == uuid.Nil {
		return nil, errors.New("open session: empty actor id")
	}
	return &Session{actor: actor, token: token}, nil
}

// OpenToken opens a session from a bearer token issued by the server.
// The signature is not checked here, the server verifies it on every call.
func OpenToken(raw string) (*Session, error) {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("open session: subject is not a uuid")
	}
	return Open(appointment.Actor{ID: id, Role: appointment.Role(claims.Role)}, raw)
}

func (s *Session) Actor() appointment.Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actor
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Close drops the credentials. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.token = ""
}

func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

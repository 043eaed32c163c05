package auth

import (
	"context"
	"sync"

	"github.com/immxrtalbeast/streamroom/internal/domain"
)

// Session tracks who is signed in on one client. Listeners see every change,
// including the sign-out that ends a room visit.
type Session struct {
	svc *Service

	mu        sync.Mutex
	identity  *Identity
	listeners map[int]func(*domain.Principal)
	next      int
}

func NewSession(svc *Service) *Session {
	return &Session{svc: svc, listeners: make(map[int]func(*domain.Principal))}
}

// OnAuthStateChange calls fn with the current principal (nil when signed
// out) and again after every change. The returned func unsubscribes.
func (s *Session) OnAuthStateChange(fn func(*domain.Principal)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.listeners[id] = fn
	current := s.principalLocked()
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) Current() *domain.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principalLocked()
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.Token
}

func (s *Session) SignIn(ctx context.Context, email, password string) error {
	identity, err := s.svc.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	s.set(identity)
	return nil
}

func (s *Session) SignUp(ctx context.Context, email, password, displayName string) error {
	identity, err := s.svc.SignUp(ctx, email, password, displayName)
	if err != nil {
		return err
	}
	s.set(identity)
	return nil
}

func (s *Session) SignInWithFederatedProvider(ctx context.Context, assertion string) error {
	identity, err := s.svc.SignInFederated(ctx, assertion)
	if err != nil {
		return err
	}
	s.set(identity)
	return nil
}

// Restore signs in from a previously issued bearer token.
func (s *Session) Restore(token string) error {
	principal, err := s.svc.Verify(token)
	if err != nil {
		return err
	}
	s.set(&Identity{Principal: principal, Token: token})
	return nil
}

func (s *Session) UpdateDisplayName(ctx context.Context, displayName string) error {
	current := s.Current()
	if current == nil {
		return ErrUnauthenticated
	}
	identity, err := s.svc.UpdateDisplayName(ctx, current.UID, displayName)
	if err != nil {
		return err
	}
	s.set(identity)
	return nil
}

// SignOut is a no-op when nobody is signed in.
func (s *Session) SignOut() {
	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.set(nil)
}

func (s *Session) set(identity *Identity) {
	s.mu.Lock()
	s.identity = identity
	current := s.principalLocked()
	listeners := make([]func(*domain.Principal), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(current)
	}
}

func (s *Session) principalLocked() *domain.Principal {
	if s.identity == nil {
		return nil
	}
	p := *s.identity.Principal
	return &p
}

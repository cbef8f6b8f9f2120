// Package identity exposes the signed-in principal and auth-change events.
package identity

import (
	"context"
	"slices"
	"sync"

	"github.com/Avicted/roomchat/internal/message"
)

type Principal struct {
	UserID string
	Email  string
}

// Label is the display name attached to outgoing messages.
func (p Principal) Label() string {
	return message.LabelFor(p.Email)
}

type EventKind int

const (
	SignedIn EventKind = iota + 1
	SignedOut
)

func (k EventKind) String() string {
	switch k {
	case SignedIn:
		return "signed_in"
	case SignedOut:
		return "signed_out"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind      EventKind
	Principal Principal
}

type Provider interface {
	CurrentPrincipal(ctx context.Context) (Principal, bool)
	// OnAuthChange registers fn for every later change. The returned func
	// deregisters it.
	OnAuthChange(fn func(Event)) func()
}

type listener struct {
	id uint64
	fn func(Event)
}

// Sessions is an in-memory Provider fed by the login flow.
type Sessions struct {
	mu        sync.Mutex
	principal *Principal
	listeners []listener
	nextID    uint64
}

func NewSessions() *Sessions {
	return &Sessions{}
}

func (s *Sessions) CurrentPrincipal(_ context.Context) (Principal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.principal == nil {
		return Principal{}, false
	}
	return *s.principal, true
}

// SignIn replaces the current principal and notifies listeners.
func (s *Sessions) SignIn(p Principal) {
	s.mu.Lock()
	s.principal = &p
	fns := s.listenersLocked()
	s.mu.Unlock()

	emit(fns, Event{Kind: SignedIn, Principal: p})
}

// SignOut clears the principal. It is a no-op when nobody is signed in.
func (s *Sessions) SignOut() {
	s.mu.Lock()
	if s.principal == nil {
		s.mu.Unlock()
		return
	}
	prev := *s.principal
	s.principal = nil
	fns := s.listenersLocked()
	s.mu.Unlock()

	emit(fns, Event{Kind: SignedOut, Principal: prev})
}

func (s *Sessions) OnAuthChange(fn func(Event)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.listeners = slices.DeleteFunc(s.listeners, func(l listener) bool { return l.id == id })
		})
	}
}

func (s *Sessions) listenersLocked() []func(Event) {
	fns := make([]func(Event), 0, len(s.listeners))
	for _, l := range s.listeners {
		fns = append(fns, l.fn)
	}
	return fns
}

func emit(fns []func(Event), ev Event) {
	for _, fn := range fns {
		fn(ev)
	}
}

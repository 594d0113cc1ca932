package service

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/okian/lunchvote/internal/domain/model"
)

// Session is one user's handle on the service: a network origin plus an
// optional username that, once set, cannot be changed.
type Session struct {
	svc    *Service
	origin string

	mu       sync.RWMutex
	username string
}

// NewSession creates a session for a client at origin.
func NewSession(svc *Service, origin string) *Session {
	return &Session{svc: svc, origin: origin}
}

// SetUsername fixes the session identity. Setting the same name again is
// allowed; a different name is refused.
func (s *Session) SetUsername(name string) error {
	if name == "" {
		return ErrNoIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.username {
	case "":
		s.username = name
		return nil
	case name:
		return nil
	default:
		return ErrIdentityLocked
	}
}

// Identity returns what the session knows about itself.
func (s *Session) Identity() model.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Identity{Username: s.username, Origin: s.origin}
}

// View resolves the current view for this session.
func (s *Session) View() model.View {
	return s.svc.View(s.Identity())
}

// Watch delivers a view for this session after every change.
func (s *Session) Watch(fn func(model.View)) func() {
	return s.svc.Watch(s.Identity, fn)
}

// CheckIn checks name in and fixes it as the session username. A refused
// check-in leaves an unset username free for another attempt.
func (s *Session) CheckIn(ctx context.Context, name string) error {
	if name == "" {
		return ErrNoIdentity
	}
	if cur := s.Identity().Username; cur != "" && cur != name {
		return ErrIdentityLocked
	}
	err := s.svc.CheckIn(ctx, name, s.origin)
	if err != nil && !errors.Is(err, ErrNotify) {
		return err
	}
	if serr := s.SetUsername(name); serr != nil {
		return serr
	}
	return err
}

// CheckOut checks the session user out.
func (s *Session) CheckOut(ctx context.Context) error {
	me, err := s.me()
	if err != nil {
		return err
	}
	return s.svc.CheckOut(ctx, me)
}

// Vote casts approve on the option currently open for voting.
func (s *Session) Vote(ctx context.Context, approve bool) error {
	me, err := s.me()
	if err != nil {
		return err
	}
	view := s.View()
	if view.Current == nil || !view.Current.Status.Open() {
		return ErrNoActiveOption
	}
	return s.svc.CastVote(ctx, VoteRequest{Username: me, OptionID: view.Current.Option.ID, Approve: &approve})
}

func (s *Session) me() (string, error) {
	if id := s.Identity(); id.Username != "" {
		return id.Username, nil
	}
	if me := s.View().Me; me != nil {
		return me.Username, nil
	}
	return "", ErrUnknownParticipant
}

// LocalAddress returns the first non-loopback IPv4 address of this host, or
// the loopback address when there is none.
func LocalAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}

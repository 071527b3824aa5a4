package session

import (
	"context"
	"fmt"
)

// Status asks the server for the active player's status and returns the
// state once the reply has been applied.
func (s *Session) Status(ctx context.Context) (PlayerState, error) {
	if !s.Connected() {
		return PlayerState{}, ErrNotConnected
	}
	if s.player.id() == "" {
		return PlayerState{}, ErrNoPlayer
	}

	ch := make(chan PlayerState, 1)
	s.waitMu.Lock()
	s.statusWaiters = append(s.statusWaiters, ch)
	s.waitMu.Unlock()
	defer s.dropStatusWaiter(ch)

	lost := make(chan struct{}, 1)
	remove := s.AddListener(Listener{Connection: func(connected, _ bool) {
		if !connected {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	}})
	defer remove()

	s.requestStatus()
	select {
	case st := <-ch:
		return st, nil
	case <-lost:
		return PlayerState{}, fmt.Errorf("status: %w", ErrNotConnected)
	case <-ctx.Done():
		return PlayerState{}, ctx.Err()
	}
}

func (s *Session) releaseStatusWaiters(st PlayerState) {
	s.waitMu.Lock()
	waiters := s.statusWaiters
	s.statusWaiters = nil
	s.waitMu.Unlock()
	for _, ch := range waiters {
		ch <- st
	}
}

func (s *Session) dropStatusWaiter(ch chan PlayerState) {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	for i, w := range s.statusWaiters {
		if w == ch {
			s.statusWaiters = append(s.statusWaiters[:i], s.statusWaiters[i+1:]...)
			return
		}
	}
}

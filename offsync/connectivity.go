// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import "sync"

// Connectivity reports whether the host environment currently has a network
// path to the remote service. The executor and scheduler consult it before
// attempting remote work.
type Connectivity interface {
	Online() bool
}

// Signal is an in-process connectivity source. The host environment feeds it
// transitions via Set; subscribers are notified when the state changes, which
// the client uses to trigger an immediate drain on the offline-to-online edge.
type Signal struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(online bool)
}

// NewSignal creates a connectivity signal with the given initial state.
func NewSignal(online bool) *Signal {
	return &Signal{
		online: online,
		subs:   make(map[int]func(online bool)),
	}
}

// Online reports the current connectivity state.
func (s *Signal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set updates the connectivity state and notifies subscribers on change.
// Callbacks run synchronously on the caller's goroutine.
func (s *Signal) Set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	subs := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers a callback for state changes and returns a function
// that removes the subscription.
func (s *Signal) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

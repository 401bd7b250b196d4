// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package co

import "sync"

// Waiter provides a channel to wait on. The value read is true for a
// single Signal, false for a Broadcast.
type Waiter interface {
	C() <-chan bool
}

// Signal is a channel-based rendezvous point for goroutines waiting for
// or announcing an event. Unlike sync.Cond it composes with select.
type Signal struct {
	l  sync.Mutex
	ch chan bool
}

func (s *Signal) init() {
	if s.ch == nil {
		s.ch = make(chan bool, 1)
	}
}

// Signal wakes one waiting goroutine.
func (s *Signal) Signal() {
	s.l.Lock()
	defer s.l.Unlock()
	s.init()
	select {
	case s.ch <- true:
	default:
	}
}

// Broadcast wakes all waiting goroutines.
func (s *Signal) Broadcast() {
	s.l.Lock()
	defer s.l.Unlock()
	s.init()
	close(s.ch)
	s.ch = make(chan bool, 1)
}

// NewWaiter creates a Waiter bound to this signal.
func (s *Signal) NewWaiter() Waiter {
	s.l.Lock()
	defer s.l.Unlock()
	s.init()
	ref := s.ch
	return waiterFunc(func() <-chan bool {
		ch := ref
		s.l.Lock()
		ref = s.ch
		s.l.Unlock()
		return ch
	})
}

type waiterFunc func() <-chan bool

func (w waiterFunc) C() <-chan bool { return w() }

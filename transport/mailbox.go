// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package transport implements job.Transport
// in-process (Network) and between processes
// over HTTP (Peer).
package transport

import (
	"sync"
	"time"
)

// DefaultHoldFor is the default for Mailbox.HoldFor.
const DefaultHoldFor = 2 * time.Minute

// Mailbox dispatches inbound messages to the
// handlers registered at one Location.
//
// Messages for a tag without a handler are held
// and handed over, in order, by Register. Handlers
// are called with the mailbox lock held, so
// messages for one tag are delivered one at a
// time in arrival order; a handler must not
// block or call back into the mailbox.
//
// Messages for a tag that was unregistered are
// dropped. Held messages and closed tags are
// forgotten after HoldFor.
type Mailbox struct {
	// HoldFor bounds how long messages for an
	// unregistered tag are held, and how long
	// a closed tag keeps dropping messages.
	// Zero means DefaultHoldFor.
	HoldFor time.Duration

	lock     sync.Mutex
	handlers map[string]func([]byte)
	pending  map[string]*held
	closed   map[string]time.Time
	swept    time.Time
	dropped  int
}

type held struct {
	since time.Time
	msgs  [][]byte
}

func (m *Mailbox) init() {
	if m.handlers == nil {
		m.handlers = make(map[string]func([]byte))
		m.pending = make(map[string]*held)
		m.closed = make(map[string]time.Time)
	}
}

func (m *Mailbox) holdFor() time.Duration {
	if m.HoldFor > 0 {
		return m.HoldFor
	}
	return DefaultHoldFor
}

// sweep forgets expired held messages and
// closed tags; it runs at most once per
// HoldFor.
func (m *Mailbox) sweep(now time.Time) {
	hold := m.holdFor()
	if now.Sub(m.swept) < hold {
		return
	}
	m.swept = now
	for tag, h := range m.pending {
		if now.Sub(h.since) >= hold {
			m.dropped += len(h.msgs)
			delete(m.pending, tag)
		}
	}
	for tag, when := range m.closed {
		if now.Sub(when) >= hold {
			delete(m.closed, tag)
		}
	}
}

// Deliver hands msg to the handler for tag,
// holds it until one is registered, or drops
// it if tag has been unregistered.
func (m *Mailbox) Deliver(tag string, msg []byte) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.init()
	if fn := m.handlers[tag]; fn != nil {
		fn(msg)
		return
	}
	now := time.Now()
	m.sweep(now)
	if _, ok := m.closed[tag]; ok {
		m.dropped++
		return
	}
	h := m.pending[tag]
	if h == nil {
		h = &held{since: now}
		m.pending[tag] = h
	}
	h.msgs = append(h.msgs, msg)
}

func (m *Mailbox) Register(tag string, fn func([]byte)) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.init()
	m.handlers[tag] = fn
	delete(m.closed, tag)
	if h := m.pending[tag]; h != nil {
		for _, msg := range h.msgs {
			fn(msg)
		}
		delete(m.pending, tag)
	}
}

// Unregister removes the handler for tag
// along with anything held for it. Later
// messages for tag are dropped.
func (m *Mailbox) Unregister(tag string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.init()
	delete(m.handlers, tag)
	if h := m.pending[tag]; h != nil {
		m.dropped += len(h.msgs)
		delete(m.pending, tag)
	}
	m.closed[tag] = time.Now()
}

// Held returns the number of messages
// held for tags without a handler.
func (m *Mailbox) Held() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.init()
	m.sweep(time.Now())
	n := 0
	for _, h := range m.pending {
		n += len(h.msgs)
	}
	return n
}

// Dropped returns the number of messages
// discarded without being delivered.
func (m *Mailbox) Dropped() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.dropped
}

// Copyright 2018 Comcast Cable Communications Management, LLC
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package deadline implements DeadlineMap: a bounded-memory PullID->AckToken
// mapping with a time-based two-generation eviction policy, so a
// ConsumerTask can correlate a pipeline-assigned pull id with the
// server-issued ack token that names it, without keeping a per-entry timer
// around or growing without bound across a long-lived stream.
package deadline

import (
	"sync"
	"time"
)

// Map holds at most two generations ("blue" and "green") of PullID->AckToken
// entries. Every insert lands in green; once green has been open at least
// deadline, the next insert rotates blue out (discarded) and green in
// (becomes the new blue), opening a fresh, empty green. A single lock
// guards both generations since Insert and Remove both mutate on the
// common path and contention is expected to be low: in steady state both
// are called from the same ConsumerTask.
type Map struct {
	mu          sync.Mutex
	deadline    time.Duration
	greenOpened time.Time
	blue        map[uint64]string
	green       map[uint64]string
}

// New returns a Map whose green generation opens at now.
func New(deadlineWindow time.Duration, now time.Time) *Map {
	return &Map{
		deadline:    deadlineWindow,
		greenOpened: now,
		blue:        make(map[uint64]string),
		green:       make(map[uint64]string),
	}
}

// Insert records pullID -> token, rotating generations first if green has
// been open at least deadline. pullID is assumed unique within this Map's
// lifetime (ConsumerTask hands out a strictly increasing counter), so it
// can never already be present in blue when it's inserted into green.
func (m *Map) Insert(pullID uint64, token string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rotateLocked(now)
	m.green[pullID] = token
}

// Remove looks up pullID in green, then blue, removing and returning the
// token if found in either.
func (m *Map) Remove(pullID uint64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token, ok := m.green[pullID]; ok {
		delete(m.green, pullID)
		return token, true
	}
	if token, ok := m.blue[pullID]; ok {
		delete(m.blue, pullID)
		return token, true
	}
	return "", false
}

// rotateLocked discards blue and promotes green to blue, opening a fresh
// green, for every full deadline window that has elapsed since green was
// last opened. Must be called with m.mu held.
//
// A single rotation only covers one deadline window; if Insert isn't
// called again until more than one window has passed (the caller was idle,
// or, in the eviction scenario this guards against, a burst of acks
// arrived instead of new pulls for a while), one rotation would leave
// entries older than 2x the deadline sitting in blue, stale but still
// reachable by Remove. Looping here, advancing the watermark by one
// deadline at a time instead of jumping straight to now, collapses
// however many windows elapsed so that nothing outlives its two-generation
// bound.
func (m *Map) rotateLocked(now time.Time) {
	if m.deadline <= 0 {
		return
	}
	for now.Sub(m.greenOpened) >= m.deadline {
		m.blue = m.green
		m.green = make(map[uint64]string)
		m.greenOpened = m.greenOpened.Add(m.deadline)
	}
}

// Len reports the combined size of both generations, for tests and metrics;
// it is not part of the insert/remove/rotate contract.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blue) + len(m.green)
}

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

package deadline

import (
	"testing"
	"time"
)

var epoch = time.Unix(0, 0)

func at(seconds float64) time.Time {
	return epoch.Add(time.Duration(seconds * float64(time.Second)))
}

func TestInsertRemove_Basic(t *testing.T) {
	m := New(time.Second, at(0))
	m.Insert(1, "A", at(0))

	token, ok := m.Remove(1)
	if !ok || token != "A" {
		t.Fatalf("Remove(1) = (%q, %v); want (\"A\", true)", token, ok)
	}

	if _, ok := m.Remove(1); ok {
		t.Fatalf("Remove(1) after first remove should miss")
	}
}

func TestRemove_UnknownID(t *testing.T) {
	m := New(time.Second, at(0))
	if _, ok := m.Remove(999); ok {
		t.Fatalf("Remove(999) on empty map should miss")
	}
}

// TestDeadlineEviction checks that an entry surviving past two full
// deadline windows is evicted: insert (1, "A") at t=0 with deadline=1s;
// at t=2.1s insert (2, "B") triggers rotation; remove(1) misses (evicted),
// remove(2) hits.
func TestDeadlineEviction(t *testing.T) {
	m := New(time.Second, at(0))
	m.Insert(1, "A", at(0))
	m.Insert(2, "B", at(2.1))

	if _, ok := m.Remove(1); ok {
		t.Fatalf("Remove(1) should have been evicted by rotation")
	}
	token, ok := m.Remove(2)
	if !ok || token != "B" {
		t.Fatalf("Remove(2) = (%q, %v); want (\"B\", true)", token, ok)
	}
}

func TestRotation_SurvivesOneWindow(t *testing.T) {
	// An entry inserted just before a rotation should still be reachable
	// (it moves into blue, not discarded) as long as no second rotation
	// has happened yet.
	m := New(time.Second, at(0))
	m.Insert(1, "A", at(0))
	m.Insert(2, "B", at(1.5)) // one rotation: blue={1:"A"}, green={2:"B"}

	token, ok := m.Remove(1)
	if !ok || token != "A" {
		t.Fatalf("Remove(1) = (%q, %v); want (\"A\", true): should survive exactly one rotation", token, ok)
	}
}

func TestLen_BoundedByTwoGenerations(t *testing.T) {
	m := New(time.Second, at(0))
	for i := uint64(1); i <= 5; i++ {
		m.Insert(i, "tok", at(0))
	}
	if got := m.Len(); got != 5 {
		t.Fatalf("Len() = %d; want 5", got)
	}

	// Rotate once; the 5 entries move to blue, green starts fresh.
	m.Insert(6, "tok", at(1.1))
	if got := m.Len(); got != 6 {
		t.Fatalf("Len() = %d; want 6 (5 in blue + 1 in green)", got)
	}

	// Rotate again; blue (the original 5) is discarded.
	m.Insert(7, "tok", at(2.2))
	if got := m.Len(); got != 2 {
		t.Fatalf("Len() = %d; want 2 (entry 6 now in blue, entry 7 in green)", got)
	}
}

func TestConcurrentInsertRemove(t *testing.T) {
	m := New(100*time.Millisecond, at(0))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(0); i < 1000; i++ {
			m.Insert(i, "tok", at(0))
		}
	}()
	for i := uint64(0); i < 1000; i++ {
		m.Remove(i)
	}
	<-done
}

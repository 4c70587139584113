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

// Package clientid builds the client_id identity a ConsumerTask sends on
// the wire and attaches to its own log lines: hostname, a caller-supplied
// alias, and a monotonic counter, unique within this process.
package clientid

import (
	"fmt"
	"os"
	"sync/atomic"
)

var counter atomic.Uint64

// New returns a client_id unique within this process: hostname (falling
// back to "unknown" if it can't be determined), the connector alias, and a
// monotonic counter, since Go has no stable per-goroutine identifier to
// borrow.
func New(alias string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	n := counter.Add(1)
	return fmt.Sprintf("gpubsub-%s-%s-%d", host, alias, n)
}

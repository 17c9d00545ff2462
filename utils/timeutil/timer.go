// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package timeutil

import (
	"sync"
	"time"
)

// Timer wraps a time.Timer with explicit Start/Cancel semantics, so callers
// don't need to track whether the timer is currently running.
type Timer struct {
	mu      sync.Mutex
	d       time.Duration
	t       *time.Timer
	running bool

	C <-chan time.Time
}

// NewTimer creates a Timer which fires d after Start is called. The timer
// does not start running until Start is called.
func NewTimer(d time.Duration) *Timer {
	return &Timer{d: d, C: make(chan time.Time)}
}

// Start starts the timer if it is not already running. Returns true if the
// timer was started by this call.
func (t *Timer) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	t.t = time.NewTimer(t.d)
	t.C = t.t.C
	t.running = true
	return true
}

// Cancel stops the timer if it is running. Returns true if the timer was
// stopped by this call.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return false
	}
	t.running = false
	return t.t.Stop()
}

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

// Package backoff implements a simple exponential backoff schedule, used to
// pace retransmissions of requests which may be dropped or delayed.
package backoff

import (
	"errors"
	"math/rand"
	"time"
)

// ErrRetryTimeout is returned by Attempts.Err once RetryTimeout has elapsed
// without a successful attempt.
var ErrRetryTimeout = errors.New("backoff: retry timeout exceeded")

// Config defines an exponential backoff schedule.
type Config struct {
	// Min is the wait before the second attempt. The first attempt is
	// always immediate.
	Min time.Duration

	// Max caps the wait between any two attempts. Defaults to Min if unset.
	Max time.Duration

	// Factor is multiplied into the wait duration after each attempt.
	// Defaults to 2 if unset.
	Factor float64

	// NoJitter disables randomizing the wait duration. Useful for
	// deterministic tests.
	NoJitter bool

	// RetryTimeout bounds the total time spent retrying. Once exceeded, no
	// further attempts are made.
	RetryTimeout time.Duration
}

func (c Config) applyDefaults() Config {
	if c.Factor == 0 {
		c.Factor = 2
	}
	if c.Max == 0 {
		c.Max = c.Min
	}
	return c
}

// Backoff generates Attempts iterators which obey Config's schedule.
type Backoff struct {
	config Config
}

// New creates a new Backoff.
func New(config Config) *Backoff {
	return &Backoff{config: config.applyDefaults()}
}

// Attempts returns a fresh retry iterator. Call WaitForNext in a loop:
//
//	a := b.Attempts()
//	for a.WaitForNext() {
//	    if err := doRequest(); err == nil {
//	        break
//	    }
//	}
//	if a.Err() != nil {
//	    // retry timeout exceeded
//	}
func (b *Backoff) Attempts() *Attempts {
	return &Attempts{
		config:   b.config,
		deadline: time.Now().Add(b.config.RetryTimeout),
		next:     b.config.Min,
	}
}

// Attempts is a stateful iterator over a single retry schedule.
type Attempts struct {
	config   Config
	deadline time.Time
	next     time.Duration
	started  bool
	err      error
}

// WaitForNext blocks until the next attempt is due and returns true, or
// returns false if RetryTimeout has elapsed. The very first call always
// returns true immediately, with no wait.
func (a *Attempts) WaitForNext() bool {
	if !a.started {
		a.started = true
		return true
	}

	wait := a.next
	if a.config.Max > 0 && wait > a.config.Max {
		wait = a.config.Max
	}
	if !a.config.NoJitter {
		wait = time.Duration(rand.Int63n(int64(wait) + 1))
	}

	if time.Now().Add(wait).After(a.deadline) {
		a.err = ErrRetryTimeout
		return false
	}

	time.Sleep(wait)
	a.next = time.Duration(float64(a.next) * a.config.Factor)
	return true
}

// Err returns the error which terminated the last WaitForNext call, if any.
func (a *Attempts) Err() error {
	return a.err
}

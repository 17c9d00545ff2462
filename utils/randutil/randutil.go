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

// Package randutil provides randomized test fixtures: text blobs, loopback
// IPs, ephemeral ports, jittered durations.
package randutil

import (
	"fmt"
	"math/rand"
	"time"
)

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Text returns size random ASCII bytes.
func Text(size uint64) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return b
}

// IP returns a random loopback-range IP address, suitable for fixtures which
// need a syntactically valid but non-routable address.
func IP() string {
	return fmt.Sprintf("127.%d.%d.%d", rand.Intn(256), rand.Intn(256), rand.Intn(256))
}

// Port returns a random port in the ephemeral range.
func Port() int {
	return 49152 + rand.Intn(65535-49152)
}

// Duration returns a random duration in [0, max).
func Duration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// ShuffleInt64s shuffles xs in place.
func ShuffleInt64s(xs []int64) {
	rand.Shuffle(len(xs), func(i, j int) {
		xs[i], xs[j] = xs[j], xs[i]
	})
}

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
package connstate

import (
	"context"
	"sync"

	"github.com/pxqr/network-bittorrent/core"
)

// Admission enforces the admission protocol for new peer connection
// attempts: a client-wide thread permit must be acquired before a per-torrent
// vacancy permit, and both are released in reverse order on every exit path
// (success, failure, or context cancellation). This bounds the number of
// concurrent handshake attempts both globally and per-torrent, independent of
// how many connections each torrent is ultimately allowed to hold.
//
// Unlike State, Admission is safe for concurrent use -- it is acquired from
// the goroutines that perform the handshake I/O, not from the event loop.
type Admission struct {
	threadPermits chan struct{}

	mu            sync.Mutex
	vacancy       map[core.InfoHash]chan struct{}
	perTorrentCap int
}

func newAdmission(maxGlobalConns, maxPerTorrent int) *Admission {
	return &Admission{
		threadPermits: make(chan struct{}, maxGlobalConns),
		vacancy:       make(map[core.InfoHash]chan struct{}),
		perTorrentCap: maxPerTorrent,
	}
}

func (a *Admission) vacancyPermits(h core.InfoHash) chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	vp, ok := a.vacancy[h]
	if !ok {
		vp = make(chan struct{}, a.perTorrentCap)
		a.vacancy[h] = vp
	}
	return vp
}

// Wait acquires a client-wide thread permit, then a vacancy permit for h, in
// that order, blocking until both are available or ctx is done. The returned
// release func must be called exactly once to release both permits, in
// reverse order.
func (a *Admission) Wait(ctx context.Context, h core.InfoHash) (release func(), err error) {
	select {
	case a.threadPermits <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	vp := a.vacancyPermits(h)
	select {
	case vp <- struct{}{}:
	case <-ctx.Done():
		<-a.threadPermits
		return nil, ctx.Err()
	}

	return func() {
		<-vp
		<-a.threadPermits
	}, nil
}

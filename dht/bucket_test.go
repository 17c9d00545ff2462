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
package dht

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pxqr/network-bittorrent/core"
)

func node(b byte) core.PeerID {
	var id core.PeerID
	id[0] = b
	return id
}

type fakePinger struct {
	alive map[core.PeerID]bool
}

func (p *fakePinger) Ping(id core.PeerID) bool {
	return p.alive[id]
}

func TestBucketInsertReseenMovesToTail(t *testing.T) {
	require := require.New(t)

	b := NewBucket(3, nil)
	b.Insert(node(1))
	b.Insert(node(2))
	b.Insert(node(3))

	// Re-inserting an existing node moves it to the tail without pinging,
	// freeing the head for the next eviction decision.
	b.Insert(node(1))

	require.Equal([]core.PeerID{node(2), node(3), node(1)}, b.nodes)
}

func TestBucketInsertFullPingsHeadAliveDropsNew(t *testing.T) {
	require := require.New(t)

	pinger := &fakePinger{alive: map[core.PeerID]bool{node(1): true}}
	b := NewBucket(2, pinger)
	b.Insert(node(1))
	b.Insert(node(2))

	b.Insert(node(3))

	require.Equal([]core.PeerID{node(1), node(2)}, b.nodes)
	require.False(b.Lookup(node(3)))
}

func TestBucketInsertFullPingsHeadDeadEvicts(t *testing.T) {
	require := require.New(t)

	pinger := &fakePinger{alive: map[core.PeerID]bool{}}
	b := NewBucket(2, pinger)
	b.Insert(node(1))
	b.Insert(node(2))

	b.Insert(node(3))

	require.Equal([]core.PeerID{node(2), node(3)}, b.nodes)
	require.False(b.Lookup(node(1)))
}

func TestBucketLookup(t *testing.T) {
	require := require.New(t)

	b := NewBucket(2, nil)
	b.Insert(node(1))

	require.True(b.Lookup(node(1)))
	require.False(b.Lookup(node(2)))
}

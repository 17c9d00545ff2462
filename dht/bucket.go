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

// Package dht shapes the external DHT collaborator's insert/lookup contract
// as a minimal Kademlia k-bucket. It is not a routing table: node lookup by
// key distance, bucket splitting, and wire queries are out of scope.
package dht

import "github.com/pxqr/network-bittorrent/core"

// Pinger checks whether a node is still alive, used to decide whether a
// full bucket's least-recently-seen node should be evicted.
type Pinger interface {
	Ping(id core.PeerID) bool
}

// Bucket is a fixed-capacity list of node ids ordered from
// least-recently-seen (head) to most-recently-seen (tail).
//
// Insert tie-break: if the node is already present, it moves to the tail and
// any ping is skipped. Otherwise, if the bucket is full, the head node is
// pinged; if it answers, the new node is dropped, otherwise the head is
// evicted and the new node takes the tail.
type Bucket struct {
	capacity int
	pinger   Pinger
	nodes    []core.PeerID
}

// NewBucket creates an empty Bucket with the given capacity. pinger may be
// nil, in which case a full bucket always evicts its head on insert.
func NewBucket(capacity int, pinger Pinger) *Bucket {
	return &Bucket{capacity: capacity, pinger: pinger}
}

// Len returns the number of nodes currently in the bucket.
func (b *Bucket) Len() int {
	return len(b.nodes)
}

// Insert adds id to the bucket, applying the tie-break rule.
func (b *Bucket) Insert(id core.PeerID) {
	for i, n := range b.nodes {
		if n == id {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			b.nodes = append(b.nodes, id)
			return
		}
	}
	if len(b.nodes) < b.capacity {
		b.nodes = append(b.nodes, id)
		return
	}
	head := b.nodes[0]
	if b.pinger != nil && b.pinger.Ping(head) {
		// Head is still alive -- ignore the new node.
		return
	}
	b.nodes = append(b.nodes[1:], id)
}

// Lookup reports whether id is currently in the bucket.
func (b *Bucket) Lookup(id core.PeerID) bool {
	for _, n := range b.nodes {
		if n == id {
			return true
		}
	}
	return false
}

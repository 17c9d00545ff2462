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
package dispatch

import (
	"math/rand"
	"sort"

	"github.com/pxqr/network-bittorrent/core"
	"github.com/pxqr/network-bittorrent/wire"
)

// rechokeLoop periodically recalculates which peers are unchoked. It exits
// when d.pendingPiecesDone is closed.
func (d *Dispatcher) rechokeLoop() {
	for {
		select {
		case <-d.clk.After(d.config.RechokeInterval):
			d.rechoke()
		case <-d.pendingPiecesDone:
			return
		}
	}
}

// rechoke picks up to d.config.UnchokeSlots interested peers to unchoke,
// favoring the peers that have reciprocated the most pieces, plus a single
// optimistic slot that rotates among the rest so new peers eventually get a
// chance to prove themselves.
func (d *Dispatcher) rechoke() {
	var interested []*peer
	d.peers.Range(func(k, v interface{}) bool {
		p := v.(*peer)
		if p.isPeerInterested() {
			interested = append(interested, p)
		} else {
			d.choke(p)
		}
		return true
	})

	sort.Slice(interested, func(i, j int) bool {
		return interested[i].pstats.getGoodPiecesReceived() > interested[j].pstats.getGoodPiecesReceived()
	})

	slots := d.config.UnchokeSlots
	if slots > len(interested) {
		slots = len(interested)
	}

	unchoked := make(map[core.PeerID]bool, slots+1)
	for _, p := range interested[:slots] {
		unchoked[p.id] = true
	}
	if rest := interested[slots:]; len(rest) > 0 {
		unchoked[rest[rand.Intn(len(rest))].id] = true
	}

	for _, p := range interested {
		if unchoked[p.id] {
			d.unchoke(p)
		} else {
			d.choke(p)
		}
	}
}

func (d *Dispatcher) unchoke(p *peer) {
	if !p.isAmChoking() {
		return
	}
	p.setAmChoking(false)
	p.messages.Send(wire.NewUnchokeMessage())
}

func (d *Dispatcher) choke(p *peer) {
	if p.isAmChoking() {
		return
	}
	p.setAmChoking(true)
	p.messages.Send(wire.NewChokeMessage())
}

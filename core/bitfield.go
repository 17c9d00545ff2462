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
package core

import (
	"fmt"

	"github.com/willf/bitset"
)

// Bitfield is a dense set of piece indices bounded by an explicit capacity,
// totalCount. No bit at or beyond totalCount is ever observable through its
// public methods, even if the backing bitset happens to have spare capacity.
type Bitfield struct {
	totalCount uint
	set        *bitset.BitSet
}

// NewBitfield returns an empty Bitfield with capacity totalCount.
func NewBitfield(totalCount uint) *Bitfield {
	return &Bitfield{
		totalCount: totalCount,
		set:        bitset.New(totalCount),
	}
}

// NewBitfieldFromBytes decodes a wire-format bitfield payload (as sent in a
// peer-wire Bitfield message) into a Bitfield of capacity totalCount. Spare
// high bits in the last byte, beyond totalCount, are discarded.
func NewBitfieldFromBytes(totalCount uint, b []byte) *Bitfield {
	raw := bitset.New(uint(len(b)) * 8)
	for byteIdx, by := range b {
		for bit := 0; bit < 8; bit++ {
			if by&(0x80>>uint(bit)) != 0 {
				raw.Set(uint(byteIdx)*8 + uint(bit))
			}
		}
	}
	bf := &Bitfield{totalCount: uint(len(b)) * 8, set: raw}
	return bf.AdjustSize(totalCount)
}

// TotalCount returns the capacity of b.
func (b *Bitfield) TotalCount() uint {
	return b.totalCount
}

// Test reports whether piece i is present in b. i must be in [0, totalCount).
func (b *Bitfield) Test(i uint) bool {
	if i >= b.totalCount {
		return false
	}
	return b.set.Test(i)
}

// Insert adds piece i to b. Returns an error if i is out of range.
func (b *Bitfield) Insert(i uint) error {
	if i >= b.totalCount {
		return fmt.Errorf("piece index %d out of range [0, %d)", i, b.totalCount)
	}
	b.set.Set(i)
	return nil
}

// Remove clears piece i from b. No-op if i is out of range.
func (b *Bitfield) Remove(i uint) {
	if i >= b.totalCount {
		return
	}
	b.set.Clear(i)
}

// Count returns the number of pieces present in b.
func (b *Bitfield) Count() uint {
	return b.set.Count()
}

// HaveAll reports whether every piece in [0, totalCount) is present.
func (b *Bitfield) HaveAll() bool {
	if b.totalCount == 0 {
		return true
	}
	return b.set.Count() == b.totalCount
}

// HaveNone reports whether no piece in [0, totalCount) is present.
func (b *Bitfield) HaveNone() bool {
	return b.set.Count() == 0
}

// Completeness returns the exact ratio |members| / totalCount, in [0, 1].
// A zero-capacity bitfield is defined as fully complete.
func (b *Bitfield) Completeness() float64 {
	if b.totalCount == 0 {
		return 1
	}
	return float64(b.set.Count()) / float64(b.totalCount)
}

// FindMin returns the smallest present piece index, if any.
func (b *Bitfield) FindMin() (uint, bool) {
	return b.set.NextSet(0)
}

// FindMax returns the largest present piece index, if any.
func (b *Bitfield) FindMax() (uint, bool) {
	var (
		found bool
		max   uint
	)
	for i, ok := b.set.NextSet(0); ok; i, ok = b.set.NextSet(i + 1) {
		max = i
		found = true
	}
	return max, found
}

// clone returns a deep copy of b's backing set, masked to b's totalCount.
func (b *Bitfield) clone() *bitset.BitSet {
	c := bitset.New(b.totalCount)
	b.set.Copy(c)
	return c
}

// Union returns the set union of a and b. a and b must share totalCount.
func (b *Bitfield) Union(other *Bitfield) (*Bitfield, error) {
	if b.totalCount != other.totalCount {
		return nil, fmt.Errorf("union: mismatched totalCount %d != %d", b.totalCount, other.totalCount)
	}
	return &Bitfield{totalCount: b.totalCount, set: b.set.Union(other.set)}, nil
}

// Intersection returns the set intersection of a and b. a and b must share
// totalCount.
func (b *Bitfield) Intersection(other *Bitfield) (*Bitfield, error) {
	if b.totalCount != other.totalCount {
		return nil, fmt.Errorf("intersection: mismatched totalCount %d != %d", b.totalCount, other.totalCount)
	}
	return &Bitfield{totalCount: b.totalCount, set: b.set.Intersection(other.set)}, nil
}

// Difference returns the set difference a \ b. a and b must share totalCount.
func (b *Bitfield) Difference(other *Bitfield) (*Bitfield, error) {
	if b.totalCount != other.totalCount {
		return nil, fmt.Errorf("difference: mismatched totalCount %d != %d", b.totalCount, other.totalCount)
	}
	return &Bitfield{totalCount: b.totalCount, set: b.set.Difference(other.set)}, nil
}

// AdjustSize returns a copy of b resized to newTotalCount, preserving every
// member index still in range and masking out anything beyond it.
func (b *Bitfield) AdjustSize(newTotalCount uint) *Bitfield {
	resized := bitset.New(newTotalCount)
	for i, ok := b.set.NextSet(0); ok && i < newTotalCount; i, ok = b.set.NextSet(i + 1) {
		resized.Set(i)
	}
	return &Bitfield{totalCount: newTotalCount, set: resized}
}

// Bytes encodes b into its wire-format payload: ceil(totalCount/8) bytes,
// with spare high bits in the last byte left unset.
func (b *Bitfield) Bytes() []byte {
	numBytes := (b.totalCount + 7) / 8
	out := make([]byte, numBytes)
	for i, ok := b.set.NextSet(0); ok; i, ok = b.set.NextSet(i + 1) {
		out[i/8] |= 0x80 >> (i % 8)
	}
	return out
}

// Equal reports whether a and b have identical totalCount and membership.
func (b *Bitfield) Equal(other *Bitfield) bool {
	if other == nil {
		return false
	}
	return b.totalCount == other.totalCount && b.set.Equal(other.set)
}

// Rarest returns the piece index present in the fewest of bfs, tie-broken by
// the smallest index. Pieces present in every bitfield (or absent from all of
// them) are never candidates. Returns false if there is no such index.
func Rarest(bfs []*Bitfield) (uint, bool) {
	if len(bfs) == 0 {
		return 0, false
	}
	var maxTotal uint
	for _, bf := range bfs {
		if bf.totalCount > maxTotal {
			maxTotal = bf.totalCount
		}
	}

	counts := make([]int, maxTotal)
	for _, bf := range bfs {
		for i, ok := bf.set.NextSet(0); ok && i < maxTotal; i, ok = bf.set.NextSet(i + 1) {
			counts[i]++
		}
	}

	var (
		best      uint
		bestCount = len(bfs) + 1
		found     bool
	)
	for i := uint(0); i < maxTotal; i++ {
		c := counts[i]
		if c == 0 || c >= len(bfs) {
			// Absent from every bitfield, or present in all of them: not a
			// rarity candidate.
			continue
		}
		if c < bestCount {
			bestCount = c
			best = i
			found = true
		}
	}
	return best, found
}

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
	"testing"

	"github.com/stretchr/testify/require"
)

func bitfieldFromBools(bs ...bool) *Bitfield {
	b := NewBitfield(uint(len(bs)))
	for i, v := range bs {
		if v {
			b.Insert(uint(i))
		}
	}
	return b
}

func TestBitfieldHaveAllHaveNone(t *testing.T) {
	require := require.New(t)

	empty := NewBitfield(4)
	require.True(empty.HaveNone())
	require.False(empty.HaveAll())

	full := bitfieldFromBools(true, true, true, true)
	require.True(full.HaveAll())
	require.False(full.HaveNone())

	require.True(NewBitfield(0).HaveAll())
	require.True(NewBitfield(0).HaveNone())
}

func TestBitfieldCompletenessRange(t *testing.T) {
	require := require.New(t)

	tests := []struct {
		bits []bool
		want float64
	}{
		{[]bool{false, false}, 0},
		{[]bool{true, false}, 0.5},
		{[]bool{true, true}, 1},
	}
	for _, test := range tests {
		c := bitfieldFromBools(test.bits...).Completeness()
		require.GreaterOrEqual(c, 0.0)
		require.LessOrEqual(c, 1.0)
		require.Equal(test.want, c)
	}
}

func TestBitfieldFindMinLessThanOrEqualFindMax(t *testing.T) {
	require := require.New(t)

	b := bitfieldFromBools(false, true, false, true, false)
	min, ok := b.FindMin()
	require.True(ok)
	max, ok := b.FindMax()
	require.True(ok)
	require.LessOrEqual(min, max)
	require.Equal(uint(1), min)
	require.Equal(uint(3), max)
}

func TestBitfieldFindMinEmpty(t *testing.T) {
	require := require.New(t)

	_, ok := NewBitfield(4).FindMin()
	require.False(ok)
}

func TestBitfieldDeMorgan(t *testing.T) {
	require := require.New(t)

	a := bitfieldFromBools(true, true, false, false, true)
	b := bitfieldFromBools(true, false, true, false, true)
	c := bitfieldFromBools(false, true, true, false, false)

	bIntersectC, err := b.Intersection(c)
	require.NoError(err)
	aMinusBIntersectC, err := a.Difference(bIntersectC)
	require.NoError(err)

	aMinusB, err := a.Difference(b)
	require.NoError(err)
	aMinusC, err := a.Difference(c)
	require.NoError(err)
	aMinusBUnionAMinusC, err := aMinusB.Union(aMinusC)
	require.NoError(err)

	require.True(aMinusBIntersectC.Equal(aMinusBUnionAMinusC))

	bUnionC, err := b.Union(c)
	require.NoError(err)
	aMinusBUnionC, err := a.Difference(bUnionC)
	require.NoError(err)

	aMinusBIntersectAMinusC, err := aMinusB.Intersection(aMinusC)
	require.NoError(err)

	require.True(aMinusBUnionC.Equal(aMinusBIntersectAMinusC))
}

func TestBitfieldAdjustSizeTruncatesAndPads(t *testing.T) {
	require := require.New(t)

	b := bitfieldFromBools(true, true, true, true)

	truncated := b.AdjustSize(2)
	require.Equal(uint(2), truncated.TotalCount())
	require.True(truncated.Test(0))
	require.True(truncated.Test(1))

	padded := b.AdjustSize(6)
	require.Equal(uint(6), padded.TotalCount())
	require.True(padded.Test(3))
	require.False(padded.Test(4))
	require.False(padded.Test(5))
}

func TestBitfieldBytesRoundTrip(t *testing.T) {
	require := require.New(t)

	b := bitfieldFromBools(true, false, true, false, true, false, true, false, true)
	encoded := b.Bytes()
	require.Equal(2, len(encoded)) // ceil(9/8) = 2

	decoded := NewBitfieldFromBytes(9, encoded)
	require.True(b.Equal(decoded))
}

func TestBitfieldBytesMasksSpareHighBits(t *testing.T) {
	require := require.New(t)

	// 3 bits of capacity packed into a single byte: spare high bits must
	// never surface as members after a decode.
	b := NewBitfieldFromBytes(3, []byte{0xFF})
	require.True(b.Test(0))
	require.True(b.Test(1))
	require.True(b.Test(2))
	require.Equal(uint(3), b.Count())
}

func TestRarest(t *testing.T) {
	require := require.New(t)

	a := bitfieldFromBools(true, false, true)
	b := bitfieldFromBools(true, true, true)
	c := bitfieldFromBools(true, false, false)

	r, ok := Rarest([]*Bitfield{a, b, c})
	require.True(ok)
	require.Equal(uint(1), r) // present only in b
}

func TestRarestTieBreaksLowestIndex(t *testing.T) {
	require := require.New(t)

	a := bitfieldFromBools(true, true, false, false)
	b := bitfieldFromBools(false, false, true, true)

	r, ok := Rarest([]*Bitfield{a, b})
	require.True(ok)
	require.Equal(uint(0), r)
}

func TestRarestNoneWhenAllEmpty(t *testing.T) {
	require := require.New(t)

	_, ok := Rarest([]*Bitfield{NewBitfield(4), NewBitfield(4)})
	require.False(ok)
}

func TestRarestNoneWhenAllFull(t *testing.T) {
	require := require.New(t)

	a := bitfieldFromBools(true, true)
	b := bitfieldFromBools(true, true)

	_, ok := Rarest([]*Bitfield{a, b})
	require.False(ok)
}

func TestRarestBounded(t *testing.T) {
	require := require.New(t)

	a := bitfieldFromBools(true, false, false)
	b := bitfieldFromBools(false, true, false)

	r, ok := Rarest([]*Bitfield{a, b})
	require.True(ok)
	require.GreaterOrEqual(r, uint(0))
	require.Less(r, uint(3))
}

func TestRarestEmptyInput(t *testing.T) {
	require := require.New(t)

	_, ok := Rarest(nil)
	require.False(ok)
}

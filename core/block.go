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

// PieceIndex identifies a piece within a torrent, in [0, PieceCount).
type PieceIndex uint32

// BlockIx addresses a sub-range of a piece, the unit of a Request/Cancel
// message.
type BlockIx struct {
	Piece  PieceIndex
	Offset uint32
	Length uint32
}

// Block is the payload delivered in response to a BlockIx request.
type Block struct {
	Piece   PieceIndex
	Offset  uint32
	Payload []byte
}

// Ix returns the BlockIx addressing b.
func (b Block) Ix() BlockIx {
	return BlockIx{Piece: b.Piece, Offset: b.Offset, Length: uint32(len(b.Payload))}
}

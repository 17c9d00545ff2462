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
package storage

import (
	"github.com/pxqr/network-bittorrent/core"

	"github.com/willf/bitset"
)

// TorrentInfoFixture returns a complete (fully downloaded) TorrentInfo for a
// torrent with numPieces pieces of pieceLength bytes each.
func TorrentInfoFixture(numPieces int, pieceLength int64) *TorrentInfo {
	mi := core.SizedBlobFixture(uint64(numPieces)*uint64(pieceLength), uint64(pieceLength)).MetaInfo
	bitfield := bitset.New(uint(numPieces))
	for i := 0; i < numPieces; i++ {
		bitfield.Set(uint(i))
	}
	return NewTorrentInfo(mi, bitfield)
}

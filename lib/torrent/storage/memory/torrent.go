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

// Package memory provides an in-memory storage.Torrent / storage.TorrentArchive,
// suitable for tests and for deployments which don't need pieces to survive a
// restart. It holds every piece's bytes in a Go slice behind a mutex.
package memory

import (
	"fmt"
	"io/ioutil"
	"sync"

	"github.com/pxqr/network-bittorrent/core"
	"github.com/pxqr/network-bittorrent/lib/torrent/storage"

	"github.com/willf/bitset"
)

// Torrent is an in-memory storage.Torrent.
type Torrent struct {
	metaInfo *core.MetaInfo

	mu       sync.Mutex
	bitfield *bitset.BitSet
	pieces   [][]byte // nil entry means not yet downloaded.
}

// NewTorrent creates a new Torrent backed by mi's metadata. Initial bitfield
// is empty, unless blob is non-nil, in which case blob is split into pieces
// and the torrent is created already complete.
func NewTorrent(mi *core.MetaInfo, blob []byte) (*Torrent, error) {
	n := mi.NumPieces()
	t := &Torrent{
		metaInfo: mi,
		bitfield: bitset.New(uint(n)),
		pieces:   make([][]byte, n),
	}
	if blob == nil {
		return t, nil
	}
	if int64(len(blob)) != mi.Length() {
		return nil, fmt.Errorf("blob length %d does not match metainfo length %d", len(blob), mi.Length())
	}
	var offset int64
	for i := 0; i < n; i++ {
		l := mi.GetPieceLength(i)
		t.pieces[i] = blob[offset : offset+l]
		t.bitfield.Set(uint(i))
		offset += l
	}
	return t, nil
}

// Stat returns a snapshot of the torrent's info.
func (t *Torrent) Stat() *storage.TorrentInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	return storage.NewTorrentInfo(t.metaInfo, t.bitfield.Clone())
}

// NumPieces returns the number of pieces in the torrent.
func (t *Torrent) NumPieces() int {
	return t.metaInfo.NumPieces()
}

// Length returns the total length of the torrent in bytes.
func (t *Torrent) Length() int64 {
	return t.metaInfo.Length()
}

// PieceLength returns the length of piece i.
func (t *Torrent) PieceLength(piece int) int64 {
	return t.metaInfo.GetPieceLength(piece)
}

// MaxPieceLength returns the length of the torrent's largest (i.e. any
// non-final) piece.
func (t *Torrent) MaxPieceLength() int64 {
	return t.metaInfo.PieceLength()
}

// InfoHash returns the torrent's info hash.
func (t *Torrent) InfoHash() core.InfoHash {
	return t.metaInfo.InfoHash()
}

// Complete returns whether every piece has been downloaded.
func (t *Torrent) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.bitfield.All()
}

// BytesDownloaded returns the number of bytes downloaded so far.
func (t *Torrent) BytesDownloaded() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var n int64
	for i := 0; i < t.metaInfo.NumPieces(); i++ {
		if t.bitfield.Test(uint(i)) {
			n += t.metaInfo.GetPieceLength(i)
		}
	}
	return n
}

// Bitfield returns a snapshot of the torrent's piece bitfield.
func (t *Torrent) Bitfield() *bitset.BitSet {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.bitfield.Clone()
}

// String returns the torrent's info hash in hex.
func (t *Torrent) String() string {
	return t.InfoHash().Hex()
}

// HasPiece returns whether piece has been downloaded.
func (t *Torrent) HasPiece(piece int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.bitfield.Test(uint(piece))
}

// MissingPieces returns the indices of all pieces not yet downloaded.
func (t *Torrent) MissingPieces() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var missing []int
	for i := 0; i < t.metaInfo.NumPieces(); i++ {
		if !t.bitfield.Test(uint(i)) {
			missing = append(missing, i)
		}
	}
	return missing
}

// WritePiece reads src in full and stores it as piece, provided its length
// matches the piece's length in the metainfo. The content is not checked
// against the metainfo's piece sums.
func (t *Torrent) WritePiece(src storage.PieceReader, piece int) error {
	if piece < 0 || piece >= t.metaInfo.NumPieces() {
		return fmt.Errorf("piece %d out of bounds", piece)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bitfield.Test(uint(piece)) {
		return storage.ErrPieceComplete
	}

	b, err := ioutil.ReadAll(src)
	if err != nil {
		return fmt.Errorf("read piece: %s", err)
	}
	if int64(len(b)) != t.metaInfo.GetPieceLength(piece) {
		return fmt.Errorf(
			"piece %d length %d does not match expected length %d",
			piece, len(b), t.metaInfo.GetPieceLength(piece))
	}

	t.pieces[piece] = b
	t.bitfield.Set(uint(piece))
	return nil
}

// GetPieceReader returns a reader for piece's bytes.
func (t *Torrent) GetPieceReader(piece int) (storage.PieceReader, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if piece < 0 || piece >= t.metaInfo.NumPieces() || t.pieces[piece] == nil {
		return nil, storage.ErrNotFound
	}
	return storage.NewPieceReaderBuffer(t.pieces[piece]), nil
}

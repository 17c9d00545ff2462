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
package memory

import (
	"github.com/pxqr/network-bittorrent/core"
	"github.com/pxqr/network-bittorrent/lib/torrent/storage"
)

// ArchiveFixture creates a new, empty Archive and returns it alongside a
// no-op cleanup function (the archive holds no on-disk state to reclaim).
func ArchiveFixture() (storage.TorrentArchive, func()) {
	return NewArchive(), func() {}
}

// TorrentFixture creates a new, empty Torrent for mi and returns it alongside
// a no-op cleanup function (the torrent holds no on-disk state to reclaim).
func TorrentFixture(mi *core.MetaInfo) (storage.Torrent, func()) {
	t, err := NewTorrent(mi, nil)
	if err != nil {
		panic(err)
	}
	return t, func() {}
}

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
	"sync"

	"github.com/pxqr/network-bittorrent/core"
	"github.com/pxqr/network-bittorrent/lib/torrent/storage"
)

// Archive is an in-memory storage.TorrentArchive. It holds every torrent's
// pieces in memory behind a mutex and is keyed entirely by info hash.
type Archive struct {
	mu       sync.Mutex
	torrents map[core.InfoHash]*Torrent
}

// NewArchive creates an empty Archive.
func NewArchive() *Archive {
	return &Archive{
		torrents: make(map[core.InfoHash]*Torrent),
	}
}

// Stat returns info for an existing torrent, without creating it.
func (a *Archive) Stat(h core.InfoHash) (*storage.TorrentInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.torrents[h]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t.Stat(), nil
}

// CreateTorrent creates (or returns the existing) Torrent for mi.
func (a *Archive) CreateTorrent(mi *core.MetaInfo) (storage.Torrent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := mi.InfoHash()
	if t, ok := a.torrents[h]; ok {
		return t, nil
	}
	t, err := NewTorrent(mi, nil)
	if err != nil {
		return nil, err
	}
	a.torrents[h] = t
	return t, nil
}

// GetTorrent returns the existing Torrent for h.
func (a *Archive) GetTorrent(h core.InfoHash) (storage.Torrent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.torrents[h]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t, nil
}

// DeleteTorrent removes the torrent matching h, if present.
func (a *Archive) DeleteTorrent(h core.InfoHash) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.torrents, h)
	return nil
}

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

// Package torrent exposes a Client session which owns a Scheduler and hands
// callers a Handle per torrent download, decoupling the caller's view of a
// single download's progress from the Scheduler's global event loop.
package torrent

import (
	"errors"
	"fmt"
	"sync"

	"github.com/uber-go/tally"

	"github.com/pxqr/network-bittorrent/core"
	"github.com/pxqr/network-bittorrent/lib/torrent/networkevent"
	"github.com/pxqr/network-bittorrent/lib/torrent/scheduler"
	"github.com/pxqr/network-bittorrent/lib/torrent/scheduler/connstate"
	"github.com/pxqr/network-bittorrent/lib/torrent/storage"
	"github.com/pxqr/network-bittorrent/utils/httputil"
)

// Status is the lifecycle state of a Handle.
type Status int

// Handle lifecycle states.
const (
	Stopped Status = iota
	Running
	Paused
)

func (s Status) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// EventKind distinguishes the kinds of occurrences published on a Handle's
// event stream.
type EventKind int

// Handle event kinds.
const (
	TorrentAdded EventKind = iota
	StatusChanged
	Warning
)

// Event is a single occurrence on a Handle's event stream.
type Event struct {
	Kind     EventKind
	InfoHash core.InfoHash
	Status   Status
	Err      error
}

// Handle errors.
var (
	ErrHandleClosed       = errors.New("handle is closed")
	ErrMetaInfoUnresolved = errors.New("handle has no metainfo yet, magnet is unresolved")
)

// Client is a client session: it owns a Scheduler and the torrent archive
// backing it, and hands out a Handle for every torrent a caller opens.
type Client interface {
	// OpenTorrent allocates a Handle for mi idempotently by info hash: if a
	// Handle already exists for mi's info hash, it is returned unchanged and
	// no TorrentAdded event is emitted.
	OpenTorrent(rootPath string, mi *core.MetaInfo) (*Handle, error)

	// OpenMagnet allocates a Handle for infoHash idempotently, without a
	// metainfo. The returned Handle is non-private, but cannot start until
	// its metainfo is resolved by some other means -- magnet metadata
	// resolution is not implemented by this package.
	OpenMagnet(rootPath string, infoHash core.InfoHash) (*Handle, error)

	// BlacklistSnapshot returns the current state of the peer connection
	// blacklist, for diagnostics.
	BlacklistSnapshot() ([]connstate.BlacklistedConn, error)

	// Probe verifies the Client's Scheduler event loop is running and
	// unblocked.
	Probe() error

	// Close stops the Client's Scheduler and every open Handle.
	Close() error
}

type client struct {
	config    Config
	pctx      core.PeerContext
	scheduler scheduler.ReloadableScheduler
	archive   storage.TorrentArchive

	mu      sync.Mutex
	handles map[core.InfoHash]*Handle
}

// NewClient creates a new Client session, constructing a Scheduler around
// archive and announcing against trackers (if any).
func NewClient(
	config Config,
	archive storage.TorrentArchive,
	stats tally.Scope,
	pctx core.PeerContext,
	trackers []string,
	tls *httputil.TLSConfig) (Client, error) {

	stats = stats.SubScope("peer").SubScope(pctx.PeerID.String())

	netevents, err := networkevent.NewProducer(config.NetworkEvent)
	if err != nil {
		return nil, fmt.Errorf("new network event producer: %s", err)
	}

	sched, err := scheduler.NewScheduler(
		config.Scheduler, archive, stats, pctx, trackers, tls, netevents)
	if err != nil {
		return nil, fmt.Errorf("new scheduler: %s", err)
	}

	return &client{
		config:    config,
		pctx:      pctx,
		scheduler: sched,
		archive:   archive,
		handles:   make(map[core.InfoHash]*Handle),
	}, nil
}

func (c *client) Close() error {
	c.mu.Lock()
	handles := make([]*Handle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
	c.scheduler.Stop()
	return nil
}

func (c *client) BlacklistSnapshot() ([]connstate.BlacklistedConn, error) {
	return c.scheduler.BlacklistSnapshot()
}

func (c *client) Probe() error {
	return c.scheduler.Probe()
}

// OpenTorrent allocates a Handle for mi idempotently by info hash.
func (c *client) OpenTorrent(rootPath string, mi *core.MetaInfo) (*Handle, error) {
	ih := mi.InfoHash()

	c.mu.Lock()
	if h, ok := c.handles[ih]; ok {
		c.mu.Unlock()
		return h, nil
	}

	t, err := c.archive.CreateTorrent(mi)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("create torrent: %s", err)
	}

	h := newHandle(c, rootPath, ih, false, mi, t)
	c.handles[ih] = h
	c.mu.Unlock()

	h.publish(Event{Kind: TorrentAdded, InfoHash: ih, Status: Stopped})
	return h, nil
}

// OpenMagnet allocates a Handle for infoHash idempotently, without a
// metainfo.
func (c *client) OpenMagnet(rootPath string, infoHash core.InfoHash) (*Handle, error) {
	c.mu.Lock()
	if h, ok := c.handles[infoHash]; ok {
		c.mu.Unlock()
		return h, nil
	}

	h := newHandle(c, rootPath, infoHash, false, nil, nil)
	c.handles[infoHash] = h
	c.mu.Unlock()

	h.publish(Event{Kind: TorrentAdded, InfoHash: infoHash, Status: Stopped})
	return h, nil
}

func (c *client) removeHandle(infoHash core.InfoHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, infoHash)
}

// Handle is a live reference to a single torrent's lifecycle, letting a
// caller open/start/pause/stop/close it and observe its progress
// independently of the Scheduler's event loop.
type Handle struct {
	client   *client
	rootPath string
	infoHash core.InfoHash
	private  bool

	events chan Event

	mu      sync.Mutex // Protects the following fields.
	mi      *core.MetaInfo
	torrent storage.Torrent
	status  Status
	closed  bool
	done    chan error
}

func newHandle(
	c *client,
	rootPath string,
	infoHash core.InfoHash,
	private bool,
	mi *core.MetaInfo,
	t storage.Torrent) *Handle {

	return &Handle{
		client:   c,
		rootPath: rootPath,
		infoHash: infoHash,
		private:  private,
		events:   make(chan Event, 16),
		mi:       mi,
		torrent:  t,
		status:   Stopped,
	}
}

// InfoHash returns the info hash of the torrent this Handle refers to.
func (h *Handle) InfoHash() core.InfoHash {
	return h.infoHash
}

// Private reports whether this torrent is private (no DHT peer discovery).
func (h *Handle) Private() bool {
	return h.private
}

// Status returns the Handle's current lifecycle status.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Events returns the Handle's event stream. TorrentAdded, StatusChanged, and
// Warning events are published here. The channel is never closed; callers
// should stop reading once they no longer care about this Handle.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Complete reports whether the torrent has finished downloading. Returns
// false for a magnet Handle whose metainfo has not yet been resolved.
func (h *Handle) Complete() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.torrent != nil && h.torrent.Complete()
}

// BytesDownloaded returns the number of bytes downloaded so far.
func (h *Handle) BytesDownloaded() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.torrent == nil {
		return 0
	}
	return h.torrent.BytesDownloaded()
}

// Length returns the total length of the torrent in bytes, or 0 if unknown.
func (h *Handle) Length() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.torrent == nil {
		return 0
	}
	return h.torrent.Length()
}

// Start transitions the Handle from Stopped to Running, kicking off the
// Scheduler download/seed in the background. A Handle already Running is a
// no-op. Idempotent: calling Start twice in succession only begins the
// Scheduler download once.
func (h *Handle) Start() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHandleClosed
	}
	if h.status == Running {
		h.mu.Unlock()
		return nil
	}
	if h.mi == nil {
		h.mu.Unlock()
		return ErrMetaInfoUnresolved
	}
	mi := h.mi
	h.status = Running
	h.done = make(chan error, 1)
	done := h.done
	h.mu.Unlock()

	go func() {
		done <- h.client.scheduler.Download(mi)
	}()

	h.publish(Event{Kind: StatusChanged, InfoHash: h.infoHash, Status: Running})
	return nil
}

// Pause transitions the Handle from Running to Paused. The underlying
// Scheduler download is left running to completion -- Pause only affects
// how the Handle reports its own status, since the Scheduler has no
// per-torrent suspend primitive. On anything but Running, this is a no-op.
func (h *Handle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != Running {
		return
	}
	h.status = Paused
	h.publish(Event{Kind: StatusChanged, InfoHash: h.infoHash, Status: Paused})
}

// Stop transitions the Handle to Stopped, removing the torrent from the
// Scheduler. Idempotent.
func (h *Handle) Stop() error {
	h.mu.Lock()
	if h.status == Stopped {
		h.mu.Unlock()
		return nil
	}
	h.status = Stopped
	h.mu.Unlock()

	err := h.client.scheduler.RemoveTorrent(h.infoHash)
	if err != nil && err != scheduler.ErrTorrentNotFound {
		h.publish(Event{Kind: Warning, InfoHash: h.infoHash, Err: err})
	}
	h.publish(Event{Kind: StatusChanged, InfoHash: h.infoHash, Status: Stopped})
	return nil
}

// Close stops the Handle and releases it from the Client's handle map. The
// Handle must not be used afterward.
func (h *Handle) Close() error {
	if err := h.Stop(); err != nil {
		return err
	}
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.client.removeHandle(h.infoHash)
	return nil
}

// Wait blocks until the most recent start's download either completes or
// fails, returning the result. Returns nil immediately if the Handle has
// never been started. Each start delivers its result to exactly one Wait
// call; any further Wait for the same start blocks indefinitely.
func (h *Handle) Wait() error {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done == nil {
		return nil
	}
	return <-done
}

func (h *Handle) publish(e Event) {
	select {
	case h.events <- e:
	default:
	}
}

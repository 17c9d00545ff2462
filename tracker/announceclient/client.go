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

// Package announceclient provides a Client which announces torrents against
// a set of BitTorrent trackers, dispatching each announce over either
// the HTTP(S) or UDP tracker protocol depending on the tracker's URL scheme.
package announceclient

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/pxqr/network-bittorrent/core"
	"github.com/pxqr/network-bittorrent/tracker/httptracker"
	"github.com/pxqr/network-bittorrent/tracker/udptracker"
	"github.com/pxqr/network-bittorrent/utils/errutil"
	"github.com/pxqr/network-bittorrent/utils/httputil"
)

// ErrDisabled is returned when announce is disabled.
var ErrDisabled = errors.New("announcing disabled")

// ErrNoTrackers is returned when a client has no trackers configured.
var ErrNoTrackers = errors.New("no trackers configured")

// Announce versions. Kept for compatibility with callers that distinguish
// tracker wire generations; both currently announce identically.
const (
	V1 = 1
	V2 = 2
)

// Client defines a client for announcing and getting peers.
type Client interface {
	Announce(
		h core.InfoHash,
		complete bool,
		version int) ([]*core.PeerInfo, time.Duration, error)
}

// client announces against a fixed list of tracker URLs, trying each in
// order until one succeeds. A tracker URL's scheme selects its wire
// protocol: "http"/"https" speaks BEP-3, "udp" speaks BEP-15.
type client struct {
	pctx     core.PeerContext
	trackers []string
	tls      *httputil.TLSConfig
}

// New creates a new Client which announces against trackers, in order,
// until one of them succeeds.
func New(pctx core.PeerContext, trackers []string, tls *httputil.TLSConfig) Client {
	return &client{pctx, trackers, tls}
}

// Announce announces the torrent identified by h, reporting whether the
// local peer has completed downloading it. Returns the peers known to the
// first tracker to respond successfully, and the interval to wait before the
// next announce.
func (c *client) Announce(
	h core.InfoHash,
	complete bool,
	version int) (peers []*core.PeerInfo, interval time.Duration, err error) {

	if len(c.trackers) == 0 {
		return nil, 0, ErrNoTrackers
	}

	peer := core.PeerInfoFromContext(c.pctx, complete)

	var left int64
	if !complete {
		left = 1 // Exact remaining bytes are not tracked at this layer.
	}

	var errs []error
	for _, addr := range c.trackers {
		u, err := url.Parse(addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse tracker url %q: %s", addr, err))
			continue
		}

		switch u.Scheme {
		case "http", "https":
			resp, err := httptracker.Announce(addr, httptracker.AnnounceParams{
				InfoHash: h,
				PeerID:   peer.PeerID,
				Port:     peer.Port,
				Left:     left,
				Event:    announceEventHTTP(complete),
			}, c.tls)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %s", addr, err))
				continue
			}
			return resp.Peers, resp.Interval, nil
		case "udp":
			resp, err := udptracker.New(u.Host).Announce(udptracker.AnnounceParams{
				InfoHash: h,
				PeerID:   peer.PeerID,
				Left:     left,
				Event:    announceEventUDP(complete),
				Port:     uint16(peer.Port),
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %s", addr, err))
				continue
			}
			return resp.Peers, resp.Interval, nil
		default:
			errs = append(errs, fmt.Errorf("unsupported tracker scheme %q", u.Scheme))
		}
	}
	return nil, 0, errutil.Join(errs)
}

func announceEventHTTP(complete bool) httptracker.Event {
	if complete {
		return httptracker.EventCompleted
	}
	return httptracker.EventNone
}

func announceEventUDP(complete bool) udptracker.Event {
	if complete {
		return udptracker.EventCompleted
	}
	return udptracker.EventNone
}

// DisabledClient rejects all announces. Suitable for origin peers which should
// not be announcing.
type DisabledClient struct{}

// Disabled returns a new DisabledClient.
func Disabled() Client {
	return DisabledClient{}
}

// Announce always returns error.
func (c DisabledClient) Announce(
	h core.InfoHash, complete bool, version int) ([]*core.PeerInfo, time.Duration, error) {

	return nil, 0, ErrDisabled
}

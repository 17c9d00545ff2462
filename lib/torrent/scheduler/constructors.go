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
package scheduler

import (
	"fmt"

	"github.com/pxqr/network-bittorrent/core"
	"github.com/pxqr/network-bittorrent/lib/torrent/networkevent"
	"github.com/pxqr/network-bittorrent/lib/torrent/scheduler/announcequeue"
	"github.com/pxqr/network-bittorrent/lib/torrent/storage"
	"github.com/pxqr/network-bittorrent/tracker/announceclient"
	"github.com/pxqr/network-bittorrent/utils/httputil"

	"github.com/uber-go/tally"
)

// NewScheduler creates and starts a ReloadableScheduler backed by ta, which
// announces against trackers (a list of tracker URLs; http(s):// trackers
// speak BEP-3, udp:// trackers speak BEP-15). If trackers is empty, the
// Scheduler never announces and relies entirely on explicit peer discovery.
func NewScheduler(
	config Config,
	ta storage.TorrentArchive,
	stats tally.Scope,
	pctx core.PeerContext,
	trackers []string,
	tls *httputil.TLSConfig,
	netevents networkevent.Producer) (ReloadableScheduler, error) {

	var ac announceclient.Client
	if len(trackers) == 0 {
		ac = announceclient.Disabled()
	} else {
		ac = announceclient.New(pctx, trackers, tls)
	}

	s, err := newScheduler(config, ta, stats, pctx, ac, netevents)
	if err != nil {
		return nil, fmt.Errorf("new scheduler: %s", err)
	}

	aq := func() announcequeue.Queue { return announcequeue.New() }
	if len(trackers) == 0 {
		aq = func() announcequeue.Queue { return announcequeue.Disabled() }
	}
	rs := makeReloadable(s, aq)
	if err := rs.start(aq()); err != nil {
		return nil, fmt.Errorf("start: %s", err)
	}

	return rs, nil
}

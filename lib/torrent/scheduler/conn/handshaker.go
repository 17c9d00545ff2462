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
package conn

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pxqr/network-bittorrent/core"
	"github.com/pxqr/network-bittorrent/lib/torrent/networkevent"
	"github.com/pxqr/network-bittorrent/lib/torrent/storage"
	"github.com/pxqr/network-bittorrent/utils/bandwidth"
	"github.com/pxqr/network-bittorrent/wire"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

// PendingConn represents half-opened, pending connection initialized by a
// remote peer. Nothing is known about it beyond the literal peer-wire
// handshake (peerID, infoHash) -- the remote's piece bitfield, if any,
// arrives afterward as an ordinary Bitfield message once the Conn is
// established.
type PendingConn struct {
	peerID   core.PeerID
	infoHash core.InfoHash
	nc       net.Conn
}

// PeerID returns the remote peer id.
func (pc *PendingConn) PeerID() core.PeerID {
	return pc.peerID
}

// InfoHash returns the info hash of the torrent the remote peer wants to open.
func (pc *PendingConn) InfoHash() core.InfoHash {
	return pc.infoHash
}

// Close closes the connection.
func (pc *PendingConn) Close() {
	pc.nc.Close()
}

// HandshakeResult wraps data returned from a successful handshake.
type HandshakeResult struct {
	Conn *Conn
}

// Handshaker defines the handshake protocol for establishing connections to
// other peers. A handshake is nothing more than the literal 68-byte
// peer-wire handshake defined by BEP-3; any addressing metadata a peer needs
// to exchange travels as ordinary peer-wire messages afterward.
type Handshaker struct {
	config        Config
	stats         tally.Scope
	clk           clock.Clock
	bandwidth     *bandwidth.Limiter
	networkEvents networkevent.Producer
	peerID        core.PeerID
	events        Events
}

// NewHandshaker creates a new Handshaker.
func NewHandshaker(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	networkEvents networkevent.Producer,
	peerID core.PeerID,
	events Events,
	logger *zap.SugaredLogger) (*Handshaker, error) {

	config = config.applyDefaults()

	stats = stats.Tagged(map[string]string{
		"module": "conn",
	})

	bl, err := bandwidth.NewLimiter(config.Bandwidth, bandwidth.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("bandwidth: %s", err)
	}

	return &Handshaker{
		config:        config,
		stats:         stats,
		clk:           clk,
		bandwidth:     bl,
		networkEvents: networkEvents,
		peerID:        peerID,
		events:        events,
	}, nil
}

// Accept upgrades a raw network connection opened by a remote peer into a
// PendingConn.
func (h *Handshaker) Accept(nc net.Conn) (*PendingConn, error) {
	wh, err := h.readHandshake(nc, nil)
	if err != nil {
		return nil, fmt.Errorf("read handshake: %s", err)
	}
	return &PendingConn{wh.PeerID, wh.InfoHash, nc}, nil
}

// Establish upgrades a PendingConn returned via Accept into a fully
// established Conn.
func (h *Handshaker) Establish(pc *PendingConn, info *storage.TorrentInfo) (*Conn, error) {
	if err := h.sendHandshake(pc.nc, info); err != nil {
		return nil, fmt.Errorf("send handshake: %s", err)
	}
	c, err := h.newConn(pc.nc, pc.peerID, info, true)
	if err != nil {
		return nil, fmt.Errorf("new conn: %s", err)
	}
	return c, nil
}

// Initialize returns a fully established Conn for the given torrent to the
// given peer / address.
func (h *Handshaker) Initialize(
	peerID core.PeerID,
	addr string,
	info *storage.TorrentInfo) (*HandshakeResult, error) {

	nc, err := net.DialTimeout("tcp", addr, h.config.HandshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial: %s", err)
	}
	r, err := h.fullHandshake(nc, peerID, info)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return r, nil
}

func (h *Handshaker) sendHandshake(nc net.Conn, info *storage.TorrentInfo) error {
	if err := nc.SetWriteDeadline(time.Now().Add(h.config.HandshakeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %s", err)
	}
	return wire.WriteHandshake(nc, wire.NewHandshake(info.InfoHash(), h.peerID))
}

// readHandshake reads the remote peer's literal handshake, validating that
// its infoHash matches expectedInfoHash per the peer-wire protocol (a
// mismatch ends the connection rather than establishing it).
func (h *Handshaker) readHandshake(
	nc net.Conn, expectedInfoHash *core.InfoHash) (*wire.Handshake, error) {

	if err := nc.SetReadDeadline(time.Now().Add(h.config.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %s", err)
	}
	wh, err := wire.ReadHandshake(nc)
	if err != nil {
		return nil, err
	}
	if expectedInfoHash != nil && wh.InfoHash != *expectedInfoHash {
		return nil, wire.NewProtocolError("handshake info hash mismatch: expected %s, got %s",
			*expectedInfoHash, wh.InfoHash)
	}
	return wh, nil
}

func (h *Handshaker) fullHandshake(
	nc net.Conn,
	peerID core.PeerID,
	info *storage.TorrentInfo) (*HandshakeResult, error) {

	if err := h.sendHandshake(nc, info); err != nil {
		return nil, fmt.Errorf("send handshake: %s", err)
	}
	ih := info.InfoHash()
	wh, err := h.readHandshake(nc, &ih)
	if err != nil {
		return nil, fmt.Errorf("read handshake: %s", err)
	}
	if wh.PeerID != peerID {
		return nil, errors.New("unexpected peer id")
	}
	c, err := h.newConn(nc, peerID, info, false)
	if err != nil {
		return nil, fmt.Errorf("new conn: %s", err)
	}
	return &HandshakeResult{c}, nil
}

func (h *Handshaker) newConn(
	nc net.Conn,
	peerID core.PeerID,
	info *storage.TorrentInfo,
	openedByRemote bool) (*Conn, error) {

	return newConn(
		h.config,
		h.stats,
		h.clk,
		h.networkEvents,
		h.bandwidth,
		h.events,
		nc,
		h.peerID,
		peerID,
		info,
		openedByRemote,
		zap.NewNop().Sugar())
}

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
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/pxqr/network-bittorrent/core"
	"github.com/pxqr/network-bittorrent/lib/torrent/networkevent"
	"github.com/pxqr/network-bittorrent/lib/torrent/storage"
	"github.com/pxqr/network-bittorrent/utils/bandwidth"
	"github.com/pxqr/network-bittorrent/wire"
)

// Events defines Conn events.
type Events interface {
	ConnClosed(*Conn)
}

// Conn manages peer communication over a connection for a single torrent. All
// inbound messages are delivered on one receiver channel.
type Conn struct {
	peerID      core.PeerID
	infoHash    core.InfoHash
	pieceCount  uint
	createdAt   time.Time
	localPeerID core.PeerID
	bandwidth   *bandwidth.Limiter

	events Events

	mu                    sync.Mutex // Protects the following fields:
	lastGoodPieceReceived time.Time
	lastPieceSent         time.Time

	lastRecv *atomic.Int64 // UnixNano of the last byte received.
	lastSent *atomic.Int64 // UnixNano of the last message sent.

	nc            net.Conn
	config        Config
	clk           clock.Clock
	stats         tally.Scope
	networkEvents networkevent.Producer

	// Marks whether the connection was opened by the remote peer, or the local peer.
	openedByRemote bool

	startOnce sync.Once

	sender   chan *Message
	receiver chan *Message

	// The following fields orchestrate the closing of the connection:
	closed *atomic.Bool
	done   chan struct{}  // Signals to readLoop / writeLoop to exit.
	wg     sync.WaitGroup // Waits for readLoop / writeLoop to exit.

	logger *zap.SugaredLogger
}

func newConn(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	networkEvents networkevent.Producer,
	bandwidth *bandwidth.Limiter,
	events Events,
	nc net.Conn,
	localPeerID core.PeerID,
	remotePeerID core.PeerID,
	info *storage.TorrentInfo,
	openedByRemote bool,
	logger *zap.SugaredLogger) (*Conn, error) {

	// Clear all deadlines set during handshake. Once a Conn is created, we
	// rely on our own idle Conn management via preemption events.
	if err := nc.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("set deadline: %s", err)
	}

	now := clk.Now().UnixNano()

	c := &Conn{
		peerID:         remotePeerID,
		infoHash:       info.InfoHash(),
		pieceCount:     uint(info.NumPieces()),
		createdAt:      clk.Now(),
		localPeerID:    localPeerID,
		bandwidth:      bandwidth,
		events:         events,
		lastRecv:       atomic.NewInt64(now),
		lastSent:       atomic.NewInt64(now),
		nc:             nc,
		config:         config,
		clk:            clk,
		stats:          stats,
		networkEvents:  networkEvents,
		openedByRemote: openedByRemote,
		sender:         make(chan *Message, config.SenderBufferSize),
		receiver:       make(chan *Message, config.ReceiverBufferSize),
		closed:         atomic.NewBool(false),
		done:           make(chan struct{}),
		logger:         logger,
	}

	return c, nil
}

// Start starts message processing on c. Note, once c has been started, it may
// close itself if it encounters an error reading/writing to the underlying
// socket.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(4)
		go c.readLoop()
		go c.writeLoop()
		go c.disconnectTimeoutLoop()
		go c.keepAliveLoop()
	})
}

// PeerID returns the remote peer id.
func (c *Conn) PeerID() core.PeerID {
	return c.peerID
}

// InfoHash returns the info hash for the torrent being transmitted over this
// connection.
func (c *Conn) InfoHash() core.InfoHash {
	return c.infoHash
}

// CreatedAt returns the time at which the Conn was created.
func (c *Conn) CreatedAt() time.Time {
	return c.createdAt
}

func (c *Conn) String() string {
	return fmt.Sprintf("Conn(peer=%s, hash=%s, opened_by_remote=%t)",
		c.peerID, c.infoHash, c.openedByRemote)
}

// Send writes the given message to the underlying connection.
func (c *Conn) Send(msg *Message) error {
	select {
	case <-c.done:
		return errors.New("conn closed")
	case c.sender <- msg:
		return nil
	default:
		// TODO(codyg): Consider a timeout here instead.
		c.stats.Tagged(map[string]string{
			"dropped_message_id": fmt.Sprintf("%d", msg.ID),
		}).Counter("dropped_messages").Inc(1)
		return errors.New("send buffer full")
	}
}

// Receiver returns a read-only channel for reading incoming messages off the connection.
func (c *Conn) Receiver() <-chan *Message {
	return c.receiver
}

// Close starts the shutdown sequence for the Conn.
func (c *Conn) Close() {
	if !c.closed.CAS(false, true) {
		return
	}
	go func() {
		close(c.done)
		c.nc.Close()
		c.wg.Wait()
		c.events.ConnClosed(c)
	}()
}

// IsClosed returns true if the c is closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

func (c *Conn) readMessage() (*Message, error) {
	msg, err := readMessage(c.nc, c.pieceCount, func(n int) error {
		if err := c.bandwidth.ReserveIngress(int64(n)); err != nil {
			c.log().Errorf("Error reserving ingress bandwidth for piece payload: %s", err)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read message: %s", err)
	}
	c.lastRecv.Store(c.clk.Now().UnixNano())
	if msg.ID == wire.PieceID {
		c.countBandwidth("ingress", int64(8*len(msg.Piece.Payload)))
	}
	return msg, nil
}

// disconnectTimeoutLoop closes the connection once DisconnectTimeout has
// elapsed since the last byte was received from the remote peer.
func (c *Conn) disconnectTimeoutLoop() {
	defer c.wg.Done()
	for {
		elapsed := c.clk.Now().Sub(time.Unix(0, c.lastRecv.Load()))
		remaining := c.config.DisconnectTimeout - elapsed
		if remaining <= 0 {
			c.log().Infof("Closing conn after %s without receiving any bytes", c.config.DisconnectTimeout)
			c.Close()
			return
		}
		select {
		case <-c.clk.After(remaining):
		case <-c.done:
			return
		}
	}
}

// keepAliveLoop sends a KeepAlive message whenever KeepAliveInterval elapses
// without anything else having been sent to the remote peer.
func (c *Conn) keepAliveLoop() {
	defer c.wg.Done()
	for {
		elapsed := c.clk.Now().Sub(time.Unix(0, c.lastSent.Load()))
		remaining := c.config.KeepAliveInterval - elapsed
		if remaining <= 0 {
			if err := c.Send(wire.NewKeepAliveMessage()); err != nil {
				c.log().Debugf("Error sending keep alive: %s", err)
			}
			remaining = c.config.KeepAliveInterval
		}
		select {
		case <-c.clk.After(remaining):
		case <-c.done:
			return
		}
	}
}

// readLoop reads messages off of the underlying connection and sends them to the
// receiver channel.
func (c *Conn) readLoop() {
	defer func() {
		close(c.receiver)
		c.wg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
			msg, err := c.readMessage()
			if err != nil {
				c.log().Infof("Error reading message from socket, exiting read loop: %s", err)
				return
			}
			c.receiver <- msg
		}
	}
}

func (c *Conn) sendMessage(msg *Message) error {
	if msg.ID == wire.PieceID {
		if err := c.bandwidth.ReserveEgress(int64(len(msg.Piece.Payload))); err != nil {
			// TODO(codyg): This is bad. Consider alerting here.
			c.log().Errorf("Error reserving egress bandwidth for piece payload: %s", err)
			return fmt.Errorf("egress bandwidth: %s", err)
		}
	}
	if err := sendMessage(c.nc, msg); err != nil {
		return fmt.Errorf("send message: %s", err)
	}
	c.lastSent.Store(c.clk.Now().UnixNano())
	if msg.ID == wire.PieceID {
		c.countBandwidth("egress", int64(8*len(msg.Piece.Payload)))
	}
	return nil
}

// writeLoop writes messages the underlying connection by pulling messages off of the sender
// channel.
func (c *Conn) writeLoop() {
	defer func() {
		c.wg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sender:
			if err := c.sendMessage(msg); err != nil {
				c.log().Infof("Error writing message to socket, exiting write loop: %s", err)
				return
			}
		}
	}
}

func (c *Conn) countBandwidth(direction string, n int64) {
	c.stats.Tagged(map[string]string{
		"piece_bandwidth_direction": direction,
	}).Counter("piece_bandwidth").Inc(n)
}

func (c *Conn) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	keysAndValues = append(keysAndValues, "remote_peer", c.peerID, "hash", c.infoHash)
	return c.logger.With(keysAndValues...)
}

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

// Package udptracker implements the UDP tracker protocol (BEP-15):
// connect/announce/scrape transactions over a fixed binary wire format,
// with connection-id caching and retransmission.
package udptracker

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pxqr/network-bittorrent/core"
	"github.com/pxqr/network-bittorrent/utils/backoff"
)

// protocolMagic is the connection-id sent on a connect request.
const protocolMagic uint64 = 0x41727101980

// connectionLifetime is how long a connection-id remains valid after a
// successful connect.
const connectionLifetime = 60 * time.Second

const (
	actionConnect  uint32 = 0
	actionAnnounce uint32 = 1
	actionScrape   uint32 = 2
	actionError    uint32 = 3
)

// Event identifies the announce event field.
type Event uint32

// Announce events.
const (
	EventNone      Event = 0
	EventCompleted Event = 1
	EventStarted   Event = 2
	EventStopped   Event = 3
)

// AnnounceParams defines the fields of a UDP announce request.
type AnnounceParams struct {
	InfoHash   core.InfoHash
	PeerID     core.PeerID
	Downloaded int64
	Left       int64
	Uploaded   int64
	Event      Event
	IP         uint32
	Key        uint32
	NumWant    int32
	Port       uint16
}

// Response is the decoded result of an announce.
type Response struct {
	Interval   time.Duration
	Leechers   uint32
	Seeders    uint32
	Peers      []*core.PeerInfo
}

// ScrapeInfo is the per-info_hash entry of a scrape response.
type ScrapeInfo struct {
	Complete   uint32
	Downloaded uint32
	Incomplete uint32
}

// TrackerError is returned when the tracker responds with action=error.
type TrackerError struct {
	Message string
}

func (e *TrackerError) Error() string {
	return fmt.Sprintf("tracker error: %s", e.Message)
}

// TransactionMismatch is returned when a response's transaction id, sender
// address, or action does not match the outstanding request.
type TransactionMismatch struct {
	Detail string
}

func (e *TransactionMismatch) Error() string {
	return fmt.Sprintf("transaction mismatch: %s", e.Detail)
}

// retrySchedule is the BEP-15 recommended timeout: 15*2^n seconds for
// attempt n in 0..8.
var retrySchedule = backoff.New(backoff.Config{
	Min:      15 * time.Second,
	Max:      15 * time.Second * (1 << 8),
	Factor:   2,
	NoJitter: true,
	// Eight retransmissions after the first attempt, per BEP-15.
	RetryTimeout: 15 * time.Second * ((1 << 9) - 1),
})

// Client speaks the UDP tracker protocol against a single tracker address.
// It is not safe for concurrent use from multiple goroutines.
type Client struct {
	addr string

	mu           sync.Mutex
	connID       uint64
	connIDExpiry time.Time
}

// New creates a Client for the UDP tracker at addr (host:port, no scheme).
func New(addr string) *Client {
	return &Client{addr: addr}
}

func (c *Client) dial() (*net.UDPConn, *net.UDPAddr, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", c.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve udp addr: %s", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial udp: %s", err)
	}
	return conn, udpAddr, nil
}

// connectionID returns a valid connection id, reconnecting if the cached one
// has expired or none has been established yet.
func (c *Client) connectionID(conn *net.UDPConn, addr *net.UDPAddr) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().Before(c.connIDExpiry) {
		return c.connID, nil
	}

	id, err := connect(conn, addr)
	if err != nil {
		return 0, err
	}
	c.connID = id
	c.connIDExpiry = time.Now().Add(connectionLifetime)
	return id, nil
}

func connect(conn *net.UDPConn, addr *net.UDPAddr) (uint64, error) {
	var connID uint64
	var finalErr error
	a := retrySchedule.Attempts()
	for a.WaitForNext() {
		txID := newTransactionID()

		req := make([]byte, 16)
		binary.BigEndian.PutUint64(req[0:8], protocolMagic)
		binary.BigEndian.PutUint32(req[8:12], actionConnect)
		binary.BigEndian.PutUint32(req[12:16], txID)

		resp, _, err := roundTrip(conn, addr, req, 1500)
		if err != nil {
			finalErr = err
			continue
		}
		if len(resp) < 16 {
			finalErr = &TransactionMismatch{Detail: "connect response too short"}
			continue
		}
		if err := validateHeader(resp, txID, actionConnect); err != nil {
			finalErr = err
			continue
		}
		connID = binary.BigEndian.Uint64(resp[8:16])
		return connID, nil
	}
	if a.Err() != nil {
		return 0, fmt.Errorf("connect: %s", a.Err())
	}
	return 0, finalErr
}

// Announce performs a connect (if needed) followed by an announce
// transaction.
func (c *Client) Announce(p AnnounceParams) (*Response, error) {
	conn, addr, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	connID, err := c.connectionID(conn, addr)
	if err != nil {
		return nil, err
	}

	var resp *Response
	var finalErr error
	a := retrySchedule.Attempts()
	for a.WaitForNext() {
		txID := newTransactionID()

		req := make([]byte, 98)
		binary.BigEndian.PutUint64(req[0:8], connID)
		binary.BigEndian.PutUint32(req[8:12], actionAnnounce)
		binary.BigEndian.PutUint32(req[12:16], txID)
		copy(req[16:36], p.InfoHash.Bytes())
		copy(req[36:56], p.PeerID[:])
		binary.BigEndian.PutUint64(req[56:64], uint64(p.Downloaded))
		binary.BigEndian.PutUint64(req[64:72], uint64(p.Left))
		binary.BigEndian.PutUint64(req[72:80], uint64(p.Uploaded))
		binary.BigEndian.PutUint32(req[80:84], uint32(p.Event))
		binary.BigEndian.PutUint32(req[84:88], p.IP)
		binary.BigEndian.PutUint32(req[88:92], p.Key)
		binary.BigEndian.PutUint32(req[92:96], uint32(p.NumWant))
		binary.BigEndian.PutUint16(req[96:98], p.Port)

		raw, _, err := roundTrip(conn, addr, req, 1500)
		if err != nil {
			finalErr = err
			continue
		}
		r, err := decodeAnnounceResponse(raw, txID)
		if err != nil {
			finalErr = err
			continue
		}
		resp = r
		return resp, nil
	}
	if a.Err() != nil {
		return nil, fmt.Errorf("announce: %s", a.Err())
	}
	return nil, finalErr
}

func decodeAnnounceResponse(resp []byte, txID uint32) (*Response, error) {
	if len(resp) < 8 {
		return nil, &TransactionMismatch{Detail: "response too short for header"}
	}
	action := binary.BigEndian.Uint32(resp[0:4])
	if action == actionError {
		return nil, &TrackerError{Message: string(resp[8:])}
	}
	if err := validateHeader(resp, txID, actionAnnounce); err != nil {
		return nil, err
	}
	if len(resp) < 20 {
		return nil, &TransactionMismatch{Detail: "announce response too short"}
	}

	interval := binary.BigEndian.Uint32(resp[8:12])
	leechers := binary.BigEndian.Uint32(resp[12:16])
	seeders := binary.BigEndian.Uint32(resp[16:20])

	peerBytes := resp[20:]
	if len(peerBytes)%6 != 0 {
		return nil, fmt.Errorf("peers length %d not a multiple of 6", len(peerBytes))
	}
	var peers []*core.PeerInfo
	for i := 0; i+6 <= len(peerBytes); i += 6 {
		ip := fmt.Sprintf("%d.%d.%d.%d", peerBytes[i], peerBytes[i+1], peerBytes[i+2], peerBytes[i+3])
		port := int(peerBytes[i+4])<<8 | int(peerBytes[i+5])
		peers = append(peers, core.NewPeerInfo(core.PeerID{}, ip, port, false, false))
	}

	return &Response{
		Interval: time.Duration(interval) * time.Second,
		Leechers: leechers,
		Seeders:  seeders,
		Peers:    peers,
	}, nil
}

// Scrape performs a connect (if needed) followed by a scrape transaction for
// up to 74 info hashes (the protocol's recommended max per request).
func (c *Client) Scrape(hashes []core.InfoHash) (map[core.InfoHash]ScrapeInfo, error) {
	conn, addr, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	connID, err := c.connectionID(conn, addr)
	if err != nil {
		return nil, err
	}

	var out map[core.InfoHash]ScrapeInfo
	var finalErr error
	a := retrySchedule.Attempts()
	for a.WaitForNext() {
		txID := newTransactionID()

		req := make([]byte, 16+20*len(hashes))
		binary.BigEndian.PutUint64(req[0:8], connID)
		binary.BigEndian.PutUint32(req[8:12], actionScrape)
		binary.BigEndian.PutUint32(req[12:16], txID)
		for i, h := range hashes {
			copy(req[16+20*i:16+20*(i+1)], h.Bytes())
		}

		raw, _, err := roundTrip(conn, addr, req, 1500)
		if err != nil {
			finalErr = err
			continue
		}
		o, err := decodeScrapeResponse(raw, txID, hashes)
		if err != nil {
			finalErr = err
			continue
		}
		out = o
		return out, nil
	}
	if a.Err() != nil {
		return nil, fmt.Errorf("scrape: %s", a.Err())
	}
	return nil, finalErr
}

func decodeScrapeResponse(resp []byte, txID uint32, hashes []core.InfoHash) (map[core.InfoHash]ScrapeInfo, error) {
	if len(resp) < 8 {
		return nil, &TransactionMismatch{Detail: "response too short for header"}
	}
	action := binary.BigEndian.Uint32(resp[0:4])
	if action == actionError {
		return nil, &TrackerError{Message: string(resp[8:])}
	}
	if err := validateHeader(resp, txID, actionScrape); err != nil {
		return nil, err
	}

	body := resp[8:]
	if len(body)%12 != 0 {
		return nil, fmt.Errorf("scrape body length %d not a multiple of 12", len(body))
	}
	n := len(body) / 12
	if n != len(hashes) {
		return nil, fmt.Errorf("scrape returned %d entries, expected %d", n, len(hashes))
	}

	out := make(map[core.InfoHash]ScrapeInfo, n)
	for i := 0; i < n; i++ {
		rec := body[i*12 : (i+1)*12]
		out[hashes[i]] = ScrapeInfo{
			Complete:   binary.BigEndian.Uint32(rec[0:4]),
			Downloaded: binary.BigEndian.Uint32(rec[4:8]),
			Incomplete: binary.BigEndian.Uint32(rec[8:12]),
		}
	}
	return out, nil
}

// validateHeader checks that resp's transaction id matches txID and its
// action matches wantAction.
func validateHeader(resp []byte, txID uint32, wantAction uint32) error {
	action := binary.BigEndian.Uint32(resp[0:4])
	gotTxID := binary.BigEndian.Uint32(resp[4:8])
	if gotTxID != txID {
		return &TransactionMismatch{
			Detail: fmt.Sprintf("transaction id mismatch: got %d, want %d", gotTxID, txID),
		}
	}
	if action != wantAction {
		return &TransactionMismatch{
			Detail: fmt.Sprintf("action mismatch: got %d, want %d", action, wantAction),
		}
	}
	return nil
}

// roundTrip sends req and reads a single response of up to maxRespSize
// bytes, validating that it came from addr.
func roundTrip(conn *net.UDPConn, addr *net.UDPAddr, req []byte, maxRespSize int) ([]byte, *net.UDPAddr, error) {
	if err := conn.SetDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return nil, nil, fmt.Errorf("set deadline: %s", err)
	}
	if _, err := conn.Write(req); err != nil {
		return nil, nil, fmt.Errorf("write: %s", err)
	}

	buf := make([]byte, maxRespSize)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("read: %s", err)
	}
	if !from.IP.Equal(addr.IP) || from.Port != addr.Port {
		return nil, nil, &TransactionMismatch{
			Detail: fmt.Sprintf("response from unexpected sender %s, want %s", from, addr),
		}
	}
	return buf[:n], from, nil
}

func newTransactionID() uint32 {
	return rand.Uint32()
}

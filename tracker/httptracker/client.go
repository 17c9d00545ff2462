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

// Package httptracker implements the HTTP(S) half of the BitTorrent tracker
// protocol: announce/scrape URL construction and bencoded response decoding.
package httptracker

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pxqr/network-bittorrent/core"
	"github.com/pxqr/network-bittorrent/lib/torrent/bencode"
	"github.com/pxqr/network-bittorrent/utils/httputil"

	"github.com/cenkalti/backoff"
)

// Event identifies the announce event field.
type Event string

// Announce events.
const (
	EventNone      Event = ""
	EventStarted   Event = "started"
	EventStopped   Event = "stopped"
	EventCompleted Event = "completed"
)

// AnnounceParams defines the fields of an HTTP announce request.
type AnnounceParams struct {
	InfoHash   core.InfoHash
	PeerID     core.PeerID
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
	NumWant    int
}

// rawResponse mirrors the bencoded dict a tracker returns. Peers is decoded
// manually since it may be either a list of dicts or a compact byte string.
type rawResponse struct {
	FailureReason string      `bencode:"failure reason"`
	Interval      int         `bencode:"interval"`
	Peers         interface{} `bencode:"peers"`
	Peers6        string      `bencode:"peers6"`
}

// Response is the decoded result of an announce.
type Response struct {
	Interval time.Duration
	Peers    []*core.PeerInfo
}

// TrackerError is returned when the tracker responds with a "failure reason".
type TrackerError struct {
	Reason string
}

func (e *TrackerError) Error() string {
	return fmt.Sprintf("tracker error: %s", e.Reason)
}

// Announce issues an HTTP(S) announce request against trackerURL and decodes
// the bencoded response. tlsConfig is nil for plain HTTP trackers.
func Announce(trackerURL string, p AnnounceParams, tlsConfig *httputil.TLSConfig) (*Response, error) {
	u, err := url.Parse(trackerURL)
	if err != nil {
		return nil, fmt.Errorf("parse tracker url: %s", err)
	}

	q := u.Query()
	q.Set("info_hash", string(p.InfoHash.Bytes()))
	q.Set("peer_id", string(p.PeerID[:]))
	q.Set("port", strconv.Itoa(p.Port))
	q.Set("uploaded", strconv.FormatInt(p.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(p.Downloaded, 10))
	q.Set("left", strconv.FormatInt(p.Left, 10))
	q.Set("compact", "1")
	if p.Event != EventNone {
		q.Set("event", string(p.Event))
	}
	if p.NumWant > 0 {
		q.Set("numwant", strconv.Itoa(p.NumWant))
	}
	u.RawQuery = q.Encode()

	resp, err := httputil.Get(
		u.String(),
		httputil.SendTimeout(15*time.Second),
		httputil.SendTLS(tlsConfig),
		httputil.SendRetry(httputil.RetryBackoff(backoff.NewExponentialBackOff())))
	if err != nil {
		return nil, fmt.Errorf("send announce: %s", err)
	}
	defer resp.Body.Close()

	var raw rawResponse
	if err := bencode.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode announce response: %s", err)
	}
	if raw.FailureReason != "" {
		return nil, &TrackerError{Reason: raw.FailureReason}
	}

	peers, err := decodePeers(raw.Peers)
	if err != nil {
		return nil, fmt.Errorf("decode peers: %s", err)
	}
	peers6, err := decodeCompactPeers6(raw.Peers6)
	if err != nil {
		return nil, fmt.Errorf("decode peers6: %s", err)
	}

	return &Response{
		Interval: time.Duration(raw.Interval) * time.Second,
		Peers:    append(peers, peers6...),
	}, nil
}

// ScrapeURL derives the scrape endpoint for announceURL per the well-known
// convention: the final path segment must begin with "announce"; that
// literal prefix is swapped for "scrape", preserving any suffix and the
// query string untouched. Returns false if the tracker has no scrape
// convention (the final segment doesn't start with "announce").
func ScrapeURL(announceURL string) (string, bool) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return "", false
	}

	i := strings.LastIndex(u.Path, "/")
	last := u.Path[i+1:]
	if !strings.HasPrefix(last, "announce") {
		return "", false
	}

	u.Path = u.Path[:i+1] + "scrape" + strings.TrimPrefix(last, "announce")
	return u.String(), true
}

// ScrapeInfo is the per-info_hash entry of a scrape response.
type ScrapeInfo struct {
	Complete   int `bencode:"complete"`
	Downloaded int `bencode:"downloaded"`
	Incomplete int `bencode:"incomplete"`
}

type scrapeResponse struct {
	Files map[string]ScrapeInfo `bencode:"files"`
}

// Scrape issues a scrape request for the given info hashes.
func Scrape(announceURL string, hashes []core.InfoHash, tlsConfig *httputil.TLSConfig) (map[core.InfoHash]ScrapeInfo, error) {
	scrapeURL, ok := ScrapeURL(announceURL)
	if !ok {
		return nil, fmt.Errorf("tracker does not support scrape: %s", announceURL)
	}

	u, err := url.Parse(scrapeURL)
	if err != nil {
		return nil, fmt.Errorf("parse scrape url: %s", err)
	}
	q := u.Query()
	for _, h := range hashes {
		q.Add("info_hash", string(h.Bytes()))
	}
	u.RawQuery = q.Encode()

	resp, err := httputil.Get(u.String(), httputil.SendTimeout(15*time.Second), httputil.SendTLS(tlsConfig))
	if err != nil {
		return nil, fmt.Errorf("send scrape: %s", err)
	}
	defer resp.Body.Close()

	var raw scrapeResponse
	if err := bencode.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode scrape response: %s", err)
	}

	out := make(map[core.InfoHash]ScrapeInfo, len(raw.Files))
	for k, v := range raw.Files {
		h := core.NewInfoHashFromBytes([]byte(k))
		out[h] = v
	}
	return out, nil
}

func decodePeers(raw interface{}) ([]*core.PeerInfo, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		// Compact form: a single byte string of 6-byte entries.
		return decodeCompactPeers4(v)
	case []interface{}:
		// Dictionary form: a list of {peer id, ip, port} dicts.
		peers := make([]*core.PeerInfo, 0, len(v))
		for _, elem := range v {
			dict, ok := elem.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("peer list entry is not a dict")
			}
			var id core.PeerID
			if s, ok := dict["peer id"].(string); ok {
				copy(id[:], s)
			}
			ip, _ := dict["ip"].(string)
			port, _ := dict["port"].(int64)
			peers = append(peers, core.NewPeerInfo(id, ip, int(port), false, false))
		}
		return peers, nil
	default:
		return nil, fmt.Errorf("peers is neither a compact string nor a peer dict list")
	}
}

func decodeCompactPeers4(b string) ([]*core.PeerInfo, error) {
	if len(b)%6 != 0 {
		return nil, fmt.Errorf("compact peers length %d not a multiple of 6", len(b))
	}
	var peers []*core.PeerInfo
	for i := 0; i+6 <= len(b); i += 6 {
		ip := fmt.Sprintf("%d.%d.%d.%d", b[i], b[i+1], b[i+2], b[i+3])
		port := int(b[i+4])<<8 | int(b[i+5])
		peers = append(peers, core.NewPeerInfo(core.PeerID{}, ip, port, false, false))
	}
	return peers, nil
}

func decodeCompactPeers6(b string) ([]*core.PeerInfo, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%18 != 0 {
		return nil, fmt.Errorf("compact peers6 length %d not a multiple of 18", len(b))
	}
	var peers []*core.PeerInfo
	for i := 0; i+18 <= len(b); i += 18 {
		segs := make([]string, 8)
		for j := 0; j < 8; j++ {
			segs[j] = fmt.Sprintf("%x", int(b[i+2*j])<<8|int(b[i+2*j+1]))
		}
		ip := strings.Join(segs, ":")
		port := int(b[i+16])<<8 | int(b[i+17])
		peers = append(peers, core.NewPeerInfo(core.PeerID{}, ip, port, false, false))
	}
	return peers, nil
}

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
package wire

import (
	"io"

	"github.com/pxqr/network-bittorrent/core"
)

// DefaultProtocolName is the protocol identifier string carried in every
// handshake.
const DefaultProtocolName = "BitTorrent protocol"

// HandshakeLen is the fixed wire size of a Handshake: 1 + 19 + 8 + 20 + 20.
const HandshakeLen = 1 + len(DefaultProtocolName) + 8 + 20 + 20

// Handshake is the first record exchanged on a peer connection, strictly
// before any length-prefixed Message.
type Handshake struct {
	ProtocolName string
	Capabilities [8]byte
	InfoHash     core.InfoHash
	PeerID       core.PeerID
}

// NewHandshake builds a Handshake with the default protocol name and no
// capability bits set.
func NewHandshake(infoHash core.InfoHash, peerID core.PeerID) Handshake {
	return Handshake{
		ProtocolName: DefaultProtocolName,
		InfoHash:     infoHash,
		PeerID:       peerID,
	}
}

// Encode renders h into its fixed 68-byte wire layout.
func (h Handshake) Encode() []byte {
	buf := make([]byte, 0, HandshakeLen)
	buf = append(buf, byte(len(h.ProtocolName)))
	buf = append(buf, []byte(h.ProtocolName)...)
	buf = append(buf, h.Capabilities[:]...)
	buf = append(buf, h.InfoHash.Bytes()...)
	buf = append(buf, h.PeerID[:]...)
	return buf
}

// DecodeHandshake parses a 68-byte handshake record. Returns a *ProtocolError
// if the length byte or protocol string do not match the expected layout.
func DecodeHandshake(buf []byte) (Handshake, error) {
	if len(buf) != HandshakeLen {
		return Handshake{}, newProtocolError(
			"handshake has invalid length: expected %d, got %d", HandshakeLen, len(buf))
	}
	nameLen := int(buf[0])
	if nameLen != len(DefaultProtocolName) {
		return Handshake{}, newProtocolError(
			"handshake protocol name length mismatch: expected %d, got %d", len(DefaultProtocolName), nameLen)
	}
	name := string(buf[1 : 1+nameLen])
	if name != DefaultProtocolName {
		return Handshake{}, newProtocolError("unrecognized protocol name: %q", name)
	}
	offset := 1 + nameLen
	var h Handshake
	h.ProtocolName = name
	copy(h.Capabilities[:], buf[offset:offset+8])
	offset += 8
	copy(h.InfoHash[:], buf[offset:offset+20])
	offset += 20
	copy(h.PeerID[:], buf[offset:offset+20])
	return h, nil
}

// WriteHandshake writes h to w.
func WriteHandshake(w io.Writer, h Handshake) error {
	_, err := w.Write(h.Encode())
	return err
}

// ReadHandshake reads a fixed HandshakeLen-byte record from r and decodes it.
func ReadHandshake(r io.Reader) (Handshake, error) {
	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, err
	}
	return DecodeHandshake(buf)
}

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
	"bytes"
	"testing"

	"github.com/pxqr/network-bittorrent/core"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		desc string
		msg  *Message
	}{
		{"keep alive", NewKeepAliveMessage()},
		{"choke", NewChokeMessage()},
		{"unchoke", NewUnchokeMessage()},
		{"interested", NewInterestedMessage()},
		{"not interested", NewNotInterestedMessage()},
		{"have", NewHaveMessage(42)},
		{"request", NewRequestMessage(core.BlockIx{Piece: 3, Offset: 16384, Length: 16384})},
		{"piece", NewPieceMessage(core.Block{Piece: 3, Offset: 16384, Payload: []byte("hello world")})},
		{"cancel", NewCancelMessage(core.BlockIx{Piece: 3, Offset: 0, Length: 16384})},
		{"port", NewPortMessage(6881)},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			require := require.New(t)

			var buf bytes.Buffer
			require.NoError(WriteMessage(&buf, test.msg))

			decoded, err := ReadMessage(&buf, 10, DefaultMaxMessageLength)
			require.NoError(err)
			require.Equal(test.msg, decoded)
		})
	}
}

func TestBitfieldMessageRoundTripAdjustsSize(t *testing.T) {
	require := require.New(t)

	bf := core.NewBitfield(10)
	bf.Insert(0)
	bf.Insert(9)

	msg := NewBitfieldMessage(bf)

	var buf bytes.Buffer
	require.NoError(WriteMessage(&buf, msg))

	decoded, err := ReadMessage(&buf, 10, DefaultMaxMessageLength)
	require.NoError(err)

	want := bf.AdjustSize(10)
	require.True(want.Equal(decoded.Bitfield))
}

func TestDecodeMessageUnknownID(t *testing.T) {
	require := require.New(t)

	_, err := DecodeMessage([]byte{200}, 0)
	require.Error(err)
	var protoErr *ProtocolError
	require.ErrorAs(err, &protoErr)
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	require.NoError(WriteMessage(&buf, NewHaveMessage(1)))

	// Corrupt the length prefix to claim an oversized payload.
	corrupted := buf.Bytes()
	corrupted[0] = 0xFF

	_, err := ReadMessage(bytes.NewReader(corrupted), 10, 16)
	require.Error(err)
}

func TestHandshakeRoundTrip(t *testing.T) {
	require := require.New(t)

	ih := core.NewInfoHashFromBytes([]byte("some info dict"))
	peerID, err := core.RandomPeerID()
	require.NoError(err)

	h := NewHandshake(ih, peerID)

	var buf bytes.Buffer
	require.NoError(WriteHandshake(&buf, h))
	require.Equal(HandshakeLen, buf.Len())

	decoded, err := ReadHandshake(&buf)
	require.NoError(err)
	require.Equal(h, decoded)
}

func TestHandshakeRejectsBadLength(t *testing.T) {
	require := require.New(t)

	buf := make([]byte, HandshakeLen)
	buf[0] = 5 // wrong protocol name length
	_, err := DecodeHandshake(buf)
	require.Error(err)
}

func TestHandshakeRejectsBadProtocolName(t *testing.T) {
	require := require.New(t)

	ih := core.NewInfoHashFromBytes([]byte("x"))
	peerID, err := core.RandomPeerID()
	require.NoError(err)
	h := NewHandshake(ih, peerID)
	encoded := h.Encode()
	copy(encoded[1:], "NotBitTorrent proto")

	_, err = DecodeHandshake(encoded)
	require.Error(err)
}

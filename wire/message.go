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
	"encoding/binary"

	"github.com/pxqr/network-bittorrent/core"
)

// MessageID identifies the payload shape of a non-KeepAlive Message.
type MessageID uint8

// Message ids, per the peer-wire protocol.
const (
	ChokeID         MessageID = 0
	UnchokeID       MessageID = 1
	InterestedID    MessageID = 2
	NotInterestedID MessageID = 3
	HaveID          MessageID = 4
	BitfieldID      MessageID = 5
	RequestID       MessageID = 6
	PieceID         MessageID = 7
	CancelID        MessageID = 8
	PortID          MessageID = 9
)

// isKeepAlive is a pseudo-message-id used internally to mark a decoded
// zero-length message. It is never written to the wire.
const isKeepAlive MessageID = 255

// Message is the peer-wire protocol's tagged message variant. Only the
// fields relevant to ID are meaningful; see the New* constructors.
type Message struct {
	ID       MessageID
	KeepAlive bool

	// Have.
	Index core.PieceIndex

	// Bitfield.
	Bitfield *core.Bitfield

	// Request, Cancel.
	Block core.BlockIx

	// Piece.
	Piece core.Block

	// Port.
	Port uint16
}

// NewKeepAliveMessage returns the zero-length KeepAlive message.
func NewKeepAliveMessage() *Message {
	return &Message{ID: isKeepAlive, KeepAlive: true}
}

// NewChokeMessage returns a Choke message.
func NewChokeMessage() *Message { return &Message{ID: ChokeID} }

// NewUnchokeMessage returns an Unchoke message.
func NewUnchokeMessage() *Message { return &Message{ID: UnchokeID} }

// NewInterestedMessage returns an Interested message.
func NewInterestedMessage() *Message { return &Message{ID: InterestedID} }

// NewNotInterestedMessage returns a NotInterested message.
func NewNotInterestedMessage() *Message { return &Message{ID: NotInterestedID} }

// NewHaveMessage returns a Have message announcing possession of index.
func NewHaveMessage(index core.PieceIndex) *Message {
	return &Message{ID: HaveID, Index: index}
}

// NewBitfieldMessage returns a Bitfield message carrying bf.
func NewBitfieldMessage(bf *core.Bitfield) *Message {
	return &Message{ID: BitfieldID, Bitfield: bf}
}

// NewRequestMessage returns a Request message for block.
func NewRequestMessage(block core.BlockIx) *Message {
	return &Message{ID: RequestID, Block: block}
}

// NewPieceMessage returns a Piece message carrying block's payload.
func NewPieceMessage(block core.Block) *Message {
	return &Message{ID: PieceID, Piece: block}
}

// NewCancelMessage returns a Cancel message for block.
func NewCancelMessage(block core.BlockIx) *Message {
	return &Message{ID: CancelID, Block: block}
}

// NewPortMessage returns a Port message, used to inform a peer of our DHT
// listener port.
func NewPortMessage(port uint16) *Message {
	return &Message{ID: PortID, Port: port}
}

// Encode renders m into its wire payload, NOT including the length prefix.
// A KeepAlive message encodes to an empty slice.
func (m *Message) Encode() []byte {
	if m.KeepAlive {
		return nil
	}
	switch m.ID {
	case ChokeID, UnchokeID, InterestedID, NotInterestedID:
		return []byte{byte(m.ID)}
	case HaveID:
		buf := make([]byte, 5)
		buf[0] = byte(m.ID)
		binary.BigEndian.PutUint32(buf[1:], uint32(m.Index))
		return buf
	case BitfieldID:
		payload := m.Bitfield.Bytes()
		buf := make([]byte, 1+len(payload))
		buf[0] = byte(m.ID)
		copy(buf[1:], payload)
		return buf
	case RequestID, CancelID:
		buf := make([]byte, 13)
		buf[0] = byte(m.ID)
		binary.BigEndian.PutUint32(buf[1:], uint32(m.Block.Piece))
		binary.BigEndian.PutUint32(buf[5:], m.Block.Offset)
		binary.BigEndian.PutUint32(buf[9:], m.Block.Length)
		return buf
	case PieceID:
		buf := make([]byte, 9+len(m.Piece.Payload))
		buf[0] = byte(m.ID)
		binary.BigEndian.PutUint32(buf[1:], uint32(m.Piece.Piece))
		binary.BigEndian.PutUint32(buf[5:], m.Piece.Offset)
		copy(buf[9:], m.Piece.Payload)
		return buf
	case PortID:
		buf := make([]byte, 3)
		buf[0] = byte(m.ID)
		binary.BigEndian.PutUint16(buf[1:], m.Port)
		return buf
	default:
		panic("wire: encode of malformed message")
	}
}

// DecodeMessage parses a single message payload (without its length prefix).
// pieceCount is the torrent's declared piece count, used to adjust a
// Bitfield message's decoded capacity to the exact value per §4.2.
func DecodeMessage(payload []byte, pieceCount uint) (*Message, error) {
	if len(payload) == 0 {
		return NewKeepAliveMessage(), nil
	}
	id := MessageID(payload[0])
	body := payload[1:]
	switch id {
	case ChokeID, UnchokeID, InterestedID, NotInterestedID:
		if len(body) != 0 {
			return nil, newProtocolError("message id %d expects empty body, got %d bytes", id, len(body))
		}
		return &Message{ID: id}, nil
	case HaveID:
		if len(body) != 4 {
			return nil, newProtocolError("have message expects 4-byte body, got %d", len(body))
		}
		return &Message{ID: id, Index: core.PieceIndex(binary.BigEndian.Uint32(body))}, nil
	case BitfieldID:
		bf := core.NewBitfieldFromBytes(uint(len(body))*8, body).AdjustSize(pieceCount)
		return &Message{ID: id, Bitfield: bf}, nil
	case RequestID, CancelID:
		if len(body) != 12 {
			return nil, newProtocolError("message id %d expects 12-byte body, got %d", id, len(body))
		}
		block := core.BlockIx{
			Piece:  core.PieceIndex(binary.BigEndian.Uint32(body[0:4])),
			Offset: binary.BigEndian.Uint32(body[4:8]),
			Length: binary.BigEndian.Uint32(body[8:12]),
		}
		return &Message{ID: id, Block: block}, nil
	case PieceID:
		if len(body) < 8 {
			return nil, newProtocolError("piece message expects at least 8-byte body, got %d", len(body))
		}
		payloadBytes := make([]byte, len(body)-8)
		copy(payloadBytes, body[8:])
		return &Message{ID: id, Piece: core.Block{
			Piece:   core.PieceIndex(binary.BigEndian.Uint32(body[0:4])),
			Offset:  binary.BigEndian.Uint32(body[4:8]),
			Payload: payloadBytes,
		}}, nil
	case PortID:
		if len(body) != 2 {
			return nil, newProtocolError("port message expects 2-byte body, got %d", len(body))
		}
		return &Message{ID: id, Port: binary.BigEndian.Uint16(body)}, nil
	default:
		return nil, newProtocolError("unknown message id: %d", id)
	}
}

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
	"fmt"
	"io"
)

// DefaultMaxMessageLength bounds the length prefix accepted by ReadMessage,
// guarding against a peer claiming an unreasonable payload size.
const DefaultMaxMessageLength = 32 * 1024 * 1024

// WriteMessage writes m to w as a u32-be length prefix followed by its
// encoded payload. A KeepAlive message writes only the zero length prefix.
func WriteMessage(w io.Writer, m *Message) error {
	payload := m.Encode()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %s", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %s", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed message from r. pieceCount is passed
// through to DecodeMessage to adjust a Bitfield message's capacity.
func ReadMessage(r io.Reader, pieceCount uint, maxLen uint32) (*Message, error) {
	return ReadMessageReserved(r, pieceCount, maxLen, nil)
}

// ReadMessageReserved behaves like ReadMessage, except that for a Piece
// message it invokes reserveIngress (if non-nil) with the piece payload's
// byte length before reading the payload off the wire. This lets a caller
// rate-limit large piece transfers without the codec itself depending on any
// particular bandwidth limiter.
func ReadMessageReserved(
	r io.Reader, pieceCount uint, maxLen uint32, reserveIngress func(n int) error) (*Message, error) {

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %s", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return NewKeepAliveMessage(), nil
	}
	if length > maxLen {
		return nil, newProtocolError("message length %d exceeds max %d", length, maxLen)
	}

	var idBuf [1]byte
	if _, err := io.ReadFull(r, idBuf[:]); err != nil {
		return nil, fmt.Errorf("read message id: %s", err)
	}
	id := MessageID(idBuf[0])
	bodyLen := length - 1

	if id == PieceID && reserveIngress != nil {
		if bodyLen < 8 {
			return nil, newProtocolError("piece message expects at least 8-byte body, got %d", bodyLen)
		}
		if err := reserveIngress(int(bodyLen - 8)); err != nil {
			return nil, fmt.Errorf("reserve ingress bandwidth: %s", err)
		}
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read payload: %s", err)
	}

	payload := make([]byte, 0, 1+len(body))
	payload = append(payload, idBuf[0])
	payload = append(payload, body...)
	return DecodeMessage(payload, pieceCount)
}

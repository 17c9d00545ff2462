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
	"fmt"
	"net"

	"github.com/pxqr/network-bittorrent/wire"
)

// Message is the peer-wire protocol message exchanged over a Conn.
type Message = wire.Message

func sendMessage(nc net.Conn, msg *Message) error {
	if err := wire.WriteMessage(nc, msg); err != nil {
		return fmt.Errorf("write message: %s", err)
	}
	return nil
}

// readMessage reads the next message off nc. reserveIngress, if non-nil, is
// invoked with a Piece message's payload length before the payload is read,
// letting the caller rate-limit inbound piece transfers.
func readMessage(nc net.Conn, pieceCount uint, reserveIngress func(n int) error) (*Message, error) {
	msg, err := wire.ReadMessageReserved(nc, pieceCount, wire.DefaultMaxMessageLength, reserveIngress)
	if err != nil {
		return nil, fmt.Errorf("read message: %s", err)
	}
	return msg, nil
}

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

// Package wire implements the BitTorrent peer-wire protocol: the fixed
// handshake record and the length-prefixed message codec. The package is
// pure and stateless — it knows nothing about sockets, timers, or session
// state. Callers own the net.Conn and drive reads/writes through it.
package wire

import "fmt"

// ProtocolError indicates a peer sent a malformed handshake or message. It is
// fatal to the peer session it was raised on, and nothing else.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Detail)
}

func newProtocolError(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Detail: fmt.Sprintf(format, args...)}
}

// NewProtocolError builds a ProtocolError, for use by callers outside this
// package that need to surface the same fatal-to-the-session error (e.g. a
// handshake info hash mismatch).
func NewProtocolError(format string, args ...interface{}) *ProtocolError {
	return newProtocolError(format, args...)
}

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
package storage

import "bytes"

type pieceReaderBuffer struct {
	reader *bytes.Reader
}

// NewPieceReaderBuffer returns a PieceReader which wraps an in-memory buffer.
func NewPieceReaderBuffer(b []byte) PieceReader {
	return &pieceReaderBuffer{bytes.NewReader(b)}
}

func (r *pieceReaderBuffer) Read(b []byte) (int, error) {
	return r.reader.Read(b)
}

func (r *pieceReaderBuffer) Close() error {
	return nil
}

func (r *pieceReaderBuffer) Length() int {
	return r.reader.Len()
}

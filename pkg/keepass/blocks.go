// Copyright 2025 The Sandpass Authors
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

package keepass

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"fmt"
	"io"
)

// writeBlockSize is the data size of the blocks emitted on save.
const writeBlockSize = 1 << 20

// readBlocks reads the hashed-block stream that wraps the database XML
// and returns the concatenated block data.  Each block is
// id:u32 | hash:32 | size:u32 | data; ids increment from zero and a
// zero-size block with an all-zero hash terminates the stream.
func readBlocks(r io.Reader) ([]byte, error) {
	rr := reader{r: r}
	var data bytes.Buffer
	var hash [32]byte
	for wantID := uint32(0); ; wantID++ {
		id := rr.readUint32()
		rr.readFull(hash[:])
		size := rr.readUint32()
		if rr.err != nil {
			return nil, rr.err
		}
		if id != wantID {
			return nil, ErrInvalidBlockID
		}
		if size == 0 {
			if hash != [32]byte{} {
				return nil, ErrInvalidBlockHash
			}
			return data.Bytes(), nil
		}
		block := make([]byte, size)
		rr.readFull(block)
		if rr.err != nil {
			return nil, rr.err
		}
		if sha256.Sum256(block) != hash {
			return nil, ErrInvalidBlockHash
		}
		data.Write(block)
	}
}

// writeBlocks emits data as a hashed-block stream followed by the
// zero-size terminator block.
func writeBlocks(w io.Writer, data []byte) error {
	ww := writer{w: w}
	id := uint32(0)
	for len(data) > 0 {
		n := min(len(data), writeBlockSize)
		block := data[:n]
		hash := sha256.Sum256(block)
		ww.writeUint32(id)
		ww.write(hash[:])
		ww.writeUint32(uint32(n))
		ww.write(block)
		data = data[n:]
		id++
	}
	ww.writeUint32(id)
	ww.write(make([]byte, 32))
	ww.writeUint32(0)
	return ww.err
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompression, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompression, err)
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompression, err)
	}
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompression, err)
	}
	if err := zr.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompression, err)
	}
	return out, nil
}

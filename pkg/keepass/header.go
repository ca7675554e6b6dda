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
	"crypto/sha256"
	"io"
)

// File header magic numbers
const (
	magic1 = 0x9aa2d903
	magic2 = 0xb54bfb67 // KeePass2

	fileVersionMajor = 3
	fileVersionMinor = 1
)

// aesCipherID is the UUID of the AES-256 cipher, the only cipher the
// v3 format container carries in practice.
var aesCipherID = [16]byte{
	0x31, 0xc1, 0xf2, 0xe6, 0xbf, 0x71, 0x43, 0x50,
	0xbe, 0x58, 0x05, 0x21, 0x6a, 0xfc, 0x5a, 0xff,
}

// Header field identifiers
const (
	fieldEnd                uint8 = 0
	fieldComment            uint8 = 1
	fieldCipherID           uint8 = 2
	fieldCompression        uint8 = 3
	fieldMasterSeed         uint8 = 4
	fieldTransformSeed      uint8 = 5
	fieldTransformRounds    uint8 = 6
	fieldEncryptionIV       uint8 = 7
	fieldProtectedStreamKey uint8 = 8
	fieldStreamStartBytes   uint8 = 9
	fieldInnerStreamID      uint8 = 10
)

// Compression algorithm identifiers in the header.
const (
	compressionNone uint32 = 0
	compressionGZip uint32 = 1
)

// innerStreamSalsa20 is the only inner stream cipher of the v3 format.
const innerStreamSalsa20 uint32 = 2

// header holds the plaintext file header that precedes the encrypted
// payload.
type header struct {
	minorVersion uint16
	majorVersion uint16

	comment            []byte
	compression        uint32
	masterSeed         [32]byte
	transformSeed      [32]byte
	transformRounds    uint64
	encryptionIV       [16]byte
	protectedStreamKey [32]byte
	streamStartBytes   [32]byte
	innerStream        uint32

	// hash is the SHA-256 of the exact header bytes.  It is embedded
	// in the XML Meta section and lets the reader detect header
	// tampering, since the header itself is not encrypted.
	hash [32]byte
}

// readHeader parses the file header.  It consumes exactly the header
// bytes from r, leaving the reader at the start of the ciphertext.
func readHeader(r io.Reader) (*header, error) {
	sum := sha256.New()
	rr := reader{r: io.TeeReader(r, sum)}

	h := new(header)
	sig1 := rr.readUint32()
	sig2 := rr.readUint32()
	h.minorVersion = rr.readUint16()
	h.majorVersion = rr.readUint16()
	if rr.err != nil {
		return nil, rr.err
	}
	if sig1 != magic1 || sig2 != magic2 {
		return nil, ErrInvalidSignature
	}
	if h.majorVersion != fileVersionMajor {
		return nil, ErrInvalidVersion
	}

	var seen [fieldInnerStreamID + 1]bool
	for {
		id := rr.readByte()
		size := int(rr.readUint16())
		value := make([]byte, size)
		rr.readFull(value)
		if rr.err != nil {
			return nil, rr.err
		}
		if id == fieldEnd {
			// The payload is conventionally 0d 0a 0d 0a; any
			// content is accepted and ignored.
			break
		}
		if err := h.setField(id, value); err != nil {
			return nil, err
		}
		if int(id) < len(seen) {
			seen[id] = true
		}
	}

	for _, id := range []uint8{
		fieldCipherID, fieldCompression, fieldMasterSeed,
		fieldTransformSeed, fieldTransformRounds, fieldEncryptionIV,
		fieldProtectedStreamKey, fieldStreamStartBytes, fieldInnerStreamID,
	} {
		if !seen[id] {
			return nil, MissingFieldError(id)
		}
	}

	sum.Sum(h.hash[:0])
	return h, nil
}

func (h *header) setField(id uint8, value []byte) error {
	switch id {
	case fieldComment:
		h.comment = value
	case fieldCipherID:
		if len(value) != len(aesCipherID) {
			return &HeaderSizeError{ID: id, Size: len(value), Want: len(aesCipherID)}
		}
		if !bytes.Equal(value, aesCipherID[:]) {
			return ErrInvalidCipher
		}
	case fieldCompression:
		v, err := fieldUint32(id, value)
		if err != nil {
			return err
		}
		if v != compressionNone && v != compressionGZip {
			return ErrInvalidCompression
		}
		h.compression = v
	case fieldMasterSeed:
		return copyField(id, h.masterSeed[:], value)
	case fieldTransformSeed:
		return copyField(id, h.transformSeed[:], value)
	case fieldTransformRounds:
		if len(value) != 8 {
			return &HeaderSizeError{ID: id, Size: len(value), Want: 8}
		}
		rr := reader{r: bytes.NewReader(value)}
		h.transformRounds = rr.readUint64()
	case fieldEncryptionIV:
		return copyField(id, h.encryptionIV[:], value)
	case fieldProtectedStreamKey:
		return copyField(id, h.protectedStreamKey[:], value)
	case fieldStreamStartBytes:
		return copyField(id, h.streamStartBytes[:], value)
	case fieldInnerStreamID:
		v, err := fieldUint32(id, value)
		if err != nil {
			return err
		}
		if v != innerStreamSalsa20 {
			return ErrInvalidStreamCipher
		}
		h.innerStream = v
	default:
		return UnhandledFieldError(id)
	}
	return nil
}

func fieldUint32(id uint8, value []byte) (uint32, error) {
	if len(value) != 4 {
		return 0, &HeaderSizeError{ID: id, Size: len(value), Want: 4}
	}
	rr := reader{r: bytes.NewReader(value)}
	return rr.readUint32(), nil
}

func copyField(id uint8, dst, value []byte) error {
	if len(value) != len(dst) {
		return &HeaderSizeError{ID: id, Size: len(value), Want: len(dst)}
	}
	copy(dst, value)
	return nil
}

// write serializes the header to w and records its SHA-256 in h.hash.
func (h *header) write(w io.Writer) error {
	sum := sha256.New()
	ww := writer{w: io.MultiWriter(w, sum)}

	ww.writeUint32(magic1)
	ww.writeUint32(magic2)
	ww.writeUint16(h.minorVersion)
	ww.writeUint16(h.majorVersion)

	if h.comment != nil {
		writeHeaderField(&ww, fieldComment, h.comment)
	}
	writeHeaderField(&ww, fieldCipherID, aesCipherID[:])
	writeHeaderUint32(&ww, fieldCompression, h.compression)
	writeHeaderField(&ww, fieldMasterSeed, h.masterSeed[:])
	writeHeaderField(&ww, fieldTransformSeed, h.transformSeed[:])
	writeHeaderUint64(&ww, fieldTransformRounds, h.transformRounds)
	writeHeaderField(&ww, fieldEncryptionIV, h.encryptionIV[:])
	writeHeaderField(&ww, fieldProtectedStreamKey, h.protectedStreamKey[:])
	writeHeaderField(&ww, fieldStreamStartBytes, h.streamStartBytes[:])
	writeHeaderUint32(&ww, fieldInnerStreamID, h.innerStream)
	writeHeaderField(&ww, fieldEnd, []byte{'\r', '\n', '\r', '\n'})

	if ww.err == nil {
		sum.Sum(h.hash[:0])
	}
	return ww.err
}

func writeHeaderField(w *writer, id uint8, value []byte) {
	w.writeByte(id)
	w.writeUint16(uint16(len(value)))
	w.write(value)
}

func writeHeaderUint32(w *writer, id uint8, value uint32) {
	w.writeByte(id)
	w.writeUint16(4)
	w.writeUint32(value)
}

func writeHeaderUint64(w *writer, id uint8, value uint64) {
	w.writeByte(id)
	w.writeUint16(8)
	w.writeUint64(value)
}

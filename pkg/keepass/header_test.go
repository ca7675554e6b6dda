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
	"errors"
	"testing"
)

func testHeader() *header {
	h := &header{
		minorVersion:    fileVersionMinor,
		majorVersion:    fileVersionMajor,
		compression:     compressionGZip,
		transformRounds: 6000,
		innerStream:     innerStreamSalsa20,
	}
	for i := range h.masterSeed {
		h.masterSeed[i] = byte(i)
	}
	for i := range h.transformSeed {
		h.transformSeed[i] = byte(i + 1)
	}
	for i := range h.encryptionIV {
		h.encryptionIV[i] = byte(i + 2)
	}
	for i := range h.protectedStreamKey {
		h.protectedStreamKey[i] = byte(i + 3)
	}
	for i := range h.streamStartBytes {
		h.streamStartBytes[i] = byte(i + 4)
	}
	return h
}

func TestHeaderRoundTrip(t *testing.T) {
	h := testHeader()
	h.comment = []byte("note")
	buf := new(bytes.Buffer)
	if err := h.write(buf); err != nil {
		t.Fatal("h.write:", err)
	}

	got, err := readHeader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal("readHeader:", err)
	}
	if got.minorVersion != h.minorVersion || got.majorVersion != h.majorVersion {
		t.Errorf("version = %d.%d; want %d.%d", got.majorVersion, got.minorVersion, h.majorVersion, h.minorVersion)
	}
	if !bytes.Equal(got.comment, h.comment) {
		t.Errorf("comment = %q; want %q", got.comment, h.comment)
	}
	if got.compression != h.compression {
		t.Errorf("compression = %d; want %d", got.compression, h.compression)
	}
	if got.masterSeed != h.masterSeed || got.transformSeed != h.transformSeed {
		t.Error("seeds did not round-trip")
	}
	if got.transformRounds != h.transformRounds {
		t.Errorf("transformRounds = %d; want %d", got.transformRounds, h.transformRounds)
	}
	if got.encryptionIV != h.encryptionIV {
		t.Error("IV did not round-trip")
	}
	if got.protectedStreamKey != h.protectedStreamKey || got.streamStartBytes != h.streamStartBytes {
		t.Error("stream fields did not round-trip")
	}
	if got.hash != h.hash {
		t.Errorf("read hash %x != written hash %x", got.hash, h.hash)
	}
}

func TestReadHeaderBadMagic(t *testing.T) {
	h := testHeader()
	buf := new(bytes.Buffer)
	if err := h.write(buf); err != nil {
		t.Fatal("h.write:", err)
	}
	data := buf.Bytes()
	data[0] ^= 0xff
	_, err := readHeader(bytes.NewReader(data))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("readHeader = %v; want ErrInvalidSignature", err)
	}
}

func TestReadHeaderBadVersion(t *testing.T) {
	h := testHeader()
	h.majorVersion = 4
	buf := new(bytes.Buffer)
	if err := h.write(buf); err != nil {
		t.Fatal("h.write:", err)
	}
	_, err := readHeader(bytes.NewReader(buf.Bytes()))
	if !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("readHeader = %v; want ErrInvalidVersion", err)
	}
}

func TestReadHeaderUnknownField(t *testing.T) {
	buf := new(bytes.Buffer)
	ww := writer{w: buf}
	ww.writeUint32(magic1)
	ww.writeUint32(magic2)
	ww.writeUint16(fileVersionMinor)
	ww.writeUint16(fileVersionMajor)
	ww.writeByte(0x7f) // unknown field
	ww.writeUint16(2)
	ww.write([]byte{0, 0})
	if ww.err != nil {
		t.Fatal(ww.err)
	}

	_, err := readHeader(bytes.NewReader(buf.Bytes()))
	var unhandled UnhandledFieldError
	if !errors.As(err, &unhandled) || uint8(unhandled) != 0x7f {
		t.Errorf("readHeader = %v; want UnhandledFieldError(0x7f)", err)
	}
}

func TestReadHeaderBadCipher(t *testing.T) {
	buf := new(bytes.Buffer)
	ww := writer{w: buf}
	ww.writeUint32(magic1)
	ww.writeUint32(magic2)
	ww.writeUint16(fileVersionMinor)
	ww.writeUint16(fileVersionMajor)
	ww.writeByte(fieldCipherID)
	ww.writeUint16(16)
	ww.write(make([]byte, 16)) // not the AES UUID
	if ww.err != nil {
		t.Fatal(ww.err)
	}

	_, err := readHeader(bytes.NewReader(buf.Bytes()))
	if !errors.Is(err, ErrInvalidCipher) {
		t.Errorf("readHeader = %v; want ErrInvalidCipher", err)
	}
}

func TestReadHeaderMissingField(t *testing.T) {
	buf := new(bytes.Buffer)
	ww := writer{w: buf}
	ww.writeUint32(magic1)
	ww.writeUint32(magic2)
	ww.writeUint16(fileVersionMinor)
	ww.writeUint16(fileVersionMajor)
	ww.writeByte(fieldEnd)
	ww.writeUint16(4)
	ww.write([]byte{'\r', '\n', '\r', '\n'})
	if ww.err != nil {
		t.Fatal(ww.err)
	}

	_, err := readHeader(bytes.NewReader(buf.Bytes()))
	var missing MissingFieldError
	if !errors.As(err, &missing) {
		t.Errorf("readHeader = %v; want MissingFieldError", err)
	}
}

func TestReadHeaderWrongFieldSize(t *testing.T) {
	buf := new(bytes.Buffer)
	ww := writer{w: buf}
	ww.writeUint32(magic1)
	ww.writeUint32(magic2)
	ww.writeUint16(fileVersionMinor)
	ww.writeUint16(fileVersionMajor)
	ww.writeByte(fieldMasterSeed)
	ww.writeUint16(16)
	ww.write(make([]byte, 16)) // master seed must be 32 bytes
	if ww.err != nil {
		t.Fatal(ww.err)
	}

	_, err := readHeader(bytes.NewReader(buf.Bytes()))
	var sizeErr *HeaderSizeError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("readHeader = %v; want HeaderSizeError", err)
	}
	if sizeErr.ID != fieldMasterSeed || sizeErr.Size != 16 || sizeErr.Want != 32 {
		t.Errorf("HeaderSizeError = %+v", sizeErr)
	}
}

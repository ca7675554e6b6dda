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

package kdbxcrypt

import (
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/salsa20/salsa"
)

// innerStreamNonce is the nonce KeePass2 fixes for the inner Salsa20
// stream.  Secrecy comes from the per-file protected stream key, which
// is regenerated on every save.
var innerStreamNonce = [8]byte{0xe8, 0x30, 0x09, 0x4b, 0x97, 0x20, 0x5d, 0x2a}

// An InnerStream is the Salsa20 keystream that obfuscates protected
// values inside the database XML.  Keystream bytes are consumed in
// document order across successive XORKeyStream calls, so a single
// stream must be used for one full parse or one full serialization.
type InnerStream struct {
	key     [32]byte
	counter uint64
	rest    []byte // unconsumed keystream of the current block
	block   [64]byte
}

// NewInnerStream creates an inner stream from the protected stream key
// stored in the database header.  The Salsa20 key is the SHA-256 of
// that header field.
func NewInnerStream(protectedStreamKey []byte) *InnerStream {
	s := new(InnerStream)
	s.key = sha256.Sum256(protectedStreamKey)
	return s
}

// XORKeyStream XORs b with the next len(b) keystream bytes in place.
func (s *InnerStream) XORKeyStream(b []byte) {
	for len(b) > 0 {
		if len(s.rest) == 0 {
			s.refill()
		}
		n := min(len(b), len(s.rest))
		for i := 0; i < n; i++ {
			b[i] ^= s.rest[i]
		}
		s.rest = s.rest[n:]
		b = b[n:]
	}
}

func (s *InnerStream) refill() {
	var counter [16]byte
	copy(counter[:8], innerStreamNonce[:])
	binary.LittleEndian.PutUint64(counter[8:], s.counter)
	for i := range s.block {
		s.block[i] = 0
	}
	salsa.XORKeyStream(s.block[:], s.block[:], &counter, &s.key)
	s.counter++
	s.rest = s.block[:]
}

// Wipe destroys the stream's key material.
func (s *InnerStream) Wipe() {
	for i := range s.key {
		s.key[i] = 0
	}
	for i := range s.block {
		s.block[i] = 0
	}
	s.rest = nil
}

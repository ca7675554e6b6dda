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
	"bytes"
	"testing"
)

var innerStreamTestKey = bytes.Repeat([]byte{0x2a}, 32)

func TestInnerStreamDecryptInversesEncrypt(t *testing.T) {
	messages := [][]byte{
		[]byte(""),
		[]byte("p"),
		[]byte("correct horse battery staple"),
		bytes.Repeat([]byte{0x00, 0xff}, 1000),
	}
	enc := NewInnerStream(innerStreamTestKey)
	dec := NewInnerStream(innerStreamTestKey)
	for _, msg := range messages {
		b := bytes.Clone(msg)
		enc.XORKeyStream(b)
		if len(msg) > 0 && bytes.Equal(b, msg) {
			t.Errorf("keystream left %q unchanged", msg)
		}
		dec.XORKeyStream(b)
		if !bytes.Equal(b, msg) {
			t.Errorf("decrypt(encrypt(%q)) = %q", msg, b)
		}
	}
}

// TestInnerStreamSplitConsumption checks that the keystream position
// carries across calls: many small XORs must equal one big XOR.  The
// whole protected-value ordering discipline rests on this.
func TestInnerStreamSplitConsumption(t *testing.T) {
	msg := bytes.Repeat([]byte("0123456789"), 50)

	whole := bytes.Clone(msg)
	NewInnerStream(innerStreamTestKey).XORKeyStream(whole)

	split := bytes.Clone(msg)
	s := NewInnerStream(innerStreamTestKey)
	for off, n := 0, 0; off < len(split); off += n {
		n = min(37, len(split)-off)
		s.XORKeyStream(split[off : off+n])
	}
	if !bytes.Equal(whole, split) {
		t.Error("split keystream consumption differs from one-shot consumption")
	}
}

func TestInnerStreamKeyed(t *testing.T) {
	msg := []byte("the same message")
	a := bytes.Clone(msg)
	b := bytes.Clone(msg)
	NewInnerStream(innerStreamTestKey).XORKeyStream(a)
	NewInnerStream(bytes.Repeat([]byte{0x2b}, 32)).XORKeyStream(b)
	if bytes.Equal(a, b) {
		t.Error("different stream keys produced the same keystream")
	}
}

func TestInnerStreamWipe(t *testing.T) {
	s := NewInnerStream(innerStreamTestKey)
	s.XORKeyStream(make([]byte, 10))
	s.Wipe()
	if s.key != [32]byte{} {
		t.Error("key not wiped")
	}
}

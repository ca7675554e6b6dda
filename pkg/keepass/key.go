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
	"zombiezen.com/go/kdbx/pkg/kdbxcrypt"
	"zombiezen.com/go/kdbx/pkg/secstr"
)

// A CompositeKey is the 32-byte secret derived from the user's password
// and/or key file.  It unlocks a database and is never written to disk.
type CompositeKey struct {
	raw *secstr.Str
}

// PasswordKey builds a composite key from a password alone.
func PasswordKey(password string) *CompositeKey {
	p := kdbxcrypt.HashPassword([]byte(password))
	defer secstr.Wipe(p)
	raw, err := kdbxcrypt.CompositeKey(p)
	if err != nil {
		panic(err) // one part is always present
	}
	return &CompositeKey{raw: raw}
}

// FileKey builds a composite key from a key file alone.
func FileKey(f *KeyFile) *CompositeKey {
	raw, err := kdbxcrypt.CompositeKey(f.key.Bytes())
	if err != nil {
		panic(err)
	}
	return &CompositeKey{raw: raw}
}

// PasswordAndFileKey builds a composite key from both a password and a
// key file.
func PasswordAndFileKey(password string, f *KeyFile) *CompositeKey {
	p := kdbxcrypt.HashPassword([]byte(password))
	defer secstr.Wipe(p)
	raw, err := kdbxcrypt.CompositeKey(p, f.key.Bytes())
	if err != nil {
		panic(err)
	}
	return &CompositeKey{raw: raw}
}

// Wipe destroys the key material.  The key cannot be used afterwards.
func (k *CompositeKey) Wipe() {
	if k != nil {
		k.raw.Wipe()
	}
}

// bytes returns the raw 32-byte composite key, or ok=false if the key
// is absent or has been wiped.
func (k *CompositeKey) bytes() (b [32]byte, ok bool) {
	if k == nil || k.raw.Len() != len(b) {
		return b, false
	}
	copy(b[:], k.raw.Bytes())
	return b, true
}

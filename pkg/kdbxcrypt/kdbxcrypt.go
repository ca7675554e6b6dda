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

// Package kdbxcrypt encrypts and decrypts data using the KeePass2
// encryption scheme.
package kdbxcrypt // import "zombiezen.com/go/kdbx/pkg/kdbxcrypt"

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"io"
	"sync"

	"zombiezen.com/go/kdbx/pkg/cipherio"
	"zombiezen.com/go/kdbx/pkg/padding"
	"zombiezen.com/go/kdbx/pkg/secstr"
)

// Errors
var (
	ErrEmptyKey = errors.New("kdbxcrypt: no key material")
)

// Block size in bytes.
const BlockSize = 16

// Params specifies the encryption/decryption values.
type Params struct {
	Key             [32]byte // composite key
	MasterSeed      [32]byte
	TransformSeed   [32]byte
	TransformRounds uint64
	IV              [16]byte
}

// masterKey derives the AES-CBC key for the payload: the composite key
// is stretched with TransformRounds of AES-ECB under TransformSeed,
// hashed, and hashed again together with the master seed.
func (p *Params) masterKey() []byte {
	sum := sha256.New()
	sum.Write(p.MasterSeed[:])

	var tk [sha256.Size]byte
	var wg sync.WaitGroup
	wg.Add(2)
	go transformKeyBlock(&wg, tk[:aes.BlockSize], p.Key[:aes.BlockSize], p.TransformSeed[:], p.TransformRounds)
	go transformKeyBlock(&wg, tk[aes.BlockSize:], p.Key[aes.BlockSize:], p.TransformSeed[:], p.TransformRounds)
	wg.Wait()
	tk = sha256.Sum256(tk[:])
	sum.Write(tk[:])
	defer secstr.Wipe(tk[:])

	return sum.Sum(nil)
}

// transformKeyBlock applies rounds of AES encryption using key seed to src
// and stores the result in dst.
func transformKeyBlock(wg *sync.WaitGroup, dst, src, seed []byte, rounds uint64) {
	dst = dst[:aes.BlockSize]
	copy(dst, src)
	c, err := aes.NewCipher(seed)
	if err != nil {
		panic(err)
	}
	for i := uint64(0); i < rounds; i++ {
		c.Encrypt(dst, dst)
	}
	wg.Done()
}

// NewEncrypter creates a new writer that encrypts to w.  Closing the
// new writer writes the final, padded block but does not close w.
func NewEncrypter(w io.Writer, params *Params) (io.WriteCloser, error) {
	key := params.masterKey()
	defer secstr.Wipe(key)
	ciph, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	e := cipher.NewCBCEncrypter(ciph, params.IV[:])
	return cipherio.NewWriter(w, e, padding.PKCS7), nil
}

// NewDecrypter creates a new reader that decrypts and strips padding from r.
func NewDecrypter(r io.Reader, params *Params) (io.Reader, error) {
	key := params.masterKey()
	defer secstr.Wipe(key)
	ciph, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	d := cipher.NewCBCDecrypter(ciph, params.IV[:])
	return cipherio.NewReader(r, d, padding.PKCS7), nil
}

// CompositeKey builds the 32-byte composite key from the given 32-byte
// parts: each part is already hashed or raw key-file material, and the
// composite is the SHA-256 of their concatenation.  At least one part
// must be present.
func CompositeKey(parts ...[]byte) (*secstr.Str, error) {
	if len(parts) == 0 {
		return nil, ErrEmptyKey
	}
	sum := sha256.New()
	for _, p := range parts {
		sum.Write(p)
	}
	return secstr.New(sum.Sum(nil)), nil
}

// HashPassword returns the 32-byte password part of a composite key.
func HashPassword(password []byte) []byte {
	h := sha256.Sum256(password)
	return h[:]
}
